// Package records maps row store tables to typed users and tasks.
//
// Users live in the "users" table. Tasks live in one table per group,
// named by the group id.
package records

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"deadlinebot/internal/domain"
	"deadlinebot/internal/rowstore"
	logx "deadlinebot/pkg/logx"
)

const UsersTable = "users"

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUnknownGroup = errors.New("unknown group")
	ErrInvalidTask  = errors.New("invalid task")
)

var (
	usersHeader = []string{"user_id", "group", "reminders", "language", "feedback", "curator", "professor", "superadmin"}
	tasksHeader = []string{"subject", "type", "format", "max_points", "date", "time", "group", "book", "details"}
)

// Headers returns the header row for a table, used by backends that keep one.
func Headers(table string) []string {
	if table == UsersTable {
		return append([]string(nil), usersHeader...)
	}
	return append([]string(nil), tasksHeader...)
}

// Repo reads through store, normally a rowcache.Cache. User updates are
// delete+append and are serialized so concurrent updates never target a
// stale row index.
type Repo struct {
	store  rowstore.Store
	log    logx.Logger
	groups map[string]struct{}

	writeMu sync.Mutex
}

func New(store rowstore.Store, log logx.Logger) *Repo {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Repo{store: store, log: log}
}

// SetGroups restricts task and group writes to the given ids. An empty
// list allows any group.
func (r *Repo) SetGroups(groups []string) {
	m := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if g = strings.TrimSpace(g); g != "" {
			m[g] = struct{}{}
		}
	}
	r.writeMu.Lock()
	r.groups = m
	r.writeMu.Unlock()
}

// Groups returns the configured group ids, sorted.
func (r *Repo) Groups() []string {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	out := make([]string, 0, len(r.groups))
	for g := range r.groups {
		out = append(out, g)
	}
	slices.Sort(out)
	return out
}

func (r *Repo) knownGroupLocked(group string) bool {
	if len(r.groups) == 0 {
		return group != ""
	}
	_, ok := r.groups[group]
	return ok
}

// Users returns every parseable user row. Malformed rows are logged and
// skipped.
func (r *Repo) Users(ctx context.Context) ([]domain.User, error) {
	rows, err := r.store.ReadTable(ctx, UsersTable)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	out := make([]domain.User, 0, len(rows))
	seen := make(map[int64]struct{}, len(rows))
	for i, row := range rows {
		u, err := domain.ParseUserRow(i, row)
		if err != nil {
			r.log.Debug("skipping malformed user row", logx.Int("row", i), logx.Err(err))
			continue
		}
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		out = append(out, u)
	}
	return out, nil
}

// User returns the first row for id.
func (r *Repo) User(ctx context.Context, id int64) (domain.User, bool, error) {
	users, err := r.Users(ctx)
	if err != nil {
		return domain.User{}, false, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

// Tasks returns the rows of a group's table. Rows are parsed leniently;
// the builder decides what is usable.
func (r *Repo) Tasks(ctx context.Context, group string) ([]domain.Task, error) {
	group = strings.TrimSpace(group)
	if group == "" {
		return nil, nil
	}
	rows, err := r.store.ReadTable(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("read tasks of %s: %w", group, err)
	}
	return domain.ParseTaskRows(rows), nil
}

// AddTask validates t and appends it to its group's table.
func (r *Repo) AddTask(ctx context.Context, t domain.Task) error {
	t.Subject = strings.TrimSpace(t.Subject)
	t.Group = strings.TrimSpace(t.Group)
	if t.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidTask)
	}
	if err := domain.ValidateDate(t.Date); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	if strings.TrimSpace(t.Time) != "" {
		if err := domain.ValidateTime(t.Time); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTask, err)
		}
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if !r.knownGroupLocked(t.Group) {
		return fmt.Errorf("%w: %q", ErrUnknownGroup, t.Group)
	}
	if err := r.store.AppendRow(ctx, t.Group, t.Cells()); err != nil {
		return fmt.Errorf("append task: %w", err)
	}
	r.log.Info("task added", logx.Group(t.Group), logx.String("subject", t.Subject), logx.String("date", t.Date))
	return nil
}

// DeleteTask removes the task at a 0-based data index.
func (r *Repo) DeleteTask(ctx context.Context, group string, index int) error {
	group = strings.TrimSpace(group)
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if !r.knownGroupLocked(group) {
		return fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}
	if err := r.store.DeleteRow(ctx, group, index); err != nil {
		return fmt.Errorf("delete task %d of %s: %w", index, group, err)
	}
	r.log.Info("task deleted", logx.Group(group), logx.Int("row", index))
	return nil
}

// EnsureUser returns the user, creating it with defaults when missing.
func (r *Repo) EnsureUser(ctx context.Context, id int64) (domain.User, bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	u, ok, err := r.User(ctx, id)
	if err != nil {
		return domain.User{}, false, err
	}
	if ok {
		return u, false, nil
	}
	u = domain.NewUser(id)
	if err := r.store.AppendRow(ctx, UsersTable, u.Cells()); err != nil {
		return domain.User{}, false, fmt.Errorf("create user: %w", err)
	}
	r.log.Info("user created", logx.UserID(id))
	return u, true, nil
}

func (r *Repo) SetGroup(ctx context.Context, id int64, group string) error {
	_, err := r.PatchUser(ctx, id, UserPatch{Group: &group})
	return err
}

func (r *Repo) SetReminders(ctx context.Context, id int64, enabled bool) error {
	_, err := r.PatchUser(ctx, id, UserPatch{Reminders: &enabled})
	return err
}

func (r *Repo) SetLanguage(ctx context.Context, id int64, lang domain.Language) error {
	_, err := r.PatchUser(ctx, id, UserPatch{Language: &lang})
	return err
}

// UserPatch holds optional user field updates. Nil fields are left as is.
type UserPatch struct {
	Group     *string
	Reminders *bool
	Language  *domain.Language
}

// PatchUser applies p in a single row rewrite and returns the stored user.
// An empty group clears the assignment.
func (r *Repo) PatchUser(ctx context.Context, id int64, p UserPatch) (domain.User, error) {
	return r.updateUser(ctx, id, func(u *domain.User) error {
		if p.Group != nil {
			group := strings.TrimSpace(*p.Group)
			if group != "" && !r.knownGroupLocked(group) {
				return fmt.Errorf("%w: %q", ErrUnknownGroup, group)
			}
			u.Group = group
		}
		if p.Reminders != nil {
			u.RemindersEnabled = *p.Reminders
		}
		if p.Language != nil {
			u.Language = *p.Language
		}
		return nil
	})
}

// updateUser rewrites a user row as delete+append. The row store has no
// in-place update.
func (r *Repo) updateUser(ctx context.Context, id int64, mutate func(*domain.User) error) (domain.User, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	u, ok, err := r.User(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	if err := mutate(&u); err != nil {
		return domain.User{}, err
	}
	if err := r.store.DeleteRow(ctx, UsersTable, u.Row); err != nil {
		return domain.User{}, fmt.Errorf("update user %d: %w", id, err)
	}
	if err := r.store.AppendRow(ctx, UsersTable, u.Cells()); err != nil {
		// The old row is gone; surface loudly so the operator can restore it.
		r.log.Error("user row lost during update", logx.UserID(id), logx.Any("cells", u.Cells()), logx.Err(err))
		return domain.User{}, fmt.Errorf("update user %d: %w", id, err)
	}
	r.log.Debug("user updated", logx.UserID(id))
	return u, nil
}
