package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deadlinebot/internal/domain"
	"deadlinebot/internal/records"
	"deadlinebot/internal/reminder"
	"deadlinebot/internal/rowstore"
	"deadlinebot/internal/task/engine"
	"deadlinebot/internal/task/scheduler"
	logx "deadlinebot/pkg/logx"

	"github.com/labstack/echo/v4"
)

// Records is the write side used by the handlers.
type Records interface {
	Groups() []string
	Tasks(ctx context.Context, group string) ([]domain.Task, error)
	AddTask(ctx context.Context, t domain.Task) error
	DeleteTask(ctx context.Context, group string, index int) error
	EnsureUser(ctx context.Context, id int64) (domain.User, bool, error)
	PatchUser(ctx context.Context, id int64, p records.UserPatch) (domain.User, error)
}

type Reminders interface {
	RunSweepOnce(ctx context.Context) reminder.SweepReport
	OnTaskMutated(ctx context.Context, group string) reminder.SweepReport
	OnUserPreferenceChanged(ctx context.Context, userID int64) error
	Preview(ctx context.Context, userID int64) (reminder.Preview, error)
	SendTestReminder(ctx context.Context, userID int64, delay time.Duration) (time.Time, error)
}

type JobLister interface {
	Jobs() []scheduler.JobInfo
}

// EngineStats is satisfied by *engine.Service.
type EngineStats interface {
	Snapshot() engine.Snapshot
}

type Handler struct {
	recs      Records
	reminders Reminders
	jobs      JobLister
	engine    EngineStats
	stats     map[string]func() any
	log       logx.Logger
}

func NewHandler(recs Records, reminders Reminders, jobs JobLister, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{recs: recs, reminders: reminders, jobs: jobs, log: log}
}

// WithEngine adds queue and run history to GET /engine.
func (h *Handler) WithEngine(e EngineStats) *Handler {
	h.engine = e
	return h
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (h *Handler) ListJobs(c echo.Context) error {
	jobs := h.jobs.Jobs()
	return c.JSON(http.StatusOK, echo.Map{
		"count": len(jobs),
		"jobs":  jobs,
	})
}

// WithStats adds a named section to GET /stats.
func (h *Handler) WithStats(name string, fn func() any) *Handler {
	if h.stats == nil {
		h.stats = make(map[string]func() any)
	}
	h.stats[name] = fn
	return h
}

func (h *Handler) Stats(c echo.Context) error {
	out := make(map[string]any, len(h.stats))
	for name, fn := range h.stats {
		out[name] = fn()
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) EngineStatus(c echo.Context) error {
	if h.engine == nil {
		return echo.NewHTTPError(http.StatusNotFound, "engine stats unavailable")
	}
	return c.JSON(http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) Sweep(c echo.Context) error {
	rep := h.reminders.RunSweepOnce(c.Request().Context())
	if rep.Err != nil {
		return httpError(rep.Err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) ListGroups(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"groups": h.recs.Groups()})
}

type taskResponse struct {
	Index     int    `json:"index"`
	Subject   string `json:"subject"`
	Type      string `json:"type"`
	Format    string `json:"format"`
	MaxPoints string `json:"max_points"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Book      string `json:"book"`
	Details   string `json:"details,omitempty"`
}

func (h *Handler) ListTasks(c echo.Context) error {
	group := c.Param("group")
	tasks, err := h.recs.Tasks(c.Request().Context(), group)
	if err != nil {
		return httpError(err)
	}
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse{
			Index:     t.Row,
			Subject:   t.Subject,
			Type:      t.Type,
			Format:    t.Format.String(),
			MaxPoints: t.MaxPoints,
			Date:      t.Date,
			Time:      t.Time,
			Book:      t.Book.String(),
			Details:   t.Details,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"count": len(out),
		"tasks": out,
	})
}

type createTaskRequest struct {
	Subject   string `json:"subject"`
	Type      string `json:"type"`
	Format    string `json:"format"`
	MaxPoints string `json:"max_points"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Book      string `json:"book"`
	Details   string `json:"details"`
}

func (h *Handler) CreateTask(c echo.Context) error {
	var req createTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON payload")
	}
	group := c.Param("group")
	t := domain.Task{
		Row:       -1,
		Subject:   req.Subject,
		Type:      req.Type,
		Format:    domain.ParseFormat(req.Format),
		MaxPoints: req.MaxPoints,
		Date:      strings.TrimSpace(req.Date),
		Time:      strings.TrimSpace(req.Time),
		Group:     group,
		Book:      domain.ParseBookType(req.Book),
		Details:   req.Details,
	}
	ctx := c.Request().Context()
	if err := h.recs.AddTask(ctx, t); err != nil {
		return httpError(err)
	}
	rep := h.reminders.OnTaskMutated(ctx, group)
	return c.JSON(http.StatusCreated, echo.Map{"rescheduled": rep})
}

func (h *Handler) DeleteTask(c echo.Context) error {
	group := c.Param("group")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "index must be a non-negative integer")
	}
	ctx := c.Request().Context()
	if err := h.recs.DeleteTask(ctx, group, index); err != nil {
		return httpError(err)
	}
	rep := h.reminders.OnTaskMutated(ctx, group)
	return c.JSON(http.StatusOK, echo.Map{"rescheduled": rep})
}

type updateUserRequest struct {
	Group     *string `json:"group"`
	Reminders *bool   `json:"reminders"`
	Language  *string `json:"language"`
}

// UpdateUser creates the user if needed, applies the given fields and
// reschedules the user before answering.
func (h *Handler) UpdateUser(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	var req updateUserRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON payload")
	}
	if req.Language != nil {
		switch strings.ToLower(strings.TrimSpace(*req.Language)) {
		case string(domain.LangRU), string(domain.LangEN):
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "language must be ru or en")
		}
	}

	ctx := c.Request().Context()
	u, _, err := h.recs.EnsureUser(ctx, id)
	if err != nil {
		return httpError(err)
	}
	patch := records.UserPatch{Group: req.Group, Reminders: req.Reminders}
	if req.Language != nil {
		lang := domain.ParseLanguage(*req.Language)
		patch.Language = &lang
	}
	if patch.Group != nil || patch.Reminders != nil || patch.Language != nil {
		if u, err = h.recs.PatchUser(ctx, id, patch); err != nil {
			return httpError(err)
		}
	}
	if err := h.reminders.OnUserPreferenceChanged(ctx, id); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":   u.ID,
		"group":     u.Group,
		"reminders": u.RemindersEnabled,
		"language":  u.Language,
	})
}

func (h *Handler) PreviewReminders(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	pv, err := h.reminders.Preview(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pv)
}

func (h *Handler) TestReminder(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	var delay time.Duration
	if v := c.QueryParam("delay"); v != "" {
		if delay, err = time.ParseDuration(v); err != nil || delay < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "delay must be a duration like 5s")
		}
	}
	at, err := h.reminders.SendTestReminder(c.Request().Context(), id, delay)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"user_id": id, "at": at})
}

func userID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "user id must be an integer")
	}
	return id, nil
}

// httpError maps domain and store errors to HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, records.ErrInvalidTask),
		errors.Is(err, records.ErrUnknownGroup),
		errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrInvalidTime):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, records.ErrUserNotFound),
		errors.Is(err, reminder.ErrUserNotFound),
		errors.Is(err, rowstore.ErrRowOutOfRange):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, rowstore.ErrStoreUnavailable),
		errors.Is(err, rowstore.ErrRateLimited):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "row store unavailable").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
