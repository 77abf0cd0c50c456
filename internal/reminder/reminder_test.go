package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"deadlinebot/internal/deadline"
	"deadlinebot/internal/domain"
	"deadlinebot/internal/task/engine"
	logx "deadlinebot/pkg/logx"
)

type fakeRecords struct {
	mu       sync.Mutex
	users    []domain.User
	tasks    map[string][]domain.Task
	usersErr error
	tasksErr map[string]error
	onUser   func()
}

func (f *fakeRecords) Users(context.Context) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	return append([]domain.User(nil), f.users...), nil
}

func (f *fakeRecords) User(ctx context.Context, id int64) (domain.User, bool, error) {
	if f.onUser != nil {
		f.onUser()
	}
	users, err := f.Users(ctx)
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

func (f *fakeRecords) Tasks(_ context.Context, group string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.tasksErr[group]; err != nil {
		return nil, err
	}
	return append([]domain.Task(nil), f.tasks[group]...), nil
}

func (f *fakeRecords) setUser(u domain.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.users {
		if f.users[i].ID == u.ID {
			f.users[i] = u
			return
		}
	}
	f.users = append(f.users, u)
}

type job struct {
	first   time.Time
	payload any
	fn      func(context.Context, any) error
	once    bool
}

type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[string]job
	creates   int
	failDaily error
}

func newFakeJobs() *fakeJobs { return &fakeJobs{jobs: map[string]job{}} }

func (f *fakeJobs) ScheduleDaily(name string, first time.Time, payload any, fn func(context.Context, any) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDaily != nil {
		return f.failDaily
	}
	f.creates++
	f.jobs[name] = job{first: first, payload: payload, fn: fn}
	return nil
}

func (f *fakeJobs) ScheduleOnce(name string, at time.Time, payload any, fn func(context.Context, any) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[name] = job{first: at, payload: payload, fn: fn, once: true}
	return nil
}

func (f *fakeJobs) CancelAllNamed(match func(string) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for name := range f.jobs {
		if match(name) {
			delete(f.jobs, name)
			n++
		}
	}
	return n
}

func (f *fakeJobs) get(name string) (job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[name]
	return j, ok
}

func (f *fakeJobs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type sent struct {
	userID int64
	scope  string
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []sent
}

func (f *fakeNotifier) Send(_ context.Context, userID int64, scope, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{userID, scope, text})
	return nil
}

var msk = time.FixedZone("MSK", 3*3600)

func task(subject, date, clock, group string) domain.Task {
	return domain.ParseTaskRow(0, []string{subject, "HW", "Online", "10", date, clock, group, "open", ""})
}

func user(id int64, group string, enabled bool) domain.User {
	u := domain.NewUser(id)
	u.Group = group
	u.RemindersEnabled = enabled
	return u
}

type fixture struct {
	svc    *Service
	recs   *fakeRecords
	jobs   *fakeJobs
	notify *fakeNotifier
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		recs:   &fakeRecords{tasks: map[string][]domain.Task{}, tasksErr: map[string]error{}},
		jobs:   newFakeJobs(),
		notify: &fakeNotifier{},
	}
	svc, err := New(Config{DailyAt: "09:00", Location: msk}, f.recs, f.jobs, f.notify, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.now = func() time.Time { return now }
	f.svc = svc
	return f
}

func payloadOf(t *testing.T, j job) Payload {
	t.Helper()
	p, ok := j.payload.(Payload)
	if !ok {
		t.Fatalf("payload has type %T", j.payload)
	}
	return p
}

func TestRescheduleWorkedExamples(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		now      time.Time
		wantJob  bool
		wantDays int
	}{
		{"outside window", time.Date(2024, 12, 20, 12, 0, 0, 0, msk), false, 0},
		{"year rollover within window", time.Date(2024, 12, 31, 12, 0, 0, 0, msk), true, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.now)
			f.recs.users = []domain.User{user(1, "G1", true)}
			f.recs.tasks["G1"] = []domain.Task{task("Stats", "05.01", "по расписанию", "G1")}

			if err := f.svc.Reschedule(context.Background(), 1); err != nil {
				t.Fatalf("Reschedule: %v", err)
			}
			j, ok := f.jobs.get(JobName(1))
			if ok != tt.wantJob {
				t.Fatalf("job present = %v, want %v", ok, tt.wantJob)
			}
			if !ok {
				return
			}
			p := payloadOf(t, j)
			if len(p.Items) != 1 || p.Items[0].DaysLeft != tt.wantDays {
				t.Fatalf("items = %+v", p.Items)
			}
			want := time.Date(2025, 1, 5, 23, 59, 0, 0, msk)
			if !p.Items[0].Deadline.Equal(want) {
				t.Fatalf("deadline = %s, want %s", p.Items[0].Deadline, want)
			}
		})
	}
}

func TestRescheduleTwiceLeavesOneFreshJob(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, msk)
	f := newFixture(t, now)
	f.recs.users = []domain.User{user(1, "G1", true)}
	f.recs.tasks["G1"] = []domain.Task{task("Algebra", "03.03", "10:00", "G1")}

	ctx := context.Background()
	if err := f.svc.Reschedule(ctx, 1); err != nil {
		t.Fatal(err)
	}
	f.recs.mu.Lock()
	f.recs.tasks["G1"] = append(f.recs.tasks["G1"], task("Physics", "02.03", "", "G1"))
	f.recs.mu.Unlock()
	if err := f.svc.Reschedule(ctx, 1); err != nil {
		t.Fatal(err)
	}

	if n := f.jobs.count(); n != 1 {
		t.Fatalf("jobs = %d, want 1", n)
	}
	p := payloadOf(t, f.jobs.jobs[JobName(1)])
	if len(p.Items) != 2 || p.Items[0].Task.Subject != "Physics" || p.Items[1].Task.Subject != "Algebra" {
		t.Fatalf("payload items = %+v", p.Items)
	}
}

func TestRescheduleFirstFire(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before daily time", time.Date(2025, 3, 1, 8, 0, 0, 0, msk), time.Date(2025, 3, 1, 9, 0, 0, 0, msk)},
		{"after daily time", time.Date(2025, 3, 1, 10, 0, 0, 0, msk), time.Date(2025, 3, 2, 9, 0, 0, 0, msk)},
		{"exactly at daily time", time.Date(2025, 3, 1, 9, 0, 0, 0, msk), time.Date(2025, 3, 2, 9, 0, 0, 0, msk)},
		{"month end", time.Date(2025, 3, 31, 22, 0, 0, 0, msk), time.Date(2025, 4, 1, 9, 0, 0, 0, msk)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tt.now)
			f.recs.users = []domain.User{user(1, "G1", true)}
			f.recs.tasks["G1"] = []domain.Task{task("Algebra", tt.now.AddDate(0, 0, 3).Format("02.01"), "10:00", "G1")}
			if err := f.svc.Reschedule(context.Background(), 1); err != nil {
				t.Fatal(err)
			}
			j, ok := f.jobs.get(JobName(1))
			if !ok || !j.first.Equal(tt.want) {
				t.Fatalf("first fire = %s, want %s", j.first, tt.want)
			}
		})
	}
}

func TestRescheduleSlowReadKeepsTodaysFire(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	now := time.Date(2024, 12, 31, 8, 59, 59, 0, msk)
	f := newFixture(t, now)
	f.svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	f.recs.onUser = func() {
		mu.Lock()
		now = now.Add(2 * time.Second)
		mu.Unlock()
	}
	f.recs.users = []domain.User{user(1, "G1", true)}
	f.recs.tasks["G1"] = []domain.Task{task("Algebra", "02.01", "10:00", "G1")}

	if err := f.svc.Reschedule(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	j, ok := f.jobs.get(JobName(1))
	if !ok {
		t.Fatal("no job registered")
	}
	want := time.Date(2024, 12, 31, 9, 0, 0, 0, msk)
	if !j.first.Equal(want) {
		t.Fatalf("first fire = %s, want %s", j.first, want)
	}
}

func TestRescheduleLeavesNoJob(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, msk)
	tests := []struct {
		name string
		user *domain.User
		want Outcome
	}{
		{"disabled", ptr(user(1, "G1", false)), OutcomeDisabled},
		{"no group", ptr(user(1, "", true)), OutcomeNoGroup},
		{"unknown user", nil, OutcomeNoUser},
		{"nothing upcoming", ptr(user(1, "G2", true)), OutcomeEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, now)
			if tt.user != nil {
				f.recs.users = []domain.User{*tt.user}
			}
			f.recs.tasks["G1"] = []domain.Task{task("Algebra", "03.03", "10:00", "G1")}
			// A stale job from an earlier state must be removed.
			_ = f.jobs.ScheduleDaily(JobName(1), now, nil, nil)

			o, err := f.svc.reschedule(context.Background(), 1)
			if err != nil {
				t.Fatal(err)
			}
			if o != tt.want {
				t.Fatalf("outcome = %s, want %s", o, tt.want)
			}
			if n := f.jobs.count(); n != 0 {
				t.Fatalf("jobs = %d, want 0", n)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestRescheduleSkipsMalformedRows(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Date(2025, 3, 1, 12, 0, 0, 0, msk))
	f.recs.users = []domain.User{user(1, "G1", true)}
	f.recs.tasks["G1"] = []domain.Task{
		task("Broken", "", "10:00", "G1"),
		task("Garbage", "99.99", "10:00", "G1"),
		task("", "02.03", "10:00", "G1"),
		task("Algebra", "03.03", "10:00", "G1"),
	}
	if err := f.svc.Reschedule(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	j, ok := f.jobs.get(JobName(1))
	if !ok {
		t.Fatal("no job scheduled")
	}
	if p := payloadOf(t, j); len(p.Items) != 1 || p.Items[0].Task.Subject != "Algebra" {
		t.Fatalf("items = %+v", p.Items)
	}
}

func TestRescheduleStoreErrorLeavesNoJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Date(2025, 3, 1, 12, 0, 0, 0, msk))
	f.recs.users = []domain.User{user(1, "G1", true)}
	_ = f.jobs.ScheduleDaily(JobName(1), time.Now(), nil, nil)
	boom := errors.New("store unavailable")
	f.recs.tasksErr["G1"] = boom

	if err := f.svc.Reschedule(context.Background(), 1); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if f.jobs.count() != 0 {
		t.Fatal("old job survived a failed reschedule")
	}
}

func TestConcurrentRescheduleSameUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Date(2025, 3, 1, 12, 0, 0, 0, msk))
	f.recs.users = []domain.User{user(1, "G1", true), user(2, "G1", true)}
	f.recs.tasks["G1"] = []domain.Task{task("Algebra", "03.03", "10:00", "G1")}

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.svc.Reschedule(context.Background(), int64(1+i%2))
		}()
	}
	wg.Wait()
	if n := f.jobs.count(); n != 2 {
		t.Fatalf("jobs = %d, want one per user", n)
	}
	if n := f.svc.users.size(); n != 0 {
		t.Fatalf("keyed locks leaked: %d", n)
	}
}

func TestRunSweepOnceContinuesPastFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Date(2025, 3, 1, 12, 0, 0, 0, msk))
	f.recs.users = []domain.User{
		user(1, "G1", true),
		user(2, "BAD", true),
		user(3, "G1", false),
		user(4, "G2", true),
		user(5, "G1", true),
	}
	f.recs.tasks["G1"] = []domain.Task{task("Algebra", "03.03", "10:00", "G1")}
	f.recs.tasksErr["BAD"] = errors.New("rate limited")

	rep := f.svc.RunSweepOnce(context.Background())
	if rep.Users != 4 || rep.Scheduled != 2 || rep.Empty != 1 || rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
	for _, id := range []int64{1, 5} {
		if _, ok := f.jobs.get(JobName(id)); !ok {
			t.Fatalf("user %d has no job", id)
		}
	}
}

func TestRunSweepOnceUsersError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Now())
	f.recs.usersErr = errors.New("down")
	if rep := f.svc.RunSweepOnce(context.Background()); rep.Err == nil || rep.Users != 0 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestOnTaskMutatedTouchesOnlyGroup(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Date(2025, 3, 1, 12, 0, 0, 0, msk))
	f.recs.users = []domain.User{user(1, "G1", true), user(2, "G2", true)}
	f.recs.tasks["G1"] = []domain.Task{task("Algebra", "03.03", "10:00", "G1")}
	f.recs.tasks["G2"] = []domain.Task{task("Drawing", "03.03", "10:00", "G2")}

	rep := f.svc.OnTaskMutated(context.Background(), "G1")
	if rep.Users != 1 || rep.Scheduled != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if _, ok := f.jobs.get(JobName(2)); ok {
		t.Fatal("user of another group was rescheduled")
	}
}

func TestOnUserPreferenceChanged(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Date(2025, 3, 1, 12, 0, 0, 0, msk))
	f.recs.users = []domain.User{user(1, "G1", true)}
	f.recs.tasks["G1"] = []domain.Task{task("Algebra", "03.03", "10:00", "G1")}
	ctx := context.Background()

	if err := f.svc.OnUserPreferenceChanged(ctx, 1); err != nil {
		t.Fatal(err)
	}
	f.recs.setUser(user(1, "G1", false))
	if err := f.svc.OnUserPreferenceChanged(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if f.jobs.count() != 0 {
		t.Fatal("job left after reminders were disabled")
	}

	f.jobs.failDaily = errors.New("scheduler rejected")
	f.recs.setUser(user(1, "G1", true))
	if err := f.svc.OnUserPreferenceChanged(ctx, 1); err == nil {
		t.Fatal("expected scheduling error")
	}
}

func TestFireSendsDigestOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Date(2025, 3, 1, 12, 0, 0, 0, msk))
	u := user(1, "G1", true)
	u.Language = domain.LangEN
	f.recs.users = []domain.User{u}
	f.recs.tasks["G1"] = []domain.Task{task("Algebra", "03.03", "10:00", "G1")}
	if err := f.svc.Reschedule(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	j, _ := f.jobs.get(JobName(1))
	if err := j.fn(context.Background(), j.payload); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if len(f.notify.sent) != 1 || f.notify.sent[0].userID != 1 {
		t.Fatalf("sent = %+v", f.notify.sent)
	}
	if !strings.Contains(f.notify.sent[0].text, "*IN 2 DAYS*") {
		t.Fatalf("digest = %q", f.notify.sent[0].text)
	}
}

func TestFireNotifierErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Now())
	f.notify.err = errors.New("telegram down")
	p := Payload{UserID: 1, Language: domain.LangRU, Items: nil}
	if err := f.svc.fire(context.Background(), p); err != nil {
		t.Fatalf("empty payload should be a no-op, got %v", err)
	}
	p.Items = []deadline.Item{{Task: task("Algebra", "01.03", "", "G1"), DaysLeft: 0}}
	err := f.svc.fire(context.Background(), p)
	if err == nil || !engine.IsNoRetry(err) {
		t.Fatalf("err = %v, want no-retry", err)
	}
	if err := f.svc.fire(context.Background(), "junk"); !engine.IsNoRetry(err) {
		t.Fatalf("bad payload err = %v", err)
	}
}

func TestDailyAndTestDigestUseSeparateScopes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Date(2025, 3, 1, 9, 0, 0, 0, msk))
	p := Payload{UserID: 1, Language: domain.LangRU, Items: []deadline.Item{{Task: task("Algebra", "03.03", "10:00", "G1"), DaysLeft: 2}}}
	if err := f.svc.fire(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.fireTest(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if len(f.notify.sent) != 2 {
		t.Fatalf("sent = %+v", f.notify.sent)
	}
	if f.notify.sent[0].text != f.notify.sent[1].text {
		t.Fatal("daily and test digests of one set should render the same")
	}
	if f.notify.sent[0].scope != JobName(1) || f.notify.sent[1].scope != TestJobName(1) {
		t.Fatalf("scopes = %q, %q", f.notify.sent[0].scope, f.notify.sent[1].scope)
	}
}

func TestSendTestReminder(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, msk)
	f := newFixture(t, now)
	f.recs.users = []domain.User{user(1, "G1", true)}

	at, err := f.svc.SendTestReminder(context.Background(), 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !at.Equal(now.Add(DefaultTestDelay)) {
		t.Fatalf("at = %s", at)
	}
	j, ok := f.jobs.get(TestJobName(1))
	if !ok || !j.once {
		t.Fatal("test job not scheduled")
	}
	if err := j.fn(context.Background(), j.payload); err != nil {
		t.Fatal(err)
	}
	if len(f.notify.sent) != 1 || !strings.Contains(f.notify.sent[0].text, "Ближайших дедлайнов нет") {
		t.Fatalf("sent = %+v", f.notify.sent)
	}

	// The daily job name is never matched by the test job.
	if err := f.svc.Reschedule(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.jobs.get(TestJobName(1)); !ok {
		t.Fatal("reschedule cancelled the test job")
	}

	if _, err := f.svc.SendTestReminder(context.Background(), 99, time.Second); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user err = %v", err)
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, msk)
	f := newFixture(t, now)
	f.recs.users = []domain.User{user(1, "G1", true), user(2, "G1", false)}
	f.recs.tasks["G1"] = []domain.Task{task("Algebra", "01.03", "18:00", "G1")}

	pv, err := f.svc.Preview(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(pv.Items) != 1 || !strings.Contains(pv.Text, "*СЕГОДНЯ*") {
		t.Fatalf("preview = %+v", pv)
	}
	if !pv.NextFire.Equal(time.Date(2025, 3, 2, 9, 0, 0, 0, msk)) {
		t.Fatalf("next fire = %s", pv.NextFire)
	}
	if f.jobs.count() != 0 {
		t.Fatal("preview scheduled a job")
	}

	pv, err = f.svc.Preview(context.Background(), 2)
	if err != nil || !pv.NextFire.IsZero() {
		t.Fatalf("disabled preview = %+v, %v", pv, err)
	}
}

type fakeRegistrar struct {
	every time.Duration
	daily string
	jobs  []func(context.Context) error
}

func (r *fakeRegistrar) AddInterval(_ string, every, _ time.Duration, job func(context.Context) error) error {
	r.every = every
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *fakeRegistrar) AddDaily(_ string, at string, _ time.Duration, job func(context.Context) error) error {
	r.daily = at
	r.jobs = append(r.jobs, job)
	return nil
}

func TestRegisterSweepsDefaults(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Date(2025, 3, 1, 12, 0, 0, 0, msk))
	f.recs.users = []domain.User{user(1, "G1", true)}
	f.recs.tasks["G1"] = []domain.Task{task("Algebra", "03.03", "10:00", "G1")}

	var r fakeRegistrar
	if err := f.svc.RegisterSweeps(&r, 0, "", 0); err != nil {
		t.Fatal(err)
	}
	if r.every != 5*time.Minute || r.daily != "00:05" || len(r.jobs) != 2 {
		t.Fatalf("registrar = %+v", r)
	}
	if err := r.jobs[0](context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.jobs.count() != 1 {
		t.Fatal("sweep job did not reschedule")
	}
}

func TestJobNames(t *testing.T) {
	t.Parallel()
	if JobName(42) != "reminder:user:42" || TestJobName(42) != "test-reminder:42" {
		t.Fatal("unexpected job names")
	}
	if id, ok := ParseJobName("reminder:user:42"); !ok || id != 42 {
		t.Fatal("ParseJobName failed")
	}
	for _, name := range []string{"test-reminder:42", "reminder:user:", "reminder:user:4x"} {
		if _, ok := ParseJobName(name); ok {
			t.Fatalf("ParseJobName(%q) should fail", name)
		}
	}
}

func TestApplyRejectsBadDailyTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Now())
	if err := f.svc.Apply(Config{DailyAt: "25:00"}); err == nil {
		t.Fatal("expected error")
	}
}
