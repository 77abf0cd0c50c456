package deadline

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"deadlinebot/internal/domain"
)

func moscow(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestResolveYearRollover(t *testing.T) {
	t.Parallel()
	loc := moscow(t)
	refs := []time.Time{
		time.Date(2024, 12, 20, 10, 0, 0, 0, loc),
		time.Date(2025, 3, 1, 0, 0, 0, 0, loc),
		time.Date(2025, 7, 15, 23, 30, 0, 0, loc),
	}
	for _, now := range refs {
		for month := 1; month <= 12; month++ {
			for day := 1; day <= domain.DaysIn(month, now.Year()); day++ {
				if month == 2 && day == 29 {
					continue
				}
				date := fmt.Sprintf("%02d.%02d", day, month)
				got, ok := Resolve(date, "12:00", now)
				if !ok {
					t.Fatalf("Resolve(%s) at %s not ok", date, now)
				}
				before := time.Date(now.Year(), time.Month(month), day, 0, 0, 0, 0, loc).Before(
					time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc))
				wantYear := now.Year()
				if before {
					wantYear++
				}
				if got.Year() != wantYear {
					t.Fatalf("Resolve(%s) at %s year = %d, want %d", date, now.Format("2006-01-02"), got.Year(), wantYear)
				}
				if DaysBetween(now, got) < 0 {
					t.Fatalf("Resolve(%s) at %s is before the reference date", date, now)
				}
			}
		}
	}
}

func TestResolveEndOfDay(t *testing.T) {
	t.Parallel()
	loc := moscow(t)
	now := time.Date(2024, 12, 20, 9, 0, 0, 0, loc)
	for _, clock := range []string{"by schedule", "По расписанию", "", "after lunch", "10:00-12:00", "25:61"} {
		got, ok := Resolve("05.01", clock, now)
		if !ok {
			t.Fatalf("Resolve with %q not ok", clock)
		}
		if got.Hour() != 23 || got.Minute() != 59 {
			t.Fatalf("Resolve with %q = %s, want 23:59", clock, got.Format("15:04"))
		}
	}

	got, ok := Resolve("05.01", "08:15", now)
	if !ok || got.Hour() != 8 || got.Minute() != 15 {
		t.Fatalf("exact time not kept: %s ok=%v", got, ok)
	}
	if got.Location() != loc {
		t.Fatalf("location = %v, want %v", got.Location(), loc)
	}
}

func TestResolveInvalid(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	for _, date := range []string{"", "32.01", "1.13", "soon"} {
		if _, ok := Resolve(date, "10:00", now); ok {
			t.Fatalf("Resolve(%q) should fail", date)
		}
	}
	// 2025 and 2026 are not leap years.
	if _, ok := Resolve("29.02", "10:00", now); ok {
		t.Fatal("29.02 must not resolve in a common year")
	}
	leap := time.Date(2028, 1, 10, 12, 0, 0, 0, time.UTC)
	if got, ok := Resolve("29.02", "10:00", leap); !ok || got.Day() != 29 {
		t.Fatalf("29.02 in a leap year: %s ok=%v", got, ok)
	}
}

func TestDaysBetweenAcrossDST(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	from := time.Date(2025, 3, 29, 23, 0, 0, 0, loc)
	to := time.Date(2025, 3, 31, 0, 30, 0, 0, loc)
	if got := DaysBetween(from, to); got != 2 {
		t.Fatalf("DaysBetween = %d, want 2", got)
	}
}

func statsRow(date, clock string) domain.Task {
	return domain.ParseTaskRow(0, []string{"Stats", "HW", "Online", "10", date, clock, "G1", "open", ""})
}

func TestBuildExamples(t *testing.T) {
	t.Parallel()
	loc := moscow(t)
	task := statsRow("05.01", "by schedule")

	early := time.Date(2024, 12, 20, 12, 0, 0, 0, loc)
	if got := Build([]domain.Task{task}, "G1", early); len(got) != 0 {
		t.Fatalf("16 days out must be excluded, got %+v", got)
	}

	late := time.Date(2024, 12, 31, 12, 0, 0, 0, loc)
	got := Build([]domain.Task{task}, "G1", late)
	if len(got) != 1 {
		t.Fatalf("expected one item, got %d", len(got))
	}
	want := time.Date(2025, 1, 5, 23, 59, 0, 0, loc)
	if !got[0].Deadline.Equal(want) || got[0].DaysLeft != 5 {
		t.Fatalf("item = %s days=%d, want %s days=5", got[0].Deadline, got[0].DaysLeft, want)
	}
}

func TestBuildSkipsMalformedAndForeignRows(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	tasks := []domain.Task{
		statsRow("", "10:00"),
		domain.ParseTaskRow(1, []string{"", "HW", "", "", "03.04", "", "G1"}),
		statsRow("99.99", "10:00"),
		domain.ParseTaskRow(3, []string{"Physics", "Lab", "", "", "02.04", "", "G2"}),
		domain.ParseTaskRow(4, []string{"Algebra", "Quiz", "", "", "02.04", "10:00", "G1"}),
	}
	got := Build(tasks, "G1", now)
	if len(got) != 1 || got[0].Task.Subject != "Algebra" {
		t.Fatalf("unexpected items: %+v", got)
	}
}

func TestBuildExcludesPassedTimeToday(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	tasks := []domain.Task{
		statsRow("01.04", "10:00"),
		statsRow("01.04", "by schedule"),
	}
	got := Build(tasks, "G1", now)
	if len(got) != 1 || got[0].Task.Time != "by schedule" || got[0].DaysLeft != 0 {
		t.Fatalf("unexpected items: %+v", got)
	}
}

func TestBuildOrdering(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	mk := func(subject, date, clock string) domain.Task {
		return domain.ParseTaskRow(0, []string{subject, "", "", "", date, clock, "G1"})
	}
	tasks := []domain.Task{
		mk("c", "05.04", "09:00"),
		mk("b", "02.04", "by schedule"),
		mk("a", "02.04", "10:00"),
		mk("d", "01.04", "18:00"),
	}
	got := Build(tasks, "G1", now)
	order := ""
	for _, it := range got {
		order += it.Task.Subject
	}
	if order != "dabc" {
		t.Fatalf("order = %q, want dabc", order)
	}
}

func TestBuildWindowProperty(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	clocks := []string{"00:00", "09:30", "23:59", "by schedule", "", "junk"}
	for i := 0; i < 200; i++ {
		now := time.Date(2024, time.Month(1+rng.Intn(12)), 1+rng.Intn(28), rng.Intn(24), rng.Intn(60), 0, 0, time.UTC)
		tasks := make([]domain.Task, 0, 40)
		for j := 0; j < 40; j++ {
			date := fmt.Sprintf("%02d.%02d", 1+rng.Intn(31), 1+rng.Intn(12))
			tasks = append(tasks, domain.ParseTaskRow(j, []string{"s", "", "", "", date, clocks[rng.Intn(len(clocks))], "G"}))
		}
		for _, it := range Build(tasks, "G", now) {
			if it.DaysLeft < 0 || it.DaysLeft > Horizon {
				t.Fatalf("daysLeft %d out of window (now=%s date=%s)", it.DaysLeft, now, it.Task.Date)
			}
			if !it.Deadline.After(now) {
				t.Fatalf("deadline %s not after now %s", it.Deadline, now)
			}
		}
	}
}
