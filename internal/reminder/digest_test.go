package reminder

import (
	"strings"
	"testing"

	"deadlinebot/internal/deadline"
	"deadlinebot/internal/domain"
)

func TestRuPlural(t *testing.T) {
	t.Parallel()
	tests := map[int]string{
		1: "день", 2: "дня", 4: "дня", 5: "дней", 10: "дней",
		11: "дней", 12: "дней", 14: "дней", 21: "день", 22: "дня", 101: "день", 111: "дней",
	}
	for n, want := range tests {
		if got := ruPlural(n, "день", "дня", "дней"); got != want {
			t.Errorf("ruPlural(%d) = %q, want %q", n, got, want)
		}
	}
}

func item(subject, date, clock string, days int) deadline.Item {
	return deadline.Item{Task: task(subject, date, clock, "G1"), DaysLeft: days}
}

func TestRenderGroupsByDaysLeft(t *testing.T) {
	t.Parallel()
	items := []deadline.Item{
		item("Algebra", "01.03", "10:00", 0),
		item("Physics", "02.03", "по расписанию", 1),
		item("History", "02.03", "", 1),
		item("Drawing", "06.03", "12:30", 5),
	}
	got := Render(domain.LangRU, items)

	order := []string{"*СЕГОДНЯ*", "Algebra", "*ЗАВТРА*", "Physics", "History", "*ЧЕРЕЗ 5 ДНЕЙ*", "Drawing", "СЕГОДНЯ!"}
	pos := 0
	for _, want := range order {
		i := strings.Index(got[pos:], want)
		if i < 0 {
			t.Fatalf("%q missing or out of order in:\n%s", want, got)
		}
		pos += i + len(want)
	}
	if strings.Count(got, "*ЗАВТРА*") != 1 {
		t.Fatalf("tomorrow header repeated:\n%s", got)
	}
	if !strings.Contains(got, "⏰ По расписанию") || !strings.Contains(got, "⏰ до конца дня") {
		t.Fatalf("non-exact times not labelled:\n%s", got)
	}
}

func TestRenderFooter(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		items []deadline.Item
		want  string
	}{
		{"today", []deadline.Item{item("A", "01.03", "10:00", 0), item("B", "03.03", "10:00", 2)}, "due TODAY"},
		{"tomorrow", []deadline.Item{item("A", "02.03", "10:00", 1)}, "due tomorrow"},
		{"later", []deadline.Item{item("A", "05.03", "10:00", 4)}, "Plan ahead"},
		{"empty", nil, "No upcoming deadlines"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Render(domain.LangEN, tt.items)
			if !strings.HasPrefix(got, "🔔 *UPCOMING DEADLINES*") || !strings.Contains(got, tt.want) {
				t.Fatalf("render:\n%s", got)
			}
		})
	}
}

func TestRenderEscapesMarkdown(t *testing.T) {
	t.Parallel()
	got := Render(domain.LangEN, []deadline.Item{item("Data_Science *2*", "05.03", "10:00", 1)})
	if !strings.Contains(got, `*Data\_Science \*2\**`) {
		t.Fatalf("subject not escaped:\n%s", got)
	}
}

func TestRenderUnknownLanguageFallsBackToRussian(t *testing.T) {
	t.Parallel()
	if got := Render(domain.Language("de"), nil); !strings.Contains(got, "ПРЕДСТОЯЩИЕ") {
		t.Fatalf("render = %q", got)
	}
}
