package deadline

import (
	"sort"
	"strings"
	"time"

	"deadlinebot/internal/domain"
)

// Horizon is the last daysLeft value that still appears in a digest.
const Horizon = 10

// Item is one digest entry.
type Item struct {
	Task     domain.Task
	DaysLeft int
	Deadline time.Time
}

// Build selects the tasks of group that are due within the horizon, sorted
// by daysLeft and then by deadline. Rows without a subject or a date, rows
// whose date does not resolve, and deadlines that are not after now are
// skipped.
func Build(tasks []domain.Task, group string, now time.Time) []Item {
	group = strings.TrimSpace(group)
	out := make([]Item, 0, len(tasks))
	for _, t := range tasks {
		if t.Group != group {
			continue
		}
		if t.Subject == "" || t.Date == "" {
			continue
		}
		at, ok := Resolve(t.Date, t.Time, now)
		if !ok || !at.After(now) {
			continue
		}
		days := DaysBetween(now, at)
		if days < 0 || days > Horizon {
			continue
		}
		out = append(out, Item{Task: t, DaysLeft: days, Deadline: at})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DaysLeft != out[j].DaysLeft {
			return out[i].DaysLeft < out[j].DaysLeft
		}
		return out[i].Deadline.Before(out[j].Deadline)
	})
	return out
}
