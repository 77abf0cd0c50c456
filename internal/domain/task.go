package domain

import "strings"

// Task table column order.
const (
	colSubject = iota
	colType
	colFormat
	colMaxPoints
	colDate
	colTime
	colGroup
	colBook
	colDetails
	taskColumns
)

type Format int

const (
	FormatUnknown Format = iota
	FormatOnline
	FormatOffline
)

func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online", "онлайн":
		return FormatOnline
	case "offline", "офлайн", "оффлайн":
		return FormatOffline
	default:
		return FormatUnknown
	}
}

func (f Format) String() string {
	switch f {
	case FormatOnline:
		return "Online"
	case FormatOffline:
		return "Offline"
	default:
		return ""
	}
}

type BookType int

const (
	BookUnset BookType = iota
	BookOpen
	BookClosed
)

func ParseBookType(s string) BookType {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(v, "open"):
		return BookOpen
	case strings.HasPrefix(v, "closed"):
		return BookClosed
	default:
		return BookUnset
	}
}

func (b BookType) String() string {
	switch b {
	case BookOpen:
		return "open"
	case BookClosed:
		return "closed"
	default:
		return ""
	}
}

// Task is one row of a group's deadline table.
type Task struct {
	// Row is the 0-based data index in the table, -1 for a task not yet stored.
	Row int

	Subject   string
	Type      string
	Format    Format
	MaxPoints string
	Date      string // DD.MM, no year
	Time      string // HH:MM, a schedule sentinel, or free text
	Group     string
	Book      BookType
	Details   string
}

// ParseTaskRow converts a raw row into a Task. Short rows are padded;
// it never fails, callers decide which fields are required.
func ParseTaskRow(index int, row []string) Task {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	return Task{
		Row:       index,
		Subject:   cell(colSubject),
		Type:      cell(colType),
		Format:    ParseFormat(cell(colFormat)),
		MaxPoints: cell(colMaxPoints),
		Date:      cell(colDate),
		Time:      cell(colTime),
		Group:     cell(colGroup),
		Book:      ParseBookType(cell(colBook)),
		Details:   cell(colDetails),
	}
}

// ParseTaskRows parses a whole table.
func ParseTaskRows(rows [][]string) []Task {
	out := make([]Task, 0, len(rows))
	for i, r := range rows {
		out = append(out, ParseTaskRow(i, r))
	}
	return out
}

// Cells renders the task in table column order.
func (t Task) Cells() []string {
	row := make([]string, taskColumns)
	row[colSubject] = t.Subject
	row[colType] = t.Type
	row[colFormat] = t.Format.String()
	row[colMaxPoints] = t.MaxPoints
	row[colDate] = t.Date
	row[colTime] = t.Time
	row[colGroup] = t.Group
	row[colBook] = t.Book.String()
	row[colDetails] = t.Details
	return row
}

// TimeKind reports how the stored time of the task should be treated.
func (t Task) TimeKind() TimeKind {
	k, _, _ := ClassifyTime(t.Time)
	return k
}
