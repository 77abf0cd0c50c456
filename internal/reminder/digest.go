package reminder

import (
	"fmt"
	"strings"

	"deadlinebot/internal/deadline"
	"deadlinebot/internal/domain"
)

type digestText struct {
	title      string
	today      string
	tomorrow   string
	inDays     func(n int) string
	bySchedule string
	endOfDay   string
	empty      string
	urgent     string
	soon       string
	planAhead  string
	book       map[domain.BookType]string
}

var digestTexts = map[domain.Language]digestText{
	domain.LangRU: {
		title:      "🔔 *ПРЕДСТОЯЩИЕ ДЕДЛАЙНЫ*",
		today:      "*СЕГОДНЯ*",
		tomorrow:   "*ЗАВТРА*",
		inDays:     func(n int) string { return fmt.Sprintf("*ЧЕРЕЗ %d %s*", n, strings.ToUpper(ruPlural(n, "день", "дня", "дней"))) },
		bySchedule: "По расписанию",
		endOfDay:   "до конца дня",
		empty:      "✅ Ближайших дедлайнов нет.",
		urgent:     "❗ Срочно: некоторые задания нужно сдать СЕГОДНЯ!",
		soon:       "❗ Напоминание: есть задания на завтра!",
		planAhead:  "❗ Запланируйте выполнение предстоящих заданий.",
		book:       map[domain.BookType]string{domain.BookOpen: "открытая книга", domain.BookClosed: "закрытая книга"},
	},
	domain.LangEN: {
		title:      "🔔 *UPCOMING DEADLINES*",
		today:      "*TODAY*",
		tomorrow:   "*TOMORROW*",
		inDays:     func(n int) string { return fmt.Sprintf("*IN %d %s*", n, strings.ToUpper(enPlural(n, "day", "days"))) },
		bySchedule: "By schedule",
		endOfDay:   "end of day",
		empty:      "✅ No upcoming deadlines.",
		urgent:     "❗ Urgent: some tasks are due TODAY!",
		soon:       "❗ Reminder: tasks due tomorrow!",
		planAhead:  "❗ Plan ahead for upcoming deadlines.",
		book:       map[domain.BookType]string{domain.BookOpen: "open book", domain.BookClosed: "closed book"},
	},
}

// Render formats items as a Markdown digest in lang. Items must already be
// sorted by daysLeft, as deadline.Build returns them.
func Render(lang domain.Language, items []deadline.Item) string {
	tx, ok := digestTexts[lang]
	if !ok {
		tx = digestTexts[domain.LangRU]
	}
	var b strings.Builder
	b.WriteString(tx.title)
	b.WriteString("\n\n")
	if len(items) == 0 {
		b.WriteString(tx.empty)
		return b.String()
	}

	hasToday, hasTomorrow := false, false
	for i, it := range items {
		if i == 0 || items[i-1].DaysLeft != it.DaysLeft {
			switch it.DaysLeft {
			case 0:
				hasToday = true
				b.WriteString(tx.today)
			case 1:
				hasTomorrow = true
				b.WriteString(tx.tomorrow)
			default:
				b.WriteString(tx.inDays(it.DaysLeft))
			}
			b.WriteByte('\n')
		}
		writeItem(&b, tx, it.Task)
	}

	switch {
	case hasToday:
		b.WriteString(tx.urgent)
	case hasTomorrow:
		b.WriteString(tx.soon)
	default:
		b.WriteString(tx.planAhead)
	}
	return b.String()
}

func writeItem(b *strings.Builder, tx digestText, t domain.Task) {
	b.WriteString("📌 *")
	b.WriteString(escapeMarkdown(t.Subject))
	b.WriteByte('*')
	if t.Type != "" {
		b.WriteString(" — ")
		b.WriteString(escapeMarkdown(t.Type))
	}
	b.WriteByte('\n')

	fields := []string{"🗓 " + escapeMarkdown(t.Date), "⏰ " + timeDisplay(tx, t)}
	if f := t.Format.String(); f != "" {
		fields = append(fields, "🏷 "+f)
	}
	if t.MaxPoints != "" {
		fields = append(fields, "💯 "+escapeMarkdown(t.MaxPoints))
	}
	if bk, ok := tx.book[t.Book]; ok {
		fields = append(fields, "📖 "+bk)
	}
	b.WriteString(strings.Join(fields, " | "))
	b.WriteByte('\n')
	if t.Details != "" {
		b.WriteString("ℹ️ ")
		b.WriteString(escapeMarkdown(t.Details))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

func timeDisplay(tx digestText, t domain.Task) string {
	switch t.TimeKind() {
	case domain.TimeExact:
		return escapeMarkdown(strings.TrimSpace(t.Time))
	case domain.TimeEndOfDay:
		return tx.bySchedule
	default:
		return tx.endOfDay
	}
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// escapeMarkdown escapes the characters legacy Telegram Markdown treats as
// entity delimiters.
func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }

// ruPlural picks the Russian form for n: 1 день, 2 дня, 5 дней, 11 дней, 21 день.
func ruPlural(n int, one, few, many string) string {
	n %= 100
	if n < 0 {
		n = -n
	}
	switch {
	case n%10 == 1 && n != 11:
		return one
	case n%10 >= 2 && n%10 <= 4 && (n < 12 || n > 14):
		return few
	default:
		return many
	}
}

func enPlural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
