package domain

import (
	"fmt"
	"strconv"
	"strings"
)

type Language string

const (
	LangRU Language = "ru"
	LangEN Language = "en"
)

// ParseLanguage defaults to Russian for anything that is not "en".
func ParseLanguage(s string) Language {
	if strings.EqualFold(strings.TrimSpace(s), string(LangEN)) {
		return LangEN
	}
	return LangRU
}

// User is one row of the users table.
type User struct {
	Row int

	ID               int64
	Group            string
	RemindersEnabled bool
	Language         Language
	Feedback         string
	IsCurator        bool
	IsProfessor      bool
	IsSuperAdmin     bool
}

// NewUser returns the record created on first interaction.
func NewUser(id int64) User {
	return User{Row: -1, ID: id, RemindersEnabled: true, Language: LangRU}
}

// ParseUserRow fails only when the id column is not an integer.
// A missing reminders flag means enabled.
func ParseUserRow(index int, row []string) (User, error) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	id, err := strconv.ParseInt(cell(0), 10, 64)
	if err != nil {
		return User{}, fmt.Errorf("users row %d: bad user id %q", index, cell(0))
	}
	enabled := true
	if v := cell(2); v != "" {
		enabled = parseBool(v)
	}
	return User{
		Row:              index,
		ID:               id,
		Group:            cell(1),
		RemindersEnabled: enabled,
		Language:         ParseLanguage(cell(3)),
		Feedback:         cell(4),
		IsCurator:        parseBool(cell(5)),
		IsProfessor:      parseBool(cell(6)),
		IsSuperAdmin:     parseBool(cell(7)),
	}, nil
}

// Cells renders the user in table column order.
func (u User) Cells() []string {
	return []string{
		strconv.FormatInt(u.ID, 10),
		u.Group,
		formatBool(u.RemindersEnabled),
		string(u.Language),
		u.Feedback,
		formatBool(u.IsCurator),
		formatBool(u.IsProfessor),
		formatBool(u.IsSuperAdmin),
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

func formatBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
