package rowstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "deadlinebot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) ReadTable(ctx context.Context, name string) ([][]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cells FROM table_rows WHERE tbl = ? ORDER BY seq`, name)
	if err != nil {
		return nil, classifySQLite(err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, classifySQLite(err)
		}
		var cells []string
		if err := json.Unmarshal([]byte(raw), &cells); err != nil {
			// A corrupt row still occupies its index.
			s.log.Warn("sqlite row decode failed", logx.String("table", name), logx.Err(err))
			cells = []string{}
		}
		out = append(out, cells)
	}
	return out, classifySQLite(rows.Err())
}

func (s *sqliteStore) AppendRow(ctx context.Context, name string, row []string) error {
	if row == nil {
		row = []string{}
	}
	b, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO table_rows (tbl, cells) VALUES (?, ?)`, name, string(b))
	return classifySQLite(err)
}

func (s *sqliteStore) DeleteRow(ctx context.Context, name string, index int) error {
	if index < 0 {
		return ErrRowOutOfRange
	}
	res, err := s.db.ExecContext(ctx, `
DELETE FROM table_rows
WHERE seq = (SELECT seq FROM table_rows WHERE tbl = ? ORDER BY seq LIMIT 1 OFFSET ?)`, name, index)
	if err != nil {
		return classifySQLite(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRowOutOfRange
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func classifySQLite(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") {
		return Transient(err)
	}
	return err
}
