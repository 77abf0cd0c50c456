package rowstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "deadlinebot/pkg/logx"

	"github.com/xuri/excelize/v2"
)

// xlsxStore keeps every table in its own sheet of a workbook. Row 1 of a
// sheet is a header and is never returned.
type xlsxStore struct {
	mu      sync.Mutex
	path    string
	f       *excelize.File
	headers func(string) []string
	log     logx.Logger
}

func openXLSX(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("xlsx path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	var (
		f   *excelize.File
		err error
	)
	if _, statErr := os.Stat(path); statErr == nil {
		f, err = excelize.OpenFile(path)
		if err != nil {
			return nil, err
		}
	} else if errors.Is(statErr, os.ErrNotExist) {
		f = excelize.NewFile()
	} else {
		return nil, statErr
	}
	return &xlsxStore{path: path, f: f, headers: cfg.Headers, log: log}, nil
}

func (s *xlsxStore) hasSheet(name string) bool {
	idx, err := s.f.GetSheetIndex(name)
	return err == nil && idx >= 0
}

func (s *xlsxStore) ensureSheet(name string) error {
	if s.hasSheet(name) {
		return nil
	}
	if _, err := s.f.NewSheet(name); err != nil {
		return err
	}
	var header []string
	if s.headers != nil {
		header = s.headers(name)
	}
	if len(header) == 0 {
		header = []string{name}
	}
	vals := make([]interface{}, len(header))
	for i, h := range header {
		vals[i] = h
	}
	return s.f.SetSheetRow(name, "A1", &vals)
}

// dataRows returns the sheet rows below the header.
func (s *xlsxStore) dataRows(name string) ([][]string, error) {
	if !s.hasSheet(name) {
		return nil, nil
	}
	rows, err := s.f.GetRows(name)
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	return rows[1:], nil
}

func (s *xlsxStore) ReadTable(ctx context.Context, name string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	rows, err := s.dataRows(name)
	if err != nil {
		return nil, err
	}
	return cloneRows(rows), nil
}

func (s *xlsxStore) AppendRow(ctx context.Context, name string, row []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := s.ensureSheet(name); err != nil {
		return err
	}
	rows, err := s.dataRows(name)
	if err != nil {
		return err
	}
	// Header is row 1, data rows start at 2.
	cell, err := excelize.CoordinatesToCellName(1, len(rows)+2)
	if err != nil {
		return err
	}
	vals := make([]interface{}, len(row))
	for i, v := range row {
		vals[i] = v
	}
	if err := s.f.SetSheetRow(name, cell, &vals); err != nil {
		return err
	}
	return s.save()
}

func (s *xlsxStore) DeleteRow(ctx context.Context, name string, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	rows, err := s.dataRows(name)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(rows) {
		return ErrRowOutOfRange
	}
	if err := s.f.RemoveRow(name, index+2); err != nil {
		return err
	}
	return s.save()
}

func (s *xlsxStore) save() error {
	if err := s.f.SaveAs(s.path); err != nil {
		s.log.Warn("xlsx save failed", logx.String("path", s.path), logx.Err(err))
		return Transient(err)
	}
	return nil
}

func (s *xlsxStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
