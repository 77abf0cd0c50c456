package rowstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store. It backs the "memory" driver and tests.
type Memory struct {
	mu     sync.RWMutex
	tables map[string][][]string
	closed bool
}

func NewMemory() *Memory {
	return &Memory{tables: map[string][][]string{}}
}

// Seed replaces a table's rows.
func (m *Memory) Seed(name string, rows [][]string) {
	m.mu.Lock()
	m.tables[name] = cloneRows(rows)
	m.mu.Unlock()
}

func (m *Memory) ReadTable(ctx context.Context, name string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return cloneRows(m.tables[name]), nil
}

func (m *Memory) AppendRow(ctx context.Context, name string, row []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.tables[name] = append(m.tables[name], append([]string(nil), row...))
	return nil
}

func (m *Memory) DeleteRow(ctx context.Context, name string, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	rows := m.tables[name]
	if index < 0 || index >= len(rows) {
		return ErrRowOutOfRange
	}
	m.tables[name] = append(rows[:index:index], rows[index+1:]...)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
