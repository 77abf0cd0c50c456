package rowcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deadlinebot/internal/rowstore"
)

type countingStore struct {
	*rowstore.Memory
	reads atomic.Int32
	gate  chan struct{} // when set, reads block until it is closed
	fail  error
}

func (s *countingStore) ReadTable(ctx context.Context, name string) ([][]string, error) {
	s.reads.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.fail != nil {
		return nil, s.fail
	}
	return s.Memory.ReadTable(ctx, name)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newStore() *countingStore {
	mem := rowstore.NewMemory()
	mem.Seed("tasks", [][]string{{"Stats"}})
	return &countingStore{Memory: mem}
}

func TestCacheServesWithinTTL(t *testing.T) {
	t.Parallel()
	st := newStore()
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(st, Options{TTL: time.Minute, Now: clk.Now})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.ReadTable(ctx, "tasks"); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if got := st.reads.Load(); got != 1 {
		t.Fatalf("store reads = %d, want 1", got)
	}

	clk.Advance(59 * time.Second)
	_, _ = c.ReadTable(ctx, "tasks")
	if got := st.reads.Load(); got != 1 {
		t.Fatalf("store reads before expiry = %d, want 1", got)
	}

	clk.Advance(2 * time.Second)
	_, _ = c.ReadTable(ctx, "tasks")
	if got := st.reads.Load(); got != 2 {
		t.Fatalf("store reads after expiry = %d, want 2", got)
	}
	if s := c.Stats(); s.Hits != 3 || s.Misses != 2 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	t.Parallel()
	c := New(newStore(), Options{TTL: time.Minute})
	rows, _ := c.ReadTable(context.Background(), "tasks")
	rows[0][0] = "mutated"
	again, _ := c.ReadTable(context.Background(), "tasks")
	if again[0][0] != "Stats" {
		t.Fatalf("cached rows were mutated: %v", again)
	}
}

func TestWriteThroughInvalidates(t *testing.T) {
	t.Parallel()
	st := newStore()
	c := New(st, Options{TTL: time.Hour})
	ctx := context.Background()

	_, _ = c.ReadTable(ctx, "tasks")
	if err := c.AppendRow(ctx, "tasks", []string{"Physics"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	rows, err := c.ReadTable(ctx, "tasks")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows after append = %v", rows)
	}

	if err := c.DeleteRow(ctx, "tasks", 0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows, _ = c.ReadTable(ctx, "tasks")
	if len(rows) != 1 || rows[0][0] != "Physics" {
		t.Fatalf("rows after delete = %v", rows)
	}
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	t.Parallel()
	st := newStore()
	st.gate = make(chan struct{})
	c := New(st, Options{TTL: time.Minute})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, err := c.ReadTable(context.Background(), "tasks")
			if err == nil && len(rows) != 1 {
				err = errors.New("unexpected rows")
			}
			errs <- err
		}()
	}
	// Let every reader reach the shared fetch before releasing it.
	deadline := time.Now().Add(2 * time.Second)
	for st.reads.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(st.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if got := st.reads.Load(); got != 1 {
		t.Fatalf("store reads = %d, want 1", got)
	}
}

func TestStaleFetchIsNotStored(t *testing.T) {
	t.Parallel()
	st := newStore()
	st.gate = make(chan struct{})
	c := New(st, Options{TTL: time.Hour})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.ReadTable(context.Background(), "tasks")
	}()
	for st.reads.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	c.Invalidate("tasks")
	close(st.gate)
	<-done

	_, _ = c.ReadTable(context.Background(), "tasks")
	if got := st.reads.Load(); got != 2 {
		t.Fatalf("store reads = %d, want 2 (stale fetch must not be cached)", got)
	}
}

func TestInvalidateAll(t *testing.T) {
	t.Parallel()
	st := newStore()
	c := New(st, Options{TTL: time.Hour})
	ctx := context.Background()
	_, _ = c.ReadTable(ctx, "tasks")
	_, _ = c.ReadTable(ctx, "users")
	c.InvalidateAll()
	if n := c.Stats().Entries; n != 0 {
		t.Fatalf("entries = %d after InvalidateAll", n)
	}
	_, _ = c.ReadTable(ctx, "tasks")
	if got := st.reads.Load(); got != 3 {
		t.Fatalf("store reads = %d, want 3", got)
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	t.Parallel()
	st := newStore()
	st.fail = rowstore.ErrStoreUnavailable
	c := New(st, Options{TTL: time.Hour})
	if _, err := c.ReadTable(context.Background(), "tasks"); !errors.Is(err, rowstore.ErrStoreUnavailable) {
		t.Fatalf("err = %v", err)
	}
	st.fail = nil
	if _, err := c.ReadTable(context.Background(), "tasks"); err != nil {
		t.Fatalf("read after recovery: %v", err)
	}
}
