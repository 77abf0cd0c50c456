package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"deadlinebot/internal/eventbus"
	logx "deadlinebot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	cfg.Enabled = true
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) TaskEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e.Data.(TaskEvent)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

var fastRetry = TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{})
	events, unsub := bus.Subscribe(16)
	defer unsub()

	done := make(chan struct{})
	if err := s.Enqueue(Task{Name: "job", Run: func(context.Context) error { close(done); return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-done
	ev := waitEvent(t, events, eventbus.TaskFinished)
	if ev.Name != "job" || ev.ID == "" || ev.Attempts != 1 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{RetryMax: 3})
	events, unsub := bus.Subscribe(16)
	defer unsub()

	var calls atomic.Int32
	_ = s.Enqueue(Task{Name: "flaky", Opt: fastRetry, Run: func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}})
	ev := waitEvent(t, events, eventbus.TaskFinished)
	if ev.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", ev.Attempts)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{RetryMax: 5})
	events, unsub := bus.Subscribe(16)
	defer unsub()

	var calls atomic.Int32
	_ = s.Enqueue(Task{Name: "permanent", Opt: fastRetry, Run: func(context.Context) error {
		calls.Add(1)
		return NoRetry(errors.New("bad payload"))
	}})
	ev := waitEvent(t, events, eventbus.TaskFailed)
	if calls.Load() != 1 || ev.Attempts != 1 || ev.Error != "bad payload" {
		t.Fatalf("calls=%d event=%+v", calls.Load(), ev)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{RetryMax: 1})
	events, unsub := bus.Subscribe(16)
	defer unsub()

	_ = s.Enqueue(Task{Name: "panics", Opt: fastRetry, Run: func(context.Context) error { panic("boom") }})
	ev := waitEvent(t, events, eventbus.TaskFailed)
	if ev.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", ev.Attempts)
	}

	done := make(chan struct{})
	_ = s.Enqueue(Task{Name: "after", Run: func(context.Context) error { close(done); return nil }})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine stopped running tasks after a panic")
	}
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1})
	release := make(chan struct{})
	started := make(chan struct{})
	st := &RunState{}
	task := Task{Name: "slow", State: st, Opt: TaskOptions{Overlap: OverlapSkipIfRunning}, Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	if err := s.Enqueue(task); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	<-started
	if err := s.Enqueue(task); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue err = %v, want ErrOverlapSkip", err)
	}
	close(release)
}

func TestDisabledAndStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
	s = New(Config{Enabled: true}, logx.Nop(), nil)
	if err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	if d := backoffDelay(opt, 3, nil); d != 400*time.Millisecond {
		t.Fatalf("backoffDelay(3) = %v", d)
	}
	if d := backoffDelay(opt, 10, nil); d != time.Second {
		t.Fatalf("backoffDelay(10) = %v", d)
	}
	if d := backoffDelayWithHint(opt, 1, floodWait(5*time.Second), nil); d != time.Second {
		t.Fatalf("hint not capped: %v", d)
	}
	wrapped := fmt.Errorf("send: %w", floodWait(300*time.Millisecond))
	if d := backoffDelayWithHint(opt, 1, wrapped, nil); d != 300*time.Millisecond {
		t.Fatalf("wrapped hint = %v", d)
	}
}

type floodWait time.Duration

func (f floodWait) Error() string             { return "flood wait" }
func (f floodWait) RetryAfter() time.Duration { return time.Duration(f) }

func TestPermanentErrorUnwraps(t *testing.T) {
	base := errors.New("chat not found")
	err := fmt.Errorf("fire: %w", NoRetry(base))
	if !IsNoRetry(err) || !errors.Is(err, base) {
		t.Fatalf("err = %v", err)
	}
	if NoRetry(nil) != nil || IsNoRetry(base) {
		t.Fatal("nil or plain errors must not be permanent")
	}
}
