package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"deadlinebot/internal/eventbus"
	logx "deadlinebot/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled = errors.New("notifier disabled")
	ErrNoSender = errors.New("notifier has no sender")
	ErrEmpty    = errors.New("empty message")
)

// Service sends messages through a Sender with rate limiting, retry and
// dedup. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	// dedup key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log,
		bus:    bus,
		dedup:  map[string]time.Time{},
		now:    time.Now,
		sleep:  sleepContext,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the configuration. Sends already in flight keep the old one.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.cfg = cfg
	// Burst = rate per sec so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send delivers text to userID. A duplicate of a message sent under the same
// scope inside the dedup window is dropped and reported as success. The
// returned error is the last delivery error once retries are exhausted.
func (s *Service) Send(ctx context.Context, userID int64, scope, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if text == "" {
		return ErrEmpty
	}

	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if !cfg.Enabled {
		return ErrDisabled
	}
	if sender == nil {
		return ErrNoSender
	}

	key := dedupKey(userID, scope, text)
	if cfg.DedupWindow > 0 && !s.dedupAllow(key, cfg.DedupWindow, cfg.DedupMaxEntries) {
		s.log.Debug("notify deduped", logx.UserID(userID), logx.String("scope", scope), logx.String("key", key))
		s.publish(eventbus.NotifierDeduped, NotificationEvent{UserID: userID, Key: key})
		return nil
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := sender.SendText(callCtx, userID, text)
		cancel()
		if err == nil {
			s.appendHistory(userID, text)
			s.publish(eventbus.NotifierSent, NotificationEvent{UserID: userID, Key: key, Attempts: attempt})
			return nil
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.UserID(userID), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		if serr := s.sleep(ctx, retryDelay(cfg, attempt, err)); serr != nil {
			lastErr = serr
			break
		}
	}

	// Let a later fire try again.
	s.forget(key)
	attempt = min(attempt, maxAttempts)
	s.publish(eventbus.NotifierFailed, NotificationEvent{UserID: userID, Key: key, Attempts: attempt, Error: lastErr.Error()})
	return fmt.Errorf("send to %d: %w", userID, lastErr)
}

// History returns recently delivered messages, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(userID int64, text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: s.now(), UserID: userID, Text: text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	now := s.now()
	ev.At = now
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func dedupKey(userID int64, scope, text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.FormatInt(userID, 10)))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(scope))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(text))
	return strconv.FormatUint(h.Sum64(), 16)
}

func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	now := s.now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	// Evict earliest expiries until within cap.
	for len(s.dedup) > maxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

func (s *Service) forget(key string) {
	s.dmu.Lock()
	delete(s.dedup, key)
	s.dmu.Unlock()
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1) with
// 0.7..1.3 jitter, capped at RetryMaxDelay. A RetryAfter hint on err wins
// when it is longer.
func retryDelay(cfg Config, attempt int, err error) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)

	var ra interface{ RetryAfter() time.Duration }
	if errors.As(err, &ra) && ra.RetryAfter() > d {
		d = ra.RetryAfter()
	}
	return min(max(d, 0), cfg.RetryMaxDelay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
