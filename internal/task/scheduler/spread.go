package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// firstRunSchedule overrides the first fire time of base. Later fires
// follow base.
type firstRunSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *firstRunSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// lateFireGrace is how far in the past a daily job's first fire may be
// and still run.
const lateFireGrace = 10 * time.Minute

var spreadSeq atomic.Uint64

// makeIntervalScheduleWithSpread delays the first run of an interval job
// by a random amount up to min(every, 30s) so jobs registered together do
// not fire together.
func makeIntervalScheduleWithSpread(every time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spreadMax := min(every, maxStartupSpread)
	if spreadMax <= 0 {
		return base, 0
	}
	seed := time.Now().UnixNano() ^ int64(spreadSeq.Add(1)) ^ int64(fnv64a(tag))
	jitter := time.Duration(rand.New(rand.NewSource(seed)).Int63n(int64(spreadMax)))
	return &firstRunSchedule{base: base, first: now.Add(every + jitter)}, jitter
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
