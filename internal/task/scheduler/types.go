package scheduler

import (
	"context"
	"sync"
	"time"

	"deadlinebot/internal/eventbus"
	"deadlinebot/internal/task/engine"
	logx "deadlinebot/pkg/logx"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Moscow"
}

type OverlapPolicy = engine.OverlapPolicy

type TaskOptions = engine.TaskOptions

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

type JobKind string

const (
	KindCron     JobKind = "cron"
	KindInterval JobKind = "interval"
	KindDaily    JobKind = "daily"
	KindOnce     JobKind = "once"
)

type scheduleDef struct {
	name    string
	kind    JobKind
	spec    string
	first   time.Time // daily jobs: first fire override
	timeout time.Duration
	job     func(ctx context.Context) error
	payload any
	entryID cron.EntryID
	opt     TaskOptions
	state   *engine.RunState
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     func(ctx context.Context) error
	payload any
	ver     uint64
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	// One-shot jobs. Definitions survive Stop; timers do not.
	tmu    sync.Mutex
	timers map[string]*time.Timer
	once   map[string]*onceDef
	seq    uint64
}

// JobInfo is a point-in-time view of one registered job.
type JobInfo struct {
	Name    string        `json:"name"`
	Kind    JobKind       `json:"kind"`
	Spec    string        `json:"spec,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev,omitempty"`
	Payload any           `json:"payload,omitempty"`
}
