package scheduler

import (
	"sync"
	"time"
)

// PassResult summarizes one scheduler pass.
type PassResult struct {
	Kind      string        `json:"kind"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Pages     int `json:"pages"`
	Seen      int `json:"seen"`
	Updated   int `json:"updated"`
	NoOp      int `json:"noop"`
	Failed    int `json:"failed"`
	Contended int `json:"contended"`
	Virtual   int `json:"virtual"`
	Unhandled int `json:"unhandled"`

	GCDeleted int  `json:"gc_deleted"`
	GCFailed  int  `json:"gc_failed"`
	GCSkipped bool `json:"gc_skipped"`

	// Skipped is set when another process on this host held the pass lock.
	Skipped   bool   `json:"skipped,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ProgressSnapshot is an immutable view of a scheduler's state.
type ProgressSnapshot struct {
	Kind      string      `json:"kind"`
	Running   bool        `json:"running"`
	StartedAt time.Time   `json:"started_at,omitempty"`
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	LastPass  *PassResult `json:"last_pass,omitempty"`
}

// Progress tracks the running pass of one scheduler.
type Progress struct {
	mu sync.RWMutex

	kind      string
	running   bool
	startedAt time.Time
	processed int
	failed    int
	last      *PassResult
}

func newProgress(kind string) *Progress {
	return &Progress{kind: kind}
}

func (p *Progress) start(at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	p.startedAt = at
	p.processed = 0
	p.failed = 0
}

func (p *Progress) repoDone(failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed++
	if failed {
		p.failed++
	}
}

func (p *Progress) finish(res PassResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.last = &res
}

// Snapshot returns the current state.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := ProgressSnapshot{
		Kind:      p.kind,
		Running:   p.running,
		StartedAt: p.startedAt,
		Processed: p.processed,
		Failed:    p.failed,
	}
	if p.last != nil {
		last := *p.last
		s.LastPass = &last
	}
	return s
}
