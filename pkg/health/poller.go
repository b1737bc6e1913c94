package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusChecking  Status = "checking"
	StatusConnected Status = "connected"
	StatusError     Status = "error"
)

// Indicator is what the status light shows.
type Indicator struct {
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker reports nil when the backend is reachable. *backend.Client implements it.
type Checker interface {
	Health(ctx context.Context) error
}

type Option func(*Poller)

// WithInterval re-checks periodically while Run is active. Zero disables it.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

// Poller keeps the health indicator. Failures stay local to the indicator.
type Poller struct {
	checker  Checker
	interval time.Duration
	refresh  chan struct{}

	checkMu sync.Mutex

	mu      sync.Mutex
	current Indicator
	subs    map[int]func(Indicator)
	nextSub int
}

func NewPoller(checker Checker, opts ...Option) *Poller {
	p := &Poller{
		checker: checker,
		refresh: make(chan struct{}, 1),
		current: Indicator{Status: StatusUnknown},
		subs:    map[int]func(Indicator){},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Poller) Current() Indicator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Poller) Subscribe(fn func(Indicator)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Check runs one health check now and returns the resulting indicator.
func (p *Poller) Check(ctx context.Context) Indicator {
	p.checkMu.Lock()
	defer p.checkMu.Unlock()

	p.set(Indicator{Status: StatusChecking, CheckedAt: p.Current().CheckedAt})
	err := p.checker.Health(ctx)
	ind := Indicator{Status: StatusConnected, CheckedAt: time.Now()}
	if err != nil {
		ind.Status = StatusError
		ind.Error = err.Error()
		log.Debug().Err(err).Str("component", "health").Msg("health check failed")
	}
	p.set(ind)
	return ind
}

// Refresh asks a running poller for an immediate check.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Run checks once at start, then on every Refresh and interval tick until ctx
// is done.
func (p *Poller) Run(ctx context.Context) error {
	p.Check(ctx)

	var tick <-chan time.Time
	if p.interval > 0 {
		t := time.NewTicker(p.interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.refresh:
			p.Check(ctx)
		case <-tick:
			p.Check(ctx)
		}
	}
}

func (p *Poller) set(ind Indicator) {
	p.mu.Lock()
	changed := ind != p.current
	p.current = ind
	subs := make([]func(Indicator), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	if !changed {
		return
	}
	for _, fn := range subs {
		fn(ind)
	}
}
