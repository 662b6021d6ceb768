package poller

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/nodekeeper/internal/availability"
	"github.com/loykin/nodekeeper/internal/detector"
	"github.com/loykin/nodekeeper/internal/metrics"
)

// Poller probes an endpoint on a timer until it answers once, then flips
// the availability flag to true and goes quiet until re-armed.
//
// Ticks run on timer goroutines, never on the caller's. A probe that is
// already running when Stop or Close is called finishes, but its result is
// dropped and no further tick is scheduled. Once Stop or Close returns the
// poller will not set the flag again until the next Arm. Flag subscribers
// run inside that guarantee, so they must not call Stop or Close.
type Poller struct {
	name   string
	det    detector.Detector
	flag   *availability.Flag
	due    time.Duration
	period time.Duration
	log    *slog.Logger

	flipMu  sync.Mutex // held from the generation check through flag.Set
	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64 // bumped by Arm/Stop so stale ticks discard themselves
	running bool
	closed  bool
	probes  int
}

// Config holds the poller schedule and identity.
type Config struct {
	Name    string
	DueTime time.Duration // delay before the first probe
	Period  time.Duration // delay between later probes
	Logger  *slog.Logger
}

// New creates a stopped poller. Call Arm to begin probing.
func New(cfg Config, det detector.Detector, flag *availability.Flag) *Poller {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	period := cfg.Period
	if period <= 0 {
		period = time.Second
	}
	due := cfg.DueTime
	if due < 0 {
		due = 0
	}
	return &Poller{
		name:   cfg.Name,
		det:    det,
		flag:   flag,
		due:    due,
		period: period,
		log:    log,
	}
}

// Arm (re)starts probing: first probe after the due time, then every period.
// Ticks scheduled by an earlier Arm are discarded. No-op after Close.
func (p *Poller) Arm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.gen++
	p.running = true
	p.probes = 0
	gen := p.gen
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.due, func() { p.tick(gen) })
	p.log.Debug("availability poller armed", "name", p.name, "probe", p.det.Describe(),
		"due", p.due, "period", p.period)
}

// Stop cancels future ticks. The poller stays usable; Arm restarts it.
func (p *Poller) Stop() {
	p.flipMu.Lock()
	defer p.flipMu.Unlock()
	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()
}

// Close stops the poller and releases its timer. Arm becomes a no-op.
func (p *Poller) Close() {
	p.flipMu.Lock()
	defer p.flipMu.Unlock()
	p.mu.Lock()
	p.stopLocked()
	p.timer = nil
	p.closed = true
	p.mu.Unlock()
}

// Running reports whether more ticks are scheduled.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Probes returns the number of probes completed since the last Arm.
func (p *Poller) Probes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes
}

func (p *Poller) stopLocked() {
	p.gen++
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
	}
}

func (p *Poller) tick(gen uint64) {
	if !p.current(gen) {
		return
	}

	up, err := p.det.Alive()
	if err != nil {
		p.log.Debug("availability probe failed", "name", p.name, "probe", p.det.Describe(), "error", err)
		up = false
	}
	metrics.IncProbe(p.name, up)

	p.flipMu.Lock()
	defer p.flipMu.Unlock()
	p.mu.Lock()
	if gen != p.gen || !p.running {
		p.mu.Unlock()
		return
	}
	p.probes++
	if !up {
		p.timer.Reset(p.period)
		p.mu.Unlock()
		return
	}
	p.stopLocked()
	attempts := p.probes
	p.mu.Unlock()

	p.flag.Set(true)
	p.log.Info("rpc endpoint available", "name", p.name, "probe", p.det.Describe(), "attempts", attempts)
}

func (p *Poller) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen == p.gen && p.running
}
