package svcd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"vawter.tech/stopper"
)

// pollerStopGrace is how long Stop waits for an in-flight poll to notice the
// stop request before its context is cancelled
const pollerStopGrace = 2 * time.Second

// cacheEntry is one cached sample with the time it was last confirmed
type cacheEntry struct {
	at     time.Time
	sample Sample
}

// PollerOption customizes a Poller
type PollerOption func(*Poller)

// WithFreshnessFactor overrides CacheFreshnessFactor
func WithFreshnessFactor(f float64) PollerOption {
	return func(p *Poller) { p.freshness = f }
}

// WithMaxLoggedErrors overrides MaxLoggedPollErrors
func WithMaxLoggedErrors(n int) PollerOption {
	return func(p *Poller) { p.maxLogged = n }
}

// withClock replaces time.Now in tests
func withClock(now func() time.Time) PollerOption {
	return func(p *Poller) { p.now = now }
}

// Poller samples the services of one job in the background, emits a
// StatusEvent whenever a sample changes, and keeps the samples as a
// short-lived cache for status queries.
//
// Every poll runs with the job's lock held. Get and Invalidate do not take
// that lock themselves; callers hold it already.
type Poller struct {
	lock     sync.Locker
	backend  Backend
	interval time.Duration
	emit     func(Event)
	log      zerolog.Logger

	freshness float64
	maxLogged int
	now       func() time.Time

	mu     sync.Mutex // guards cache and errors
	cache  map[ServiceID]cacheEntry
	errors int

	nudge chan struct{}

	runMu sync.Mutex
	sctx  *stopper.Context
}

// NewPoller returns a stopped poller. lock is the owning job's lock; emit
// receives every status change. An interval of zero disables polling.
func NewPoller(lock sync.Locker, backend Backend, interval time.Duration, emit func(Event), log zerolog.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		lock:      lock,
		backend:   backend,
		interval:  interval,
		emit:      emit,
		log:       log,
		freshness: CacheFreshnessFactor,
		maxLogged: MaxLoggedPollErrors,
		now:       time.Now,
		cache:     make(map[ServiceID]cacheEntry),
		nudge:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.emit == nil {
		p.emit = func(Event) {}
	}
	return p
}

// Interval returns the poll interval
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Start launches the background loop. It polls once right away and then on
// every tick or nudge. Start on a running or disabled poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	if p.interval <= 0 {
		return
	}
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.sctx != nil {
		return
	}

	sctx := stopper.WithContext(ctx)
	p.sctx = sctx

	sctx.Go(func(sctx *stopper.Context) error {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for !sctx.IsStopping() {
			p.pollAndReport(sctx)

			select {
			case <-sctx.Stopping():
				return nil
			case <-ticker.C:
			case <-p.nudge:
			}
		}
		return nil
	})
}

// Stop interrupts the wait and joins the loop
func (p *Poller) Stop() error {
	p.runMu.Lock()
	sctx := p.sctx
	p.sctx = nil
	p.runMu.Unlock()

	if sctx == nil {
		return nil
	}
	sctx.Stop(pollerStopGrace)
	return sctx.Wait()
}

// Running reports whether the loop is active
func (p *Poller) Running() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.sctx != nil
}

// PollNow wakes the loop out of its sleep. The regular schedule is unaffected
// and repeated nudges before the next poll coalesce.
func (p *Poller) PollNow() {
	select {
	case p.nudge <- struct{}{}:
	default:
	}
}

// Invalidate drops the cached sample of id
func (p *Poller) Invalidate(id ServiceID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, id)
}

// Get returns the cached sample of id if it was confirmed within the
// freshness window
func (p *Poller) Get(id ServiceID) (Sample, bool) {
	if p.interval <= 0 {
		return Sample{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.cache[id]
	if !ok {
		return Sample{}, false
	}
	window := time.Duration(float64(p.interval) * p.freshness)
	if p.now().Sub(entry.at) > window {
		return Sample{}, false
	}
	return entry.sample, true
}

// Poll samples every service once with the job lock held, updates the cache
// and emits a StatusEvent for each changed sample
func (p *Poller) Poll(ctx context.Context) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	samples, err := p.sample(ctx)
	now := p.now()

	var changed []StatusEvent
	p.mu.Lock()
	for id, s := range samples {
		prev, ok := p.cache[id]
		p.cache[id] = cacheEntry{at: now, sample: s}
		if !ok || prev.sample != s {
			changed = append(changed, StatusEvent{
				Service:   id.Service,
				Instance:  id.Instance,
				State:     s.State,
				ExtStatus: s.ExtStatus,
			})
		}
	}
	p.mu.Unlock()

	for i := range changed {
		p.emit(&changed[i])
	}
	return err
}

// sample queries the backend, preferring the batch call. Samples gathered
// before a per-service failure are still returned.
func (p *Poller) sample(ctx context.Context) (map[ServiceID]Sample, error) {
	var samples map[ServiceID]Sample
	err := guard("poll", func() (err error) {
		if b, ok := p.backend.(BatchStatuser); ok {
			samples, err = b.AllServiceStatus(ctx)
			return err
		}

		var errs MultiError
		samples = make(map[ServiceID]Sample)
		for _, id := range p.backend.Services() {
			s, err := p.backend.ServiceStatus(ctx, id)
			if err != nil {
				errs.Add(fmt.Errorf("%s: %w", id, err))
				continue
			}
			samples[id] = s
		}
		return errs.Err()
	})
	return samples, err
}

// pollAndReport runs one poll and logs failures. Only the first maxLogged
// consecutive failures are logged; a successful poll resets the count.
func (p *Poller) pollAndReport(ctx context.Context) {
	err := p.Poll(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		if p.errors > p.maxLogged {
			p.log.Info().Int("failures", p.errors).Msg("polling recovered")
		}
		p.errors = 0
		return
	}
	p.errors++
	if p.errors <= p.maxLogged {
		ev := p.log.Error().Err(err)
		if p.errors == p.maxLogged {
			ev = ev.Bool("suppressing", true)
		}
		ev.Msg("polling failed")
	}
}
