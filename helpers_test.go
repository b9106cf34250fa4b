package svcd

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeBackend is an in-memory backend with settable samples
type fakeBackend struct {
	mu       sync.Mutex
	ids      []ServiceID
	samples  map[ServiceID]Sample
	errs     map[ServiceID]error
	calls    []string
	panicOn  string
	statusN  int
	controls map[ServiceID]error
}

func newFakeBackend(ids ...ServiceID) *fakeBackend {
	b := &fakeBackend{
		ids:      ids,
		samples:  make(map[ServiceID]Sample),
		errs:     make(map[ServiceID]error),
		controls: make(map[ServiceID]error),
	}
	for _, id := range ids {
		b.samples[id] = Sample{State: StateNotRunning}
	}
	return b
}

func (b *fakeBackend) set(id ServiceID, s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples[id] = s
}

func (b *fakeBackend) fail(id ServiceID, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[id] = err
}

func (b *fakeBackend) record(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, call)
	if b.panicOn == call {
		panic("boom in " + call)
	}
}

func (b *fakeBackend) recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBackend) statusCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusN
}

func (b *fakeBackend) Services() []ServiceID { return append([]ServiceID(nil), b.ids...) }

func (b *fakeBackend) ServiceStatus(_ context.Context, id ServiceID) (Sample, error) {
	b.record("status " + id.String())
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusN++
	if err := b.errs[id]; err != nil {
		return Sample{}, err
	}
	s, ok := b.samples[id]
	if !ok {
		return Sample{}, noSuchService(id)
	}
	return s, nil
}

func (b *fakeBackend) control(action string, id ServiceID) error {
	b.record(action + " " + id.String())
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.controls[id]
}

func (b *fakeBackend) StartService(_ context.Context, id ServiceID) error {
	return b.control("start", id)
}

func (b *fakeBackend) StopService(_ context.Context, id ServiceID) error {
	return b.control("stop", id)
}

func (b *fakeBackend) RestartService(_ context.Context, id ServiceID) error {
	return b.control("restart", id)
}

func (b *fakeBackend) ServiceDescription(id ServiceID) string {
	return "fake " + id.String()
}

func (b *fakeBackend) ServiceOutput(id ServiceID) []string {
	return []string{"output of " + id.String()}
}

func (b *fakeBackend) ServiceLogs(context.Context, ServiceID) (map[string]string, error) {
	return map[string]string{"fake.log": "line"}, nil
}

func (b *fakeBackend) ReceiveConfig(context.Context, ServiceID) (map[string]string, error) {
	return map[string]string{"fake.conf": "key=value"}, nil
}

func (b *fakeBackend) SendConfig(_ context.Context, _ ServiceID, filename, _ string) error {
	b.record("sendconfig " + filename)
	return nil
}

// batchBackend adds AllServiceStatus to fakeBackend
type batchBackend struct {
	*fakeBackend
	batches int
}

func (b *batchBackend) AllServiceStatus(context.Context) (map[ServiceID]Sample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches++
	out := make(map[ServiceID]Sample, len(b.samples))
	for id, s := range b.samples {
		out[id] = s
	}
	return out, nil
}

// eventSink collects emitted events
type eventSink struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventSink() *eventSink {
	return &eventSink{ch: make(chan Event, 100)}
}

func (s *eventSink) EmitEvent(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *eventSink) statuses() []StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StatusEvent
	for _, ev := range s.events {
		if st, ok := ev.(*StatusEvent); ok {
			out = append(out, *st)
		}
	}
	return out
}

// next waits for the next event of type T
func next[T Event](t *testing.T, s *eventSink) T {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-s.ch:
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

// fakeClock is a settable clock for cache freshness tests
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// syncBuffer is a goroutine-safe log destination
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(w *syncBuffer) zerolog.Logger {
	return zerolog.New(w)
}
