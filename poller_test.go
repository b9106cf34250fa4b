package svcd

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var (
	svcA = ServiceID{Service: "a"}
	svcB = ServiceID{Service: "b", Instance: "1"}
)

func TestPollerEmitsOnlyChanges(t *testing.T) {
	b := newFakeBackend(svcA, svcB)
	sink := newEventSink()
	p := NewPoller(&sync.Mutex{}, b, time.Second, sink.EmitEvent, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, p.Poll(ctx))
	assert.Len(t, sink.statuses(), 2, "first poll reports every service")

	require.NoError(t, p.Poll(ctx))
	assert.Len(t, sink.statuses(), 2, "unchanged samples are not re-emitted")

	b.set(svcB, Sample{State: StateRunning, ExtStatus: "pid 42"})
	require.NoError(t, p.Poll(ctx))
	got := sink.statuses()
	require.Len(t, got, 3)
	assert.Equal(t, StatusEvent{Service: "b", Instance: "1", State: StateRunning, ExtStatus: "pid 42"}, got[2])

	b.set(svcB, Sample{State: StateRunning, ExtStatus: "pid 43"})
	require.NoError(t, p.Poll(ctx))
	assert.Len(t, sink.statuses(), 4, "ext status changes count as changes")
}

func TestPollerCacheFreshness(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := newFakeBackend(svcA)
	p := NewPoller(&sync.Mutex{}, b, 2*time.Second, nil, zerolog.Nop(), withClock(clock.Now))

	_, ok := p.Get(svcA)
	assert.False(t, ok, "no data before the first poll")

	require.NoError(t, p.Poll(context.Background()))
	s, ok := p.Get(svcA)
	require.True(t, ok)
	assert.Equal(t, StateNotRunning, s.State)

	clock.Advance(3 * time.Second)
	_, ok = p.Get(svcA)
	assert.True(t, ok, "fresh up to 1.5 intervals")

	clock.Advance(time.Millisecond)
	_, ok = p.Get(svcA)
	assert.False(t, ok, "stale after 1.5 intervals")

	// an unchanged sample refreshes the timestamp
	require.NoError(t, p.Poll(context.Background()))
	_, ok = p.Get(svcA)
	assert.True(t, ok)
}

func TestPollerFreshnessOverride(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	p := NewPoller(&sync.Mutex{}, newFakeBackend(svcA), time.Second, nil, zerolog.Nop(),
		withClock(clock.Now), WithFreshnessFactor(3))
	require.NoError(t, p.Poll(context.Background()))
	clock.Advance(2500 * time.Millisecond)
	_, ok := p.Get(svcA)
	assert.True(t, ok)
}

func TestPollerInvalidate(t *testing.T) {
	p := NewPoller(&sync.Mutex{}, newFakeBackend(svcA, svcB), time.Second, nil, zerolog.Nop())
	require.NoError(t, p.Poll(context.Background()))

	p.Invalidate(svcA)
	_, ok := p.Get(svcA)
	assert.False(t, ok)
	_, ok = p.Get(svcB)
	assert.True(t, ok)
}

func TestPollerInvalidateReemits(t *testing.T) {
	sink := newEventSink()
	p := NewPoller(&sync.Mutex{}, newFakeBackend(svcA), time.Second, sink.EmitEvent, zerolog.Nop())
	require.NoError(t, p.Poll(context.Background()))
	p.Invalidate(svcA)
	require.NoError(t, p.Poll(context.Background()))
	assert.Len(t, sink.statuses(), 2, "an invalidated entry counts as new")
}

func TestPollerDisabled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := newFakeBackend(svcA)
	p := NewPoller(&sync.Mutex{}, b, 0, nil, zerolog.Nop())
	p.Start(context.Background())
	assert.False(t, p.Running())

	require.NoError(t, p.Poll(context.Background()))
	_, ok := p.Get(svcA)
	assert.False(t, ok, "a disabled poller never reports cached data")
	require.NoError(t, p.Stop())
}

func TestPollerLoop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := newFakeBackend(svcA)
	sink := newEventSink()
	p := NewPoller(&sync.Mutex{}, b, time.Hour, sink.EmitEvent, zerolog.Nop())

	p.Start(context.Background())
	require.True(t, p.Running())
	p.Start(context.Background()) // no second loop

	first := next[*StatusEvent](t, sink)
	assert.Equal(t, StateNotRunning, first.State, "the first poll runs right away")

	b.set(svcA, Sample{State: StateRunning})
	p.PollNow()
	second := next[*StatusEvent](t, sink)
	assert.Equal(t, StateRunning, second.State)

	require.NoError(t, p.Stop())
	assert.False(t, p.Running())
	require.NoError(t, p.Stop(), "stopping twice is harmless")
}

func TestPollerStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(&sync.Mutex{}, newFakeBackend(svcA), 10*time.Millisecond, nil, zerolog.Nop())
	p.Start(ctx)
	cancel()
	_ = p.Stop()
	assert.False(t, p.Running())
}

func TestPollerHoldsLock(t *testing.T) {
	var mu sync.Mutex
	b := newFakeBackend(svcA)
	p := NewPoller(&mu, b, time.Second, nil, zerolog.Nop())

	mu.Lock()
	done := make(chan struct{})
	go func() {
		_ = p.Poll(context.Background())
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("poll ran without the job lock")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, b.statusCalls())
	mu.Unlock()
	<-done
	assert.Equal(t, 1, b.statusCalls())
}

func TestPollerPartialFailure(t *testing.T) {
	b := newFakeBackend(svcA, svcB)
	b.fail(svcA, errors.New("unreachable"))
	sink := newEventSink()
	p := NewPoller(&sync.Mutex{}, b, time.Second, sink.EmitEvent, zerolog.Nop())

	err := p.Poll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")

	_, ok := p.Get(svcA)
	assert.False(t, ok)
	_, ok = p.Get(svcB)
	assert.True(t, ok, "samples taken before the failure are kept")
	require.Len(t, sink.statuses(), 1)
}

func TestPollerPrefersBatch(t *testing.T) {
	b := &batchBackend{fakeBackend: newFakeBackend(svcA, svcB)}
	p := NewPoller(&sync.Mutex{}, b, time.Second, nil, zerolog.Nop())
	require.NoError(t, p.Poll(context.Background()))
	assert.Equal(t, 1, b.batches)
	assert.Zero(t, b.statusCalls())
}

func TestPollerRecoversPanic(t *testing.T) {
	b := newFakeBackend(svcA)
	b.panicOn = "status a"
	p := NewPoller(&sync.Mutex{}, b, time.Second, nil, zerolog.Nop())

	err := p.Poll(context.Background())
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindUnexpected, ErrorKind(err))
}

func TestPollerErrorSuppression(t *testing.T) {
	var buf syncBuffer
	b := newFakeBackend(svcA)
	b.fail(svcA, errors.New("down"))
	p := NewPoller(&sync.Mutex{}, b, time.Second, nil, testLogger(&buf))
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		p.pollAndReport(ctx)
	}
	assert.Equal(t, MaxLoggedPollErrors, strings.Count(buf.String(), "polling failed"))
	assert.Equal(t, 1, strings.Count(buf.String(), `"suppressing":true`))

	b.fail(svcA, nil)
	p.pollAndReport(ctx)
	assert.Contains(t, buf.String(), "polling recovered")

	// the counter starts over
	b.fail(svcA, errors.New("down again"))
	p.pollAndReport(ctx)
	assert.Equal(t, MaxLoggedPollErrors+1, strings.Count(buf.String(), "polling failed"))
}

func TestPollerMaxLoggedOverride(t *testing.T) {
	var buf syncBuffer
	b := newFakeBackend(svcA)
	b.fail(svcA, errors.New("down"))
	p := NewPoller(&sync.Mutex{}, b, time.Second, nil, testLogger(&buf), WithMaxLoggedErrors(1))
	for i := 0; i < 4; i++ {
		p.pollAndReport(context.Background())
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "polling failed"))
}
