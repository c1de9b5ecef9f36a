package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"car-marketplace/internal/domain"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var errUnavailable = errors.New("feed unavailable")

type fakeSub struct {
	id      int
	topic   string
	handler domain.ChangeHandler
	onClose func(error)
}

func (s *fakeSub) Topic() string { return s.topic }

// fakeFeed answers Subscribe from a script of results; once the script is
// exhausted it keeps returning fallback.
type fakeFeed struct {
	mu           sync.Mutex
	clock        clock.Clock
	script       []error
	fallback     error
	calls        []time.Time
	subs         []*fakeSub
	unsubscribed []*fakeSub
	log          []string
	block        chan struct{}
}

func (f *fakeFeed) Subscribe(ctx context.Context, topic string, handler domain.ChangeHandler, onClose func(error)) (domain.Subscription, error) {
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, f.clock.Now())
	f.log = append(f.log, "subscribe")

	err := f.fallback
	if len(f.script) > 0 {
		err = f.script[0]
		f.script = f.script[1:]
	}
	if err != nil {
		return nil, err
	}
	sub := &fakeSub{id: len(f.subs) + 1, topic: topic, handler: handler, onClose: onClose}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeFeed) Unsubscribe(_ context.Context, sub domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, sub.(*fakeSub))
	f.log = append(f.log, "unsubscribe")
	return nil
}

func (f *fakeFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFeed) lastSub() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

type countingNotifier struct {
	mu       sync.Mutex
	topics   []string
	attempts []int
}

func (n *countingNotifier) NotifyConnectionFailed(topic string, attempts int, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topics = append(n.topics, topic)
	n.attempts = append(n.attempts, attempts)
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.topics)
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *changeRecorder) record(c StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []time.Duration
	for _, c := range r.changes {
		if c.To == Reconnecting {
			out = append(out, c.Delay)
		}
	}
	return out
}

func (r *changeRecorder) countTo(state State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.changes {
		if c.To == state {
			n++
		}
	}
	return n
}

type harness struct {
	clock    *clock.Mock
	feed     *fakeFeed
	notifier *countingNotifier
	changes  *changeRecorder
	manager  *Manager
	events   chan *domain.ChangeEvent
}

func newHarness(t *testing.T, maxAttempts int) *harness {
	t.Helper()

	mockClock := clock.NewMock()
	mockClock.Set(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))

	h := &harness{
		clock:    mockClock,
		feed:     &fakeFeed{clock: mockClock},
		notifier: &countingNotifier{},
		changes:  &changeRecorder{},
		events:   make(chan *domain.ChangeEvent, 16),
	}

	m, err := NewManager(h.feed, func(e *domain.ChangeEvent) { h.events <- e }, Config{
		Topic:       "listing:car-42",
		MaxAttempts: maxAttempts,
		BackoffBase: time.Second,
		MaxBackoff:  time.Hour,
	}, WithClock(mockClock), WithFailureNotifier(h.notifier))
	require.NoError(t, err)
	m.OnStateChange(h.changes.record)
	h.manager = m

	t.Cleanup(func() { _ = m.Disconnect() })
	return h
}

// advance moves the mock clock and waits for the retry it triggers to finish.
func (h *harness) advance(t *testing.T, d time.Duration, wantCalls int) {
	t.Helper()
	h.clock.Add(d)
	require.Eventually(t, func() bool {
		return h.feed.callCount() == wantCalls && h.manager.State() != Connecting
	}, waitFor, tick)
}

func TestNewManagerValidatesConfig(t *testing.T) {
	feed := &fakeFeed{clock: clock.NewMock()}

	_, err := NewManager(feed, nil, Config{MaxAttempts: 3, BackoffBase: time.Second})
	assert.Error(t, err)

	_, err = NewManager(feed, nil, Config{Topic: "t", BackoffBase: time.Second})
	assert.Error(t, err)

	_, err = NewManager(feed, nil, Config{Topic: "t", MaxAttempts: 3})
	assert.Error(t, err)
}

func TestConnectSuccess(t *testing.T) {
	h := newHarness(t, 3)

	require.NoError(t, h.manager.Connect(context.Background()))

	assert.Equal(t, Connected, h.manager.State())
	assert.Equal(t, 0, h.manager.Attempts())
	assert.Equal(t, 1, h.feed.callCount())

	// Connect while connected is a no-op.
	require.NoError(t, h.manager.Connect(context.Background()))
	assert.Equal(t, 1, h.feed.callCount())
}

func TestBackoffDoublesThenFails(t *testing.T) {
	h := newHarness(t, 3)
	h.feed.fallback = errUnavailable
	start := h.clock.Now()

	require.NoError(t, h.manager.Connect(context.Background()))
	assert.Equal(t, Reconnecting, h.manager.State())
	assert.Equal(t, 1, h.manager.Attempts())

	h.clock.Add(999 * time.Millisecond)
	assert.Never(t, func() bool { return h.feed.callCount() > 1 }, 50*time.Millisecond, tick)

	h.advance(t, time.Millisecond, 2)
	assert.Equal(t, 2, h.manager.Attempts())

	h.advance(t, 2*time.Second, 3)
	assert.Equal(t, 3, h.manager.Attempts())

	h.advance(t, 4*time.Second, 4)
	assert.Equal(t, Failed, h.manager.State())

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, h.changes.delays())

	h.feed.mu.Lock()
	calls := append([]time.Time(nil), h.feed.calls...)
	h.feed.mu.Unlock()
	assert.Equal(t, []time.Time{
		start,
		start.Add(time.Second),
		start.Add(3 * time.Second),
		start.Add(7 * time.Second),
	}, calls)

	// No further automatic retries once failed.
	h.clock.Add(time.Hour)
	assert.Never(t, func() bool { return h.feed.callCount() > 4 }, 50*time.Millisecond, tick)
	assert.Equal(t, 1, h.notifier.count())
	assert.Equal(t, []string{"listing:car-42"}, h.notifier.topics)
	assert.Equal(t, 1, h.changes.countTo(Failed))
}

func TestDisconnectCancelsPendingRetry(t *testing.T) {
	h := newHarness(t, 3)
	h.feed.fallback = errUnavailable

	require.NoError(t, h.manager.Connect(context.Background()))
	require.Equal(t, Reconnecting, h.manager.State())

	require.NoError(t, h.manager.Disconnect())
	assert.Equal(t, Disconnected, h.manager.State())
	assert.Equal(t, 0, h.manager.Attempts())

	h.clock.Add(time.Minute)
	assert.Never(t, func() bool { return h.feed.callCount() > 1 }, 50*time.Millisecond, tick)
	assert.Equal(t, Disconnected, h.manager.State())
	assert.Equal(t, 0, h.notifier.count())
}

func TestLateTimerAfterDisconnectIsIgnored(t *testing.T) {
	h := newHarness(t, 3)
	h.feed.fallback = errUnavailable

	require.NoError(t, h.manager.Connect(context.Background()))

	h.manager.mu.Lock()
	staleGen := h.manager.generation
	h.manager.mu.Unlock()

	require.NoError(t, h.manager.Disconnect())

	// Simulate a timer callback that was already dispatched before Stop.
	h.manager.onRetryTimer(staleGen)

	assert.Equal(t, 1, h.feed.callCount())
	assert.Equal(t, Disconnected, h.manager.State())
}

func TestSuccessfulReconnectResetsBackoff(t *testing.T) {
	h := newHarness(t, 5)
	// initial ok, retry 1 fails, retry 2 ok, then a later retry ok
	h.feed.script = []error{nil, errUnavailable, nil, nil}

	require.NoError(t, h.manager.Connect(context.Background()))
	require.Equal(t, Connected, h.manager.State())

	h.feed.lastSub().onClose(errors.New("socket closed"))
	require.Equal(t, Reconnecting, h.manager.State())

	h.advance(t, time.Second, 2)
	require.Equal(t, Reconnecting, h.manager.State())
	assert.Equal(t, 2, h.manager.Attempts())

	h.advance(t, 2*time.Second, 3)
	require.Equal(t, Connected, h.manager.State())
	assert.Equal(t, 0, h.manager.Attempts())

	h.feed.lastSub().onClose(errors.New("socket closed again"))
	require.Equal(t, Reconnecting, h.manager.State())

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second}, h.changes.delays())

	h.advance(t, time.Second, 4)
	assert.Equal(t, Connected, h.manager.State())
}

func TestReplacedHandleIsTornDownAndSilenced(t *testing.T) {
	h := newHarness(t, 3)

	require.NoError(t, h.manager.Connect(context.Background()))
	first := h.feed.lastSub()

	first.onClose(errors.New("server closed"))
	h.advance(t, time.Second, 2)
	require.Equal(t, Connected, h.manager.State())
	second := h.feed.lastSub()
	require.NotSame(t, first, second)

	h.feed.mu.Lock()
	assert.Equal(t, []*fakeSub{first}, h.feed.unsubscribed)
	assert.Equal(t, []string{"subscribe", "unsubscribe", "subscribe"}, h.feed.log)
	h.feed.mu.Unlock()

	// The stale handle's callbacks must not reach the consumer or the state machine.
	first.handler(&domain.ChangeEvent{Type: domain.BidAccepted})
	first.onClose(errors.New("late close"))
	assert.Equal(t, Connected, h.manager.State())
	assert.Empty(t, h.events)

	second.handler(&domain.ChangeEvent{Type: domain.BidAccepted, ListingID: "car-42"})
	select {
	case e := <-h.events:
		assert.Equal(t, "car-42", e.ListingID)
	case <-time.After(waitFor):
		t.Fatal("event from active handle was not delivered")
	}
}

func TestOverlappingDropSignalsScheduleOneRetry(t *testing.T) {
	h := newHarness(t, 3)
	require.NoError(t, h.manager.Connect(context.Background()))
	sub := h.feed.lastSub()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.onClose(errors.New("transport error"))
		}()
	}
	wg.Wait()

	assert.Equal(t, Reconnecting, h.manager.State())
	assert.Equal(t, 1, h.manager.Attempts())
	assert.Equal(t, 1, h.changes.countTo(Reconnecting))

	h.advance(t, time.Second, 2)
	assert.Equal(t, Connected, h.manager.State())
}

func TestSubscribeCompletingAfterDisconnectIsTornDown(t *testing.T) {
	h := newHarness(t, 3)
	h.feed.block = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.manager.Connect(context.Background())
	}()

	require.Eventually(t, func() bool { return h.manager.State() == Connecting }, waitFor, tick)
	require.NoError(t, h.manager.Disconnect())
	close(h.feed.block)
	<-done

	assert.Equal(t, Disconnected, h.manager.State())
	h.feed.mu.Lock()
	defer h.feed.mu.Unlock()
	require.Len(t, h.feed.subs, 1)
	assert.Equal(t, []*fakeSub{h.feed.subs[0]}, h.feed.unsubscribed)
}

func TestFailedRequiresReset(t *testing.T) {
	h := newHarness(t, 1)
	h.feed.script = []error{errUnavailable, errUnavailable}

	require.NoError(t, h.manager.Connect(context.Background()))
	h.advance(t, time.Second, 2)
	require.Equal(t, Failed, h.manager.State())

	assert.ErrorIs(t, h.manager.Connect(context.Background()), ErrFailed)
	assert.Equal(t, 2, h.feed.callCount())

	require.NoError(t, h.manager.Reset())
	assert.Equal(t, Disconnected, h.manager.State())
	assert.ErrorIs(t, h.manager.Reset(), ErrNotFailed)

	require.NoError(t, h.manager.Connect(context.Background()))
	assert.Equal(t, Connected, h.manager.State())
	assert.Equal(t, 1, h.notifier.count())
}

func TestDropDuringConnectingIsReplayed(t *testing.T) {
	h := newHarness(t, 3)

	// Feed closes the subscription before Subscribe has returned to the manager.
	feed := &closingFeed{fakeFeed: h.feed}
	m, err := NewManager(feed, nil, Config{Topic: "listing:car-7", MaxAttempts: 3, BackoffBase: time.Second},
		WithClock(h.clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Disconnect() })

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, Reconnecting, m.State())
	assert.Equal(t, 1, m.Attempts())
}

// closingFeed signals a drop from inside Subscribe, before returning the handle.
type closingFeed struct {
	*fakeFeed
}

func (f *closingFeed) Subscribe(ctx context.Context, topic string, handler domain.ChangeHandler, onClose func(error)) (domain.Subscription, error) {
	sub, err := f.fakeFeed.Subscribe(ctx, topic, handler, onClose)
	if err == nil {
		onClose(errors.New("closed during handshake"))
	}
	return sub, err
}
