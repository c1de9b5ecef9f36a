// Package realtime keeps a change-feed subscription alive across transient
// disconnects, retrying with bounded exponential backoff.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"car-marketplace/internal/domain"
	"car-marketplace/internal/observability"
	"car-marketplace/pkg/logger"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

var (
	ErrFailed    = errors.New("realtime: subscription failed, reset required")
	ErrNotFailed = errors.New("realtime: reset is only valid after a failure")
	errDropped   = errors.New("realtime: subscription dropped")
)

const unsubscribeTimeout = 5 * time.Second

type Config struct {
	Topic       string
	MaxAttempts int
	BackoffBase time.Duration
	// MaxBackoff caps a single delay. Zero leaves the doubling uncapped
	// within MaxAttempts.
	MaxBackoff time.Duration
}

func (c Config) validate() error {
	if c.Topic == "" {
		return fmt.Errorf("realtime: topic is required")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("realtime: max attempts must be positive")
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("realtime: backoff base must be positive")
	}
	return nil
}

// StateChange is delivered to observers after every transition.
type StateChange struct {
	From    State
	To      State
	Event   Event
	Attempt int
	// Delay is the wait before the next attempt when To is Reconnecting.
	Delay time.Duration
	Err   error
}

// FailureNotifier receives the single terminal notice emitted when retries
// are exhausted.
type FailureNotifier interface {
	NotifyConnectionFailed(topic string, attempts int, lastErr error)
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithMetrics(metrics *observability.Metrics, backend string) Option {
	return func(m *Manager) {
		m.metrics = metrics
		m.backend = backend
	}
}

func WithFailureNotifier(n FailureNotifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// Manager owns one logical subscription to a feed topic.
type Manager struct {
	feed     domain.FeedClient
	handler  domain.ChangeHandler
	cfg      Config
	clock    clock.Clock
	log      logger.Logger
	metrics  *observability.Metrics
	backend  string
	notifier FailureNotifier

	mu             sync.Mutex
	state          State
	attemptCount   int
	isReconnecting bool
	backoff        *backoff.ExponentialBackOff
	retryTimer     *clock.Timer
	// generation invalidates handles, timers and in-flight attempts that
	// belong to an earlier attempt or to a torn-down session.
	generation  uint64
	sub         domain.Subscription
	pendingDrop error
	ctx         context.Context
	cancel      context.CancelFunc
	listeners   map[int]func(StateChange)
	nextID      int
}

func NewManager(feed domain.FeedClient, handler domain.ChangeHandler, cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = cfg.BackoffBase << min(cfg.MaxAttempts, 20)
	}
	if cfg.MaxBackoff < cfg.BackoffBase {
		cfg.MaxBackoff = cfg.BackoffBase
	}

	m := &Manager{
		feed:      feed,
		handler:   handler,
		cfg:       cfg,
		clock:     clock.New(),
		log:       logger.NewNop(),
		listeners: make(map[int]func(StateChange)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("topic", cfg.Topic)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Clock = m.clock
	b.Reset()
	m.backoff = b

	return m, nil
}

func (m *Manager) Topic() string {
	return m.cfg.Topic
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts is the number of reconnect attempts since the last successful connection.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attemptCount
}

// OnStateChange registers an observer. Observers run outside the manager's
// lock and must not block.
func (m *Manager) OnStateChange(fn func(StateChange)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Connect starts the subscription. The first attempt runs before Connect
// returns; transient failures are retried in the background and are not
// returned. ctx bounds the whole session, not just the first attempt.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Failed:
		m.mu.Unlock()
		return ErrFailed
	case Disconnected:
	default:
		m.mu.Unlock()
		return nil
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	change := m.transitionLocked(EventConnect, nil)
	gen := m.bumpGenerationLocked()
	m.mu.Unlock()

	m.emit(change)
	m.attempt(gen)
	return nil
}

// Disconnect tears the session down from any state. Pending retries are
// cancelled and no reconnection follows.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.state == Disconnected && m.sub == nil {
		m.mu.Unlock()
		return nil
	}

	m.stopTimerLocked()
	m.bumpGenerationLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	sub := m.sub
	m.sub = nil
	m.resetCountersLocked()
	change := m.transitionLocked(EventDisconnect, nil)
	m.mu.Unlock()

	m.emit(change)
	m.log.Info("Feed subscription disconnected")

	if sub != nil {
		return m.unsubscribe(sub)
	}
	return nil
}

// Reset leaves the Failed state so Connect can be called again.
func (m *Manager) Reset() error {
	m.mu.Lock()
	if m.state != Failed {
		m.mu.Unlock()
		return ErrNotFailed
	}
	m.bumpGenerationLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.resetCountersLocked()
	change := m.transitionLocked(EventReset, nil)
	m.mu.Unlock()

	m.emit(change)
	return nil
}

func (m *Manager) attempt(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state != Connecting {
		m.mu.Unlock()
		return
	}
	prev := m.sub
	m.sub = nil
	m.pendingDrop = nil
	ctx := m.ctx
	retrying := m.isReconnecting
	m.mu.Unlock()

	if prev != nil {
		m.unsubscribe(prev)
	}

	sub, err := m.feed.Subscribe(ctx, m.cfg.Topic, m.eventHandler(gen), m.closeHandler(gen))

	m.mu.Lock()
	if gen != m.generation || m.state != Connecting {
		// Torn down while the attempt was in flight.
		m.mu.Unlock()
		if err == nil && sub != nil {
			m.unsubscribe(sub)
		}
		return
	}

	var (
		changes  []StateChange
		failed   bool
		attempts = m.attemptCount
	)
	if err != nil {
		m.log.Warn("Feed subscribe attempt failed", "attempt", m.attemptCount, "error", err)
		changes, failed = m.attemptFailedLocked(err)
	} else {
		m.sub = sub
		m.attemptCount = 0
		m.isReconnecting = false
		m.backoff.Reset()
		changes = append(changes, m.transitionLocked(EventConnected, nil))

		if drop := m.pendingDrop; drop != nil {
			m.pendingDrop = nil
			changes = append(changes, m.dropLocked(drop)...)
		}
	}
	m.mu.Unlock()

	if retrying {
		m.recordAttempt(err)
	}
	m.emit(changes...)
	if failed {
		m.notifyFailure(attempts, err)
	}
}

func (m *Manager) attemptFailedLocked(err error) ([]StateChange, bool) {
	if m.attemptCount >= m.cfg.MaxAttempts {
		m.isReconnecting = false
		m.stopTimerLocked()
		return []StateChange{m.transitionLocked(EventGiveUp, err)}, true
	}
	change := m.transitionLocked(EventConnectFailed, err)
	return []StateChange{m.scheduleRetryLocked(change)}, false
}

func (m *Manager) dropLocked(err error) []StateChange {
	change := m.transitionLocked(EventDropped, err)
	return []StateChange{m.scheduleRetryLocked(change)}
}

// scheduleRetryLocked arms the retry timer for the current Reconnecting
// state. The delay is BackoffBase × 2^attemptCount.
func (m *Manager) scheduleRetryLocked(change StateChange) StateChange {
	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = m.cfg.MaxBackoff
	}
	m.attemptCount++
	m.isReconnecting = true

	gen := m.generation
	m.stopTimerLocked()
	m.retryTimer = m.clock.AfterFunc(delay, func() {
		m.onRetryTimer(gen)
	})

	change.Attempt = m.attemptCount
	change.Delay = delay
	m.log.Info("Feed reconnect scheduled", "attempt", m.attemptCount, "delay", delay)
	return change
}

func (m *Manager) onRetryTimer(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.state != Reconnecting {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	change := m.transitionLocked(EventRetry, nil)
	next := m.bumpGenerationLocked()
	m.mu.Unlock()

	m.emit(change)
	m.attempt(next)
}

func (m *Manager) eventHandler(gen uint64) domain.ChangeHandler {
	return func(event *domain.ChangeEvent) {
		m.mu.Lock()
		live := gen == m.generation && (m.state == Connected || m.state == Connecting)
		m.mu.Unlock()
		if !live || m.handler == nil {
			return
		}
		m.handler(event)
	}
}

func (m *Manager) closeHandler(gen uint64) func(error) {
	return func(err error) {
		if err == nil {
			err = errDropped
		}

		m.mu.Lock()
		if gen != m.generation {
			m.mu.Unlock()
			return
		}
		switch {
		case m.state == Connecting:
			// Dropped before the attempt finished; handled once it does.
			m.pendingDrop = err
			m.mu.Unlock()
			return
		case m.state != Connected || m.isReconnecting:
			m.mu.Unlock()
			return
		}
		m.log.Warn("Feed subscription dropped", "error", err)
		changes := m.dropLocked(err)
		m.mu.Unlock()

		m.emit(changes...)
	}
}

func (m *Manager) transitionLocked(ev Event, err error) StateChange {
	from := m.state
	to, terr := Transition(from, ev)
	if terr != nil {
		m.log.Error("Rejected feed state transition", "error", terr)
		return StateChange{From: from, To: from, Event: ev, Attempt: m.attemptCount, Err: terr}
	}
	m.state = to
	if m.metrics != nil {
		m.metrics.StateTransitions.WithLabelValues(to.String()).Inc()
	}
	return StateChange{From: from, To: to, Event: ev, Attempt: m.attemptCount, Err: err}
}

func (m *Manager) bumpGenerationLocked() uint64 {
	m.generation++
	return m.generation
}

func (m *Manager) stopTimerLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) resetCountersLocked() {
	m.attemptCount = 0
	m.isReconnecting = false
	m.pendingDrop = nil
	m.backoff.Reset()
}

func (m *Manager) unsubscribe(sub domain.Subscription) error {
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()

	if err := m.feed.Unsubscribe(ctx, sub); err != nil {
		m.log.Error("Failed to unsubscribe from feed", "error", err)
		return err
	}
	return nil
}

func (m *Manager) emit(changes ...StateChange) {
	if len(changes) == 0 {
		return
	}
	m.mu.Lock()
	listeners := make([]func(StateChange), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, change := range changes {
		for _, fn := range listeners {
			fn(change)
		}
	}
}

func (m *Manager) recordAttempt(err error) {
	if m.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.metrics.ReconnectAttempts.WithLabelValues(outcome).Inc()
}

func (m *Manager) notifyFailure(attempts int, err error) {
	m.log.Error("Feed subscription failed, giving up", "attempts", attempts, "error", err)
	if m.metrics != nil {
		m.metrics.ConnectionFailures.WithLabelValues(m.backend).Inc()
	}
	if m.notifier != nil {
		m.notifier.NotifyConnectionFailed(m.cfg.Topic, attempts, err)
	}
}
