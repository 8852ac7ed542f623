// Package subscription manages notification topic subscriptions on a single
// delivery channel. It enforces one live subscription per topic and absorbs
// upstream rate limiting: a rate-limited subscribe closes a process-wide gate
// until the server's retry-after deadline, and a single worker retries the
// waiting topics in order once the gate reopens.
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"queue_dashboard_backend/platform/apperr"
	"queue_dashboard_backend/platform/logger"

	"golang.org/x/time/rate"
)

// Transport performs the remote subscribe and unsubscribe calls.
// A rate-limited Subscribe must return an apperr.KindRateLimited error.
type Transport interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
}

// Handler receives the raw event body of every notification on a topic.
type Handler func(ctx context.Context, topic string, body json.RawMessage)

// State is the lifecycle state of a subscription record.
type State string

const (
	StateSubscribing State = "subscribing"
	StateActive      State = "active"
	StateWaiting     State = "waiting-for-retry"
)

// Subscription is a read-only view of a subscription record.
type Subscription struct {
	Topic    string    `json:"topic"`
	State    State     `json:"state"`
	RetryAt  time.Time `json:"retryAt,omitempty"`
	Attempts int       `json:"attempts"`
}

// Stats counts manager activity for diagnostics.
type Stats struct {
	Subscribed    uint64 `json:"subscribed"`
	RateLimited   uint64 `json:"rateLimited"`
	Retried       uint64 `json:"retried"`
	Failed        uint64 `json:"failed"`
	Unsubscribed  uint64 `json:"unsubscribed"`
	Undeliverable uint64 `json:"undeliverable"`
	HandlerPanics uint64 `json:"handlerPanics"`
}

// Options configures a Manager.
type Options struct {
	// Limiter paces outbound subscribe calls. Nil means unpaced.
	Limiter *rate.Limiter
	// Now and After replace the wall clock in tests.
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

type record struct {
	handler  Handler
	state    State
	retryAt  time.Time
	attempts int
}

// Manager owns the subscription records of one delivery channel.
type Manager struct {
	log     *logger.Logger
	limiter *rate.Limiter
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time

	mu        sync.Mutex
	transport Transport
	subs      map[string]*record
	retryAt   time.Time
	pending   []string
	stats     Stats
	wake      chan struct{}
}

// NewManager creates a manager. The transport may be attached later, once
// the delivery channel is open.
func NewManager(transport Transport, log *logger.Logger, opts Options) *Manager {
	m := &Manager{
		log:       log,
		limiter:   opts.Limiter,
		now:       opts.Now,
		after:     opts.After,
		transport: transport,
		subs:      make(map[string]*record),
		wake:      make(chan struct{}, 1),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.after == nil {
		m.after = time.After
	}
	return m
}

// Attach sets the transport used for remote calls.
func (m *Manager) Attach(transport Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transport = transport
}

// Subscribe registers handler for topic. It fails with an apperr.KindConflict
// error when the topic already has a subscription. When the shared retry gate
// is closed, or the upstream rate-limits this call, the subscription is parked
// and retried by Run; Subscribe then returns nil.
func (m *Manager) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if topic == "" || handler == nil {
		return apperr.BadRequest("topic and handler are required").WithOp("subscribe")
	}

	m.mu.Lock()
	if _, exists := m.subs[topic]; exists {
		m.mu.Unlock()
		return apperr.Conflict(fmt.Sprintf("already subscribed to %s", topic)).WithOp("subscribe")
	}
	if m.transport == nil {
		m.mu.Unlock()
		return apperr.Internal("no delivery channel attached").WithOp("subscribe")
	}
	rec := &record{handler: handler, state: StateSubscribing}
	m.subs[topic] = rec
	if m.now().Before(m.retryAt) {
		m.parkLocked(topic, rec)
		retryAt := rec.retryAt
		m.mu.Unlock()
		m.log.SubscriptionChanged(topic, "waiting", "retry_at", retryAt)
		return nil
	}
	m.mu.Unlock()

	return m.attempt(ctx, topic, rec)
}

// Unsubscribe drops the topic's subscription. Remote failures are logged and
// never returned.
func (m *Manager) Unsubscribe(ctx context.Context, topic string) {
	m.mu.Lock()
	rec, ok := m.subs[topic]
	if ok {
		delete(m.subs, topic)
		m.removePendingLocked(topic)
		m.stats.Unsubscribed++
	}
	transport := m.transport
	m.mu.Unlock()

	if !ok || rec.state != StateActive || transport == nil {
		return
	}
	if err := transport.Unsubscribe(ctx, topic); err != nil {
		m.log.SubscriptionFailed(topic, "unsubscribe", err)
		return
	}
	m.log.SubscriptionChanged(topic, "unsubscribed")
}

// Deliver routes an event body to the topic's handler. A panicking handler
// is logged and the subscription stays in place.
func (m *Manager) Deliver(ctx context.Context, topic string, body json.RawMessage) {
	m.mu.Lock()
	rec, ok := m.subs[topic]
	var handler Handler
	if ok {
		handler = rec.handler
	} else {
		m.stats.Undeliverable++
	}
	m.mu.Unlock()

	if !ok {
		m.log.EventDropped(topic, "", "no subscription")
		return
	}

	ctx = logger.ContextWithTopic(ctx, topic)
	defer func() {
		if r := recover(); r != nil {
			m.mu.Lock()
			m.stats.HandlerPanics++
			m.mu.Unlock()
			m.log.WithContext(ctx).Error("notification handler panicked", "panic", fmt.Sprint(r))
		}
	}()
	handler(ctx, topic, body)
}

// Run processes parked subscriptions one at a time until ctx is cancelled.
// Every retry first waits for the shared gate, so simultaneous back-offs
// share one deadline and never fan out into concurrent retries.
func (m *Manager) Run(ctx context.Context) {
	for {
		topic, ok := m.nextPending(ctx)
		if !ok {
			return
		}
		if !m.waitForGate(ctx) {
			return
		}

		m.mu.Lock()
		rec, exists := m.subs[topic]
		ready := exists && rec.state == StateWaiting
		if ready {
			rec.state = StateSubscribing
			m.stats.Retried++
		}
		m.mu.Unlock()
		if !ready {
			continue
		}

		if err := m.attempt(ctx, topic, rec); err != nil {
			m.log.SubscriptionFailed(topic, "retry", err)
		}
	}
}

// IsSubscribed reports whether topic has a record in any state.
func (m *Manager) IsSubscribed(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[topic]
	return ok
}

// Subscriptions lists all records ordered by topic.
func (m *Manager) Subscriptions() []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Subscription, 0, len(m.subs))
	for topic, rec := range m.subs {
		out = append(out, Subscription{
			Topic:    topic,
			State:    rec.state,
			RetryAt:  rec.retryAt,
			Attempts: rec.attempts,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Stats returns a copy of the activity counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// RetryDeadline is the instant the shared gate reopens.
func (m *Manager) RetryDeadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryAt
}

func (m *Manager) attempt(ctx context.Context, topic string, rec *record) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			m.drop(topic, rec)
			return err
		}
	}

	m.mu.Lock()
	transport := m.transport
	rec.attempts++
	m.mu.Unlock()

	err := transport.Subscribe(ctx, topic)

	m.mu.Lock()
	if current := m.subs[topic]; current != rec {
		// Unsubscribed while the call was in flight. A newer record for the
		// same topic owns the remote subscription, so leave it in place.
		m.mu.Unlock()
		if err == nil && current == nil {
			if undoErr := transport.Unsubscribe(ctx, topic); undoErr != nil {
				m.log.SubscriptionFailed(topic, "unsubscribe", undoErr)
			}
		}
		return nil
	}

	if err == nil {
		rec.state = StateActive
		rec.retryAt = time.Time{}
		m.stats.Subscribed++
		m.mu.Unlock()
		m.log.SubscriptionChanged(topic, "subscribed")
		return nil
	}

	if retryAfter, limited := apperr.RetryAfterOf(err); limited {
		deadline := m.now().Add(retryAfter)
		if deadline.After(m.retryAt) {
			m.retryAt = deadline
		}
		m.stats.RateLimited++
		m.parkLocked(topic, rec)
		retryAt := rec.retryAt
		m.mu.Unlock()
		m.log.SubscriptionChanged(topic, "waiting", "retry_after", retryAfter, "retry_at", retryAt)
		return nil
	}

	delete(m.subs, topic)
	m.stats.Failed++
	m.mu.Unlock()
	return err
}

func (m *Manager) drop(topic string, rec *record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[topic] == rec {
		delete(m.subs, topic)
		m.stats.Failed++
	}
}

// parkLocked marks rec as waiting on the shared gate and queues its retry.
func (m *Manager) parkLocked(topic string, rec *record) {
	rec.state = StateWaiting
	rec.retryAt = m.retryAt
	m.pending = append(m.pending, topic)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) removePendingLocked(topic string) {
	kept := m.pending[:0]
	for _, t := range m.pending {
		if t != topic {
			kept = append(kept, t)
		}
	}
	m.pending = kept
}

func (m *Manager) nextPending(ctx context.Context) (string, bool) {
	for {
		m.mu.Lock()
		if len(m.pending) > 0 {
			topic := m.pending[0]
			m.pending = m.pending[1:]
			m.mu.Unlock()
			return topic, true
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false
		case <-m.wake:
		}
	}
}

// waitForGate blocks until the shared retry deadline has passed. The deadline
// is re-read after every wake-up because another rate-limited call may have
// pushed it further out.
func (m *Manager) waitForGate(ctx context.Context) bool {
	for {
		m.mu.Lock()
		remaining := m.retryAt.Sub(m.now())
		m.mu.Unlock()
		if remaining <= 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-m.after(remaining):
		}
	}
}
