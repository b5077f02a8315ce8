// Package notification fans session events out to subscribers.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/playback"
)

// DefaultSendTimeout bounds a single delivery to one subscriber.
const DefaultSendTimeout = 5 * time.Second

// Notification is a session event stamped with a sequence number.
type Notification struct {
	SequenceNo uint64
	Time       time.Time
	Event      playback.Event
}

// Subscriber receives notifications.
type Subscriber interface {
	Send(ctx context.Context, n *Notification) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, n *Notification) error

// Send calls f.
func (f SubscriberFunc) Send(ctx context.Context, n *Notification) error {
	return f(ctx, n)
}

// subscription represents a subscriber's subscription.
type subscription struct {
	id         string
	subscriber Subscriber
}

// Manager manages subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
	sendTimeout   time.Duration
}

// NewManager creates a new notification manager.
func NewManager(sendTimeout time.Duration) *Manager {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Manager{
		subscriptions: make(map[string]*subscription),
		sendTimeout:   sendTimeout,
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(sub Subscriber) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{
		id:         id,
		subscriber: sub,
	}
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Notify implements playback.Notifier.
func (m *Manager) Notify(ctx context.Context, e playback.Event) {
	m.Broadcast(ctx, e)
}

// Broadcast sends the event to all subscribers in parallel and waits until every
// send finished or timed out, so that events of one session arrive in order.
func (m *Manager) Broadcast(ctx context.Context, e playback.Event) *Notification {
	m.sequenceNoMu.Lock()
	m.sequenceNo++
	n := &Notification{
		SequenceNo: m.sequenceNo,
		Time:       time.Now(),
		Event:      e,
	}
	m.sequenceNoMu.Unlock()

	m.mu.RLock()
	// Copy subscriptions to avoid holding lock during sends
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.subscriber.Send(sendCtx, n)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Warn().Msgf("failed to deliver notification: subscription=%s event=%s err=%v", s.id, e.Type, err)
				}
			case <-sendCtx.Done():
				zlog.Warn().Msgf("notification delivery timed out: subscription=%s event=%s", s.id, e.Type)
			}
		}(sub)
	}

	wg.Wait()
	return n
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
