package broadcast

import (
	"sync"
	"time"

	"crisiswatch/pkg/models"
)

type SubscriberState int32

const (
	StateConnecting SubscriberState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s SubscriberState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Subscriber is one connected client. Deliveries go through a buffered send
// channel drained by the connection's write loop; TrySend never blocks the
// publisher.
type Subscriber struct {
	ID string

	mu       sync.RWMutex
	channels map[string]struct{}
	state    SubscriberState
	lastSeen time.Time

	send      chan models.BroadcastMessage
	closeOnce sync.Once
}

func NewSubscriber(id string, channels []string, buffer int) *Subscriber {
	subscribed := make(map[string]struct{}, len(channels))
	for _, c := range channels {
		subscribed[c] = struct{}{}
	}

	return &Subscriber{
		ID:       id,
		channels: subscribed,
		state:    StateConnecting,
		lastSeen: time.Now(),
		send:     make(chan models.BroadcastMessage, buffer),
	}
}

func (s *Subscriber) State() SubscriberState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Subscriber) setState(state SubscriberState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Open marks the subscriber ready to receive. Only a connecting subscriber
// can open.
func (s *Subscriber) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return false
	}
	s.state = StateOpen
	return true
}

func (s *Subscriber) Subscribed(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[channel]
	return ok
}

func (s *Subscriber) Subscribe(channel string) {
	s.mu.Lock()
	s.channels[channel] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) Unsubscribe(channel string) {
	s.mu.Lock()
	delete(s.channels, channel)
	s.mu.Unlock()
}

func (s *Subscriber) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]string, 0, len(s.channels))
	for c := range s.channels {
		channels = append(channels, c)
	}
	return channels
}

// Touch records client liveness. The hub evicts subscribers whose last
// touch is older than the stale threshold.
func (s *Subscriber) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Subscriber) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// TrySend queues a message without blocking. It reports false when the
// subscriber is not open or its buffer is full; the caller decides what a
// full buffer means.
func (s *Subscriber) TrySend(msg models.BroadcastMessage) bool {
	if s.State() != StateOpen {
		return false
	}

	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// Outbox is drained by the connection's write loop. It is closed once the
// subscriber closes.
func (s *Subscriber) Outbox() <-chan models.BroadcastMessage {
	return s.send
}

// Close moves the subscriber to closed and closes the outbox. Safe to call
// from multiple goroutines.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		close(s.send)
		s.setState(StateClosed)
	})
}
