// Package dispatch fans channel events out to subscriber sessions.
//
// Publishing never blocks: each session owns a bounded buffer, and a session whose
// buffer is full when an event arrives is evicted instead of slowing the channel.
package dispatch

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/onnwee/mod-tender/moderation"
	"github.com/onnwee/mod-tender/telemetry"
)

var ErrBackpressureExceeded = errors.New("backpressure exceeded")

const DefaultBuffer = 256

// Broker holds one topic per channel.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Session
	buffer int
}

// New returns a Broker whose sessions buffer up to buffer events (DefaultBuffer when <= 0).
func New(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{topics: make(map[string]map[string]*Session), buffer: buffer}
}

// Session is one subscriber of a channel topic.
type Session struct {
	id        string
	channelID string
	events    chan moderation.Event
	done      chan struct{}
	once      sync.Once
	dropped   atomic.Bool
	err       error
	broker    *Broker
}

func (s *Session) ID() string                       { return s.id }
func (s *Session) ChannelID() string                { return s.channelID }
func (s *Session) Events() <-chan moderation.Event { return s.events }
func (s *Session) Done() <-chan struct{}           { return s.done }

// Err is nil while the session is attached and after Close; otherwise it is
// ErrBackpressureExceeded or the reason passed to CloseTopic.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close detaches the session. Buffered events remain readable until drained.
func (s *Session) Close() { s.broker.remove(s, nil) }

// Attach subscribes a new session to channelID. It receives events published after
// it is attached.
func (b *Broker) Attach(channelID string) moderation.Subscription {
	return b.AttachSession(channelID)
}

func (b *Broker) AttachSession(channelID string) *Session {
	s := &Session{
		id:        uuid.NewString(),
		channelID: channelID,
		events:    make(chan moderation.Event, b.buffer),
		done:      make(chan struct{}),
		broker:    b,
	}
	b.mu.Lock()
	t, ok := b.topics[channelID]
	if !ok {
		t = make(map[string]*Session)
		b.topics[channelID] = t
	}
	t[s.id] = s
	b.mu.Unlock()
	telemetry.AddDispatchSessions(1)
	return s
}

// Publish delivers ev to every session of its channel without blocking.
func (b *Broker) Publish(ev moderation.Event) {
	var evicted []*Session
	b.mu.RLock()
	for _, s := range b.topics[ev.ChannelID] {
		if s.dropped.Load() {
			continue
		}
		select {
		case s.events <- ev:
		default:
			// a session that missed one event must not see later ones
			s.dropped.Store(true)
			evicted = append(evicted, s)
		}
	}
	b.mu.RUnlock()
	telemetry.IncDispatchPublished(string(ev.Kind))

	for _, s := range evicted {
		slog.Warn("evicting slow subscriber",
			slog.String("channel", s.channelID),
			slog.String("session", s.id),
			slog.Uint64("seq", ev.Seq),
			slog.String("component", "dispatch"))
		telemetry.IncDispatchEviction()
		b.remove(s, ErrBackpressureExceeded)
	}
}

// CloseTopic disconnects every session of channelID with reason.
func (b *Broker) CloseTopic(channelID string, reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.topics[channelID] {
		b.removeLocked(s, reason)
	}
	delete(b.topics, channelID)
}

// Sessions reports the number of sessions attached to channelID.
func (b *Broker) Sessions(channelID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[channelID])
}

func (b *Broker) remove(s *Session, reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(s, reason)
}

// removeLocked detaches s exactly once. Publishers hold b.mu for reading while
// sending, so closing s.events under the write lock cannot race a send.
func (b *Broker) removeLocked(s *Session, reason error) {
	s.once.Do(func() {
		if t := b.topics[s.channelID]; t != nil && t[s.id] == s {
			delete(t, s.id)
			if len(t) == 0 {
				delete(b.topics, s.channelID)
			}
		}
		s.err = reason
		close(s.events)
		close(s.done)
		telemetry.AddDispatchSessions(-1)
	})
}
