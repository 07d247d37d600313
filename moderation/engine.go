package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/mod-tender/audit"
	"github.com/onnwee/mod-tender/slowmode"
	"github.com/onnwee/mod-tender/telemetry"
)

const (
	// DefaultMaxMessages bounds the messages retained per channel.
	DefaultMaxMessages = 5000

	// ActorPlatform is the actor recorded for deletes reported by the chat platform.
	ActorPlatform = "platform"
	// ActorExpiry is the actor of standing changes caused by a timeout running out.
	ActorExpiry = "expiry"
)

type channelState struct {
	mu        sync.RWMutex
	id        string
	messages  map[uint64]*ChatMessage
	order     []uint64 // arrival order, oldest first
	bySource  map[string]uint64
	standings map[string]*Standing
	nextID    uint64
	seq       uint64
	closed    bool
}

func newChannelState(id string) *channelState {
	return &channelState{
		id:        id,
		messages:  make(map[uint64]*ChatMessage),
		bySource:  make(map[string]uint64),
		standings: make(map[string]*Standing),
	}
}

// Engine is the moderation state machine for all live channels.
type Engine struct {
	mu       sync.RWMutex
	channels map[string]*channelState

	limiter         *slowmode.Limiter
	recorder        *audit.Recorder
	broker          Broker
	now             func() time.Time
	maxMessages     int
	defaultSlowMode int
}

type Option func(*Engine)

// WithClock replaces time.Now as the engine clock.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithBroker(b Broker) Option { return func(e *Engine) { e.broker = b } }

func WithRecorder(r *audit.Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithMaxMessages bounds retained messages per channel; oldest are evicted first.
func WithMaxMessages(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxMessages = n
		}
	}
}

// WithDefaultSlowMode enables slow mode with the given delay on every new channel.
// Zero leaves slow mode off.
func WithDefaultSlowMode(seconds int) Option {
	return func(e *Engine) {
		if seconds > 0 {
			e.defaultSlowMode = seconds
		}
	}
}

// New returns an Engine admitting messages through limiter. Without WithBroker
// events are discarded; without WithRecorder nothing is audited.
func New(limiter *slowmode.Limiter, opts ...Option) *Engine {
	if limiter == nil {
		limiter = slowmode.New()
	}
	e := &Engine{
		channels:    make(map[string]*channelState),
		limiter:     limiter,
		broker:      nopBroker{},
		now:         time.Now,
		maxMessages: DefaultMaxMessages,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) lookup(id string) *channelState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.channels[id]
}

// channel returns the live state of id, creating it on first use.
func (e *Engine) channel(id string) *channelState {
	if ch := e.lookup(id); ch != nil {
		return ch
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.channels[id]; ok {
		return ch
	}
	ch := newChannelState(id)
	e.channels[id] = ch
	if e.defaultSlowMode > 0 {
		if _, err := e.limiter.Configure(id, true, e.defaultSlowMode); err != nil {
			slog.Warn("default slow mode rejected", slog.String("channel", id), slog.Any("err", err), slog.String("component", "moderation"))
		}
	}
	telemetry.SetActiveChannels(len(e.channels))
	return ch
}

// lockChannel write-locks the live state of id. A state closed while we waited is
// skipped in favour of its replacement.
func (e *Engine) lockChannel(id string) *channelState {
	for {
		ch := e.channel(id)
		ch.mu.Lock()
		if !ch.closed {
			return ch
		}
		ch.mu.Unlock()
	}
}

func (e *Engine) rlockChannel(id string) *channelState {
	for {
		ch := e.channel(id)
		ch.mu.RLock()
		if !ch.closed {
			return ch
		}
		ch.mu.RUnlock()
	}
}

// publishLocked assigns the next sequence number and hands ev to the broker.
// The caller holds ch.mu for writing.
func (e *Engine) publishLocked(ch *channelState, ev Event) uint64 {
	ch.seq++
	ev.Seq = ch.seq
	ev.ChannelID = ch.id
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.broker.Publish(ev)
	return ev.Seq
}

// standingView returns the effective standing of userID without mutating state.
func standingView(ch *channelState, userID string, now time.Time) Standing {
	st, ok := ch.standings[userID]
	if !ok {
		return Standing{UserID: userID, ChannelID: ch.id, State: StandingNormal}
	}
	out := *st
	if out.State == StandingTimedOut && out.TimeoutExpiresAt != nil && !now.Before(*out.TimeoutExpiresAt) {
		out.State = StandingNormal
		out.TimeoutExpiresAt = nil
	}
	return out
}

// standingLocked returns the mutable standing of userID, first correcting an
// expired timeout. The caller holds ch.mu for writing.
func (e *Engine) standingLocked(ch *channelState, userID string, now time.Time) *Standing {
	st, ok := ch.standings[userID]
	if !ok {
		st = &Standing{UserID: userID, ChannelID: ch.id, State: StandingNormal}
		ch.standings[userID] = st
		return st
	}
	if st.State == StandingTimedOut && st.TimeoutExpiresAt != nil && !now.Before(*st.TimeoutExpiresAt) {
		st.State = StandingNormal
		st.TimeoutExpiresAt = nil
		cp := *st
		e.publishLocked(ch, Event{Kind: EventStandingChanged, At: now, Standing: &cp, UserID: userID, ActorID: ActorExpiry})
	}
	return st
}

// authorStandingLocked is standingLocked for message authors: users without a
// standing record are not given one.
func (e *Engine) authorStandingLocked(ch *channelState, userID string, now time.Time) Standing {
	if _, ok := ch.standings[userID]; !ok {
		return Standing{UserID: userID, ChannelID: ch.id, State: StandingNormal}
	}
	return *e.standingLocked(ch, userID, now)
}

func validateIngest(ev IngestEvent) error {
	var missing []string
	if ev.ChannelID == "" {
		missing = append(missing, "channelId")
	}
	if ev.AuthorID == "" {
		missing = append(missing, "authorId")
	}
	if strings.TrimSpace(ev.Body) == "" {
		missing = append(missing, "body")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedEvent, strings.Join(missing, ", "))
	}
	return nil
}

func reject(reason RejectReason, err error, retry time.Duration) IngestResult {
	telemetry.IncIngest(string(reason))
	return IngestResult{Reason: reason, Err: err, RetryAfter: retry}
}

// Ingest admits one chat message: standing check, then slow mode, then commit as
// visible and publish message_accepted. The whole admission holds the channel
// write lock; a rejected message never consumes a cooldown.
func (e *Engine) Ingest(ctx context.Context, ev IngestEvent) IngestResult {
	start := time.Now()
	defer func() {
		if telemetry.IngestDuration != nil {
			telemetry.IngestDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if err := validateIngest(ev); err != nil {
		return reject(RejectMalformed, err, 0)
	}
	now := e.now()

	ch := e.lockChannel(ev.ChannelID)
	defer ch.mu.Unlock()
	st := e.authorStandingLocked(ch, ev.AuthorID, now)
	if st.State == StandingTimedOut {
		return reject(RejectTimedOut, ErrUserTimedOut, st.TimeoutExpiresAt.Sub(now))
	}

	d := e.limiter.Admit(slowmode.Request{
		ChannelID:  ev.ChannelID,
		UserID:     ev.AuthorID,
		Privileged: ev.Roles.Privileged(),
		Banned:     st.State == StandingBanned,
		At:         now,
	})
	if !d.Accepted {
		if d.Reason == slowmode.ReasonBanned {
			return reject(RejectBanned, ErrUserBanned, 0)
		}
		return reject(RejectRateLimit, ErrRateLimited, d.Remaining)
	}

	ch.nextID++
	msg := &ChatMessage{
		ID:                ch.nextID,
		ChannelID:         ch.id,
		AuthorID:          ev.AuthorID,
		AuthorDisplayName: ev.AuthorDisplayName,
		Body:              ev.Body,
		Roles:             ev.Roles,
		Status:            StatusVisible,
		ReceivedAt:        now,
		SourceMessageID:   ev.SourceMessageID,
	}
	if msg.AuthorDisplayName == "" {
		msg.AuthorDisplayName = ev.AuthorID
	}
	ch.messages[msg.ID] = msg
	ch.order = append(ch.order, msg.ID)
	if msg.SourceMessageID != "" {
		ch.bySource[msg.SourceMessageID] = msg.ID
	}
	e.evictLocked(ch)

	cp := *msg
	e.publishLocked(ch, Event{Kind: EventMessageAccepted, At: now, Message: &cp})
	telemetry.IncIngest("accepted")
	return IngestResult{Accepted: true, Message: cp}
}

func (e *Engine) evictLocked(ch *channelState) {
	for len(ch.order) > e.maxMessages {
		id := ch.order[0]
		ch.order = ch.order[1:]
		if m, ok := ch.messages[id]; ok {
			// a later message may have reused the source id
			if m.SourceMessageID != "" && ch.bySource[m.SourceMessageID] == id {
				delete(ch.bySource, m.SourceMessageID)
			}
			delete(ch.messages, id)
		}
	}
}

// ObserveJoin publishes a user_joined presence event. Joins are not audited.
func (e *Engine) ObserveJoin(_ context.Context, channelID, userID, displayName string) uint64 {
	ch := e.lockChannel(channelID)
	defer ch.mu.Unlock()
	return e.publishLocked(ch, Event{Kind: EventUserJoined, UserID: userID, DisplayName: displayName})
}

func snapshotLocked(ch *channelState, n int) []ChatMessage {
	out := make([]ChatMessage, 0)
	if n <= 0 {
		return out
	}
	for i := len(ch.order) - 1; i >= 0 && len(out) < n; i-- {
		if m := ch.messages[ch.order[i]]; m != nil && m.Status == StatusVisible {
			out = append(out, *m)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Snapshot returns up to n most recent visible messages in arrival order.
func (e *Engine) Snapshot(channelID string, n int) []ChatMessage {
	ch := e.lookup(channelID)
	if ch == nil {
		return []ChatMessage{}
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return snapshotLocked(ch, n)
}

func (e *Engine) Message(channelID string, id uint64) (ChatMessage, error) {
	ch := e.lookup(channelID)
	if ch == nil {
		return ChatMessage{}, ErrMessageNotFound
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	m, ok := ch.messages[id]
	if !ok {
		return ChatMessage{}, ErrMessageNotFound
	}
	return *m, nil
}

// Standing returns the effective standing of a user; expired timeouts read as normal.
func (e *Engine) Standing(channelID, userID string) Standing {
	ch := e.lookup(channelID)
	if ch == nil {
		return Standing{UserID: userID, ChannelID: channelID, State: StandingNormal}
	}
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return standingView(ch, userID, e.now())
}

func (e *Engine) SlowMode(channelID string) slowmode.Config { return e.limiter.Config(channelID) }

// OpenChannel starts a live session for channelID if none exists.
func (e *Engine) OpenChannel(channelID string) { e.channel(channelID) }

// Channels lists the channels with a live session, sorted.
func (e *Engine) Channels() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.channels))
	for id := range e.channels {
		out = append(out, id)
	}
	e.mu.RUnlock()
	sort.Strings(out)
	return out
}

// CloseChannel ends the live session of channelID: messages, standings and
// cooldowns are discarded and every subscriber is disconnected with ErrChannelClosed.
func (e *Engine) CloseChannel(ctx context.Context, actorID, channelID string) (Receipt, error) {
	e.mu.Lock()
	ch, ok := e.channels[channelID]
	if !ok {
		e.mu.Unlock()
		return Receipt{}, ErrChannelNotFound
	}
	delete(e.channels, channelID)
	telemetry.SetActiveChannels(len(e.channels))
	ch.mu.Lock()
	ch.closed = true
	e.limiter.ResetChannel(channelID)
	e.broker.CloseTopic(channelID, ErrChannelClosed)
	ch.mu.Unlock()
	e.mu.Unlock()

	slog.Info("channel session closed", slog.String("channel", channelID), slog.String("actor", actorID), slog.String("component", "moderation"))
	return Receipt{AuditErr: e.audit(ctx, audit.Entry{
		ChannelID: channelID, ActorID: actorID, Action: "close_channel", TargetID: channelID,
	})}, nil
}

// SubscribeOptions configures Subscribe.
type SubscribeOptions struct {
	// Snapshot is the number of recent visible messages returned with the subscription.
	Snapshot int
}

// Subscribed is an attached subscription plus the state it starts from.
type Subscribed struct {
	Subscription Subscription
	Snapshot     []ChatMessage
	// Seq is the last sequence number reflected in Snapshot; the first event
	// delivered on Subscription has Seq+1.
	Seq      uint64
	SlowMode slowmode.Config
}

// Subscribe attaches a subscriber to channelID. The snapshot and the attachment
// happen under the lock that orders publication, so they neither overlap nor gap.
func (e *Engine) Subscribe(channelID string, opts SubscribeOptions) Subscribed {
	ch := e.rlockChannel(channelID)
	defer ch.mu.RUnlock()
	return Subscribed{
		Subscription: e.broker.Attach(channelID),
		Snapshot:     snapshotLocked(ch, opts.Snapshot),
		Seq:          ch.seq,
		SlowMode:     e.limiter.Config(channelID),
	}
}

func (e *Engine) audit(ctx context.Context, entry audit.Entry) error {
	if e.recorder == nil {
		return nil
	}
	if entry.At.IsZero() {
		entry.At = e.now()
	}
	return e.recorder.Record(ctx, entry)
}

type nopBroker struct{}

func (nopBroker) Publish(Event)             {}
func (nopBroker) CloseTopic(string, error) {}
func (nopBroker) Attach(string) Subscription {
	return closedSubscription{}
}

type closedSubscription struct{}

var closedCh = func() chan struct{} { c := make(chan struct{}); close(c); return c }()

func (closedSubscription) ID() string { return "" }
func (closedSubscription) Events() <-chan Event {
	c := make(chan Event)
	close(c)
	return c
}
func (closedSubscription) Done() <-chan struct{} { return closedCh }
func (closedSubscription) Err() error            { return ErrChannelClosed }
func (closedSubscription) Close()                {}
