package moderation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/mod-tender/audit"
	"github.com/onnwee/mod-tender/slowmode"
	"github.com/onnwee/mod-tender/telemetry"
)

const tracerName = "moderation"

// Moderate applies a moderator action to one message.
func (e *Engine) Moderate(ctx context.Context, actorID, channelID string, messageID uint64, action Action) (ChatMessage, Receipt, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "moderation.Moderate",
		telemetry.ChannelAttr(channelID), attribute.String("moderation.action", string(action.Kind)))
	defer span.End()

	msg, seq, err := e.moderate(actorID, channelID, messageID, action)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.IncModerationAction(string(action.Kind), "rejected")
		return ChatMessage{}, Receipt{}, err
	}
	telemetry.IncModerationAction(string(action.Kind), audit.OutcomeApplied)
	auditErr := e.audit(ctx, audit.Entry{
		ChannelID: channelID,
		ActorID:   actorID,
		Action:    string(action.Kind),
		TargetID:  strconv.FormatUint(messageID, 10),
		Detail:    action.Reason,
	})
	return msg, Receipt{Seq: seq, AuditErr: auditErr}, nil
}

func (e *Engine) moderate(actorID, channelID string, messageID uint64, action Action) (ChatMessage, uint64, error) {
	if !validAction(action.Kind) {
		return ChatMessage{}, 0, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action.Kind)
	}
	ch := e.lookup(channelID)
	if ch == nil {
		return ChatMessage{}, 0, ErrMessageNotFound
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return ChatMessage{}, 0, ErrMessageNotFound
	}
	msg, ok := ch.messages[messageID]
	if !ok {
		return ChatMessage{}, 0, ErrMessageNotFound
	}
	next, err := Next(msg.Status, action.Kind)
	if err != nil {
		return ChatMessage{}, 0, err
	}
	msg.Status = next
	if next == StatusFlagged {
		msg.Reason = action.Reason
	} else {
		msg.Reason = ""
	}
	cp := *msg
	seq := e.publishLocked(ch, Event{Kind: EventMessageModerated, Message: &cp, ActorID: actorID})
	return cp, seq, nil
}

// PlatformDelete deletes the message the platform identifies by sourceMessageID.
func (e *Engine) PlatformDelete(ctx context.Context, channelID, sourceMessageID string) (ChatMessage, Receipt, error) {
	ch := e.lookup(channelID)
	if ch == nil {
		return ChatMessage{}, Receipt{}, ErrMessageNotFound
	}
	ch.mu.RLock()
	id, ok := ch.bySource[sourceMessageID]
	ch.mu.RUnlock()
	if !ok {
		return ChatMessage{}, Receipt{}, ErrMessageNotFound
	}
	return e.Moderate(ctx, ActorPlatform, channelID, id, Action{Kind: ActionDelete})
}

// Timeout suspends userID for d. Messages already accepted are untouched; a second
// timeout replaces the expiry.
func (e *Engine) Timeout(ctx context.Context, actorID, channelID, userID string, d time.Duration) (Standing, Receipt, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "moderation.Timeout", telemetry.ChannelAttr(channelID))
	defer span.End()

	if d <= 0 {
		telemetry.RecordError(span, ErrInvalidDuration)
		return Standing{}, Receipt{}, ErrInvalidDuration
	}
	st, seq, err := e.changeStanding(actorID, channelID, userID, func(st *Standing, now time.Time) error {
		if st.State == StandingBanned {
			return fmt.Errorf("%w: user is banned", ErrInvalidTransition)
		}
		exp := now.Add(d)
		st.State = StandingTimedOut
		st.TimeoutExpiresAt = &exp
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.IncModerationAction("timeout", "rejected")
		return Standing{}, Receipt{}, err
	}
	telemetry.IncModerationAction("timeout", audit.OutcomeApplied)
	auditErr := e.audit(ctx, audit.Entry{
		ChannelID: channelID, ActorID: actorID, Action: "timeout", TargetID: userID,
		Detail: d.String(),
	})
	return st, Receipt{Seq: seq, AuditErr: auditErr}, nil
}

// Release ends an active timeout early.
func (e *Engine) Release(ctx context.Context, actorID, channelID, userID string) (Standing, Receipt, error) {
	st, seq, err := e.changeStanding(actorID, channelID, userID, func(st *Standing, _ time.Time) error {
		if st.State != StandingTimedOut {
			return fmt.Errorf("%w: user is %s", ErrInvalidTransition, st.State)
		}
		st.State = StandingNormal
		st.TimeoutExpiresAt = nil
		return nil
	})
	if err != nil {
		telemetry.IncModerationAction("release", "rejected")
		return Standing{}, Receipt{}, err
	}
	telemetry.IncModerationAction("release", audit.OutcomeApplied)
	auditErr := e.audit(ctx, audit.Entry{ChannelID: channelID, ActorID: actorID, Action: "release", TargetID: userID})
	return st, Receipt{Seq: seq, AuditErr: auditErr}, nil
}

// Ban permanently rejects userID's future messages in channelID. Accepted messages
// are untouched. Banning a banned user changes nothing and publishes nothing, but is
// still audited with outcome noop.
func (e *Engine) Ban(ctx context.Context, actorID, channelID, userID string) (Standing, Receipt, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "moderation.Ban", telemetry.ChannelAttr(channelID))
	defer span.End()

	ch := e.lockChannel(channelID)
	now := e.now()
	st := e.standingLocked(ch, userID, now)
	if st.State == StandingBanned {
		cp := *st
		ch.mu.Unlock()
		telemetry.IncModerationAction("ban", audit.OutcomeNoop)
		auditErr := e.audit(ctx, audit.Entry{
			ChannelID: channelID, ActorID: actorID, Action: "ban", TargetID: userID, Outcome: audit.OutcomeNoop,
		})
		return cp, Receipt{AuditErr: auditErr}, nil
	}
	st.State = StandingBanned
	st.TimeoutExpiresAt = nil
	cp := *st
	seq := e.publishLocked(ch, Event{Kind: EventStandingChanged, At: now, Standing: &cp, UserID: userID, ActorID: actorID})
	ch.mu.Unlock()

	telemetry.IncModerationAction("ban", audit.OutcomeApplied)
	auditErr := e.audit(ctx, audit.Entry{ChannelID: channelID, ActorID: actorID, Action: "ban", TargetID: userID})
	return cp, Receipt{Seq: seq, AuditErr: auditErr}, nil
}

func (e *Engine) changeStanding(actorID, channelID, userID string, apply func(*Standing, time.Time) error) (Standing, uint64, error) {
	ch := e.lockChannel(channelID)
	defer ch.mu.Unlock()
	now := e.now()
	st := e.standingLocked(ch, userID, now)
	next := *st
	if err := apply(&next, now); err != nil {
		return Standing{}, 0, err
	}
	*st = next
	cp := next
	seq := e.publishLocked(ch, Event{Kind: EventStandingChanged, At: now, Standing: &cp, UserID: userID, ActorID: actorID})
	return cp, seq, nil
}

// SetSlowMode changes the channel's slow mode. It affects admissions that start
// after it returns.
func (e *Engine) SetSlowMode(ctx context.Context, actorID, channelID string, enabled bool, delaySeconds int) (slowmode.Config, Receipt, error) {
	ch := e.lockChannel(channelID)
	cfg, err := e.limiter.Configure(channelID, enabled, delaySeconds)
	if err != nil {
		ch.mu.Unlock()
		telemetry.IncModerationAction("slow_mode", "rejected")
		return slowmode.Config{}, Receipt{}, err
	}
	cp := cfg
	seq := e.publishLocked(ch, Event{Kind: EventSlowModeChanged, SlowMode: &cp, ActorID: actorID})
	ch.mu.Unlock()

	telemetry.IncModerationAction("slow_mode", audit.OutcomeApplied)
	auditErr := e.audit(ctx, audit.Entry{
		ChannelID: channelID, ActorID: actorID, Action: "slow_mode", TargetID: channelID,
		Detail: fmt.Sprintf("enabled=%t delay=%ds", cfg.Enabled, cfg.DelaySeconds),
	})
	return cfg, Receipt{Seq: seq, AuditErr: auditErr}, nil
}

// SendModeratorMessage posts a message authored by a moderator. It goes through
// Ingest with the moderator role, so it bypasses slow mode but not a ban.
func (e *Engine) SendModeratorMessage(ctx context.Context, channelID, moderatorID, displayName, body string) IngestResult {
	return e.Ingest(ctx, IngestEvent{
		ChannelID:         channelID,
		AuthorID:          moderatorID,
		AuthorDisplayName: displayName,
		Roles:             RoleModerator,
		Body:              body,
	})
}
