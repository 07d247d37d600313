package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/mod-tender/telemetry"
)

// Recorder writes entries for the moderation engine.
type Recorder struct {
	store   Store
	timeout time.Duration
}

// NewRecorder returns a Recorder with the given per-write timeout (default 2s).
func NewRecorder(store Store, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Recorder{store: store, timeout: timeout}
}

// Record appends e. The write is detached from ctx cancellation so an action that
// was already applied is still audited after its caller disconnects. Errors are
// logged at warn level and wrapped with ErrAuditWrite.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if r == nil || r.store == nil {
		return nil
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeApplied
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if _, err := r.store.Append(wctx, e); err != nil {
		telemetry.IncAuditWriteFailure()
		telemetry.LoggerWithCorr(ctx).Warn("audit write failed; moderation action stands",
			slog.String("channel", e.ChannelID),
			slog.String("action", e.Action),
			slog.String("target", e.TargetID),
			slog.String("actor", e.ActorID),
			slog.Any("err", err),
			slog.String("component", "audit"))
		return fmt.Errorf("%w: %v", ErrAuditWrite, err)
	}
	return nil
}

// Store exposes the underlying store for read-only export.
func (r *Recorder) Store() Store { return r.store }
