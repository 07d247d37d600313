package chat

import (
	"context"
	"errors"
	"log/slog"

	"github.com/onnwee/mod-tender/moderation"
	"github.com/onnwee/mod-tender/telemetry"
)

// Source produces raw events until ctx is done or the platform connection ends.
// Run must not close out.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- RawEvent) error
}

// Engine is the part of *moderation.Engine a Pump drives.
type Engine interface {
	Ingest(ctx context.Context, ev moderation.IngestEvent) moderation.IngestResult
	ObserveJoin(ctx context.Context, channelID, userID, displayName string) uint64
	PlatformDelete(ctx context.Context, channelID, sourceMessageID string) (moderation.ChatMessage, moderation.Receipt, error)
}

// Result is the outcome of routing one RawEvent.
type Result struct {
	Kind      Kind   `json:"kind"`
	Accepted  bool   `json:"accepted"`
	MessageID uint64 `json:"message_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Err       error  `json:"-"`
}

// Pump normalizes raw events and routes them to the engine.
type Pump struct {
	engine Engine
	buffer int
}

func NewPump(engine Engine) *Pump { return &Pump{engine: engine, buffer: 256} }

// Handle routes one event. Malformed events are counted and never reach the engine.
func (p *Pump) Handle(ctx context.Context, source string, raw RawEvent) Result {
	telemetry.IncChatEvent(source, string(raw.Kind))
	ev, err := Normalize(raw)
	if err != nil {
		telemetry.IncMalformed(source)
		slog.Debug("dropping malformed chat event", slog.String("source", source), slog.Any("err", err), slog.String("component", "chat"))
		return Result{Kind: raw.Kind, Reason: string(moderation.RejectMalformed), Err: err}
	}
	switch ev.Kind {
	case KindJoin:
		p.engine.ObserveJoin(ctx, ev.Ingest.ChannelID, ev.Ingest.AuthorID, ev.Ingest.AuthorDisplayName)
		return Result{Kind: ev.Kind, Accepted: true}
	case KindDelete:
		m, _, err := p.engine.PlatformDelete(ctx, ev.Ingest.ChannelID, ev.Ingest.SourceMessageID)
		if err != nil {
			// the message may have been rejected, evicted or already deleted
			slog.Debug("platform delete not applied", slog.String("source", source), slog.String("source_message_id", ev.Ingest.SourceMessageID), slog.Any("err", err), slog.String("component", "chat"))
			return Result{Kind: ev.Kind, Reason: err.Error(), Err: err}
		}
		return Result{Kind: ev.Kind, Accepted: true, MessageID: m.ID}
	default:
		r := p.engine.Ingest(ctx, ev.Ingest)
		return Result{Kind: ev.Kind, Accepted: r.Accepted, MessageID: r.Message.ID, Reason: string(r.Reason), Err: r.Err}
	}
}

// Run consumes src until it returns or ctx is done. Events already emitted are
// routed before Run returns.
func (p *Pump) Run(ctx context.Context, src Source) error {
	out := make(chan RawEvent, p.buffer)
	errc := make(chan error, 1)
	go func() { errc <- src.Run(ctx, out) }()

	log := slog.With(slog.String("source", src.Name()), slog.String("component", "chat"))
	log.Info("chat source started")
	for {
		select {
		case raw := <-out:
			p.Handle(ctx, src.Name(), raw)
		case err := <-errc:
		drain:
			for {
				select {
				case raw := <-out:
					p.Handle(ctx, src.Name(), raw)
				default:
					break drain
				}
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("chat source stopped", slog.Any("err", err))
				return err
			}
			log.Info("chat source stopped")
			return nil
		}
	}
}

// emit sends ev unless ctx is done first.
func emit(ctx context.Context, out chan<- RawEvent, ev RawEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
