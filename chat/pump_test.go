package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/onnwee/mod-tender/moderation"
	"github.com/onnwee/mod-tender/slowmode"
	"github.com/onnwee/mod-tender/telemetry"
)

type sliceSource struct {
	name   string
	events []RawEvent
	err    error
}

func (s *sliceSource) Name() string { return s.name }

func (s *sliceSource) Run(ctx context.Context, out chan<- RawEvent) error {
	for _, ev := range s.events {
		if !emit(ctx, out, ev) {
			return nil
		}
	}
	return s.err
}

func TestPumpRoutesEvents(t *testing.T) {
	telemetry.Init()
	eng := moderation.New(slowmode.New())
	p := NewPump(eng)
	ctx := context.Background()

	r := p.Handle(ctx, "test", RawEvent{Kind: KindMessage, ChannelID: "c", AuthorID: "u1", Body: "hi", SourceMessageID: "src-1"})
	if !r.Accepted || r.MessageID == 0 {
		t.Fatalf("message not accepted: %+v", r)
	}
	if r := p.Handle(ctx, "test", RawEvent{Kind: KindJoin, ChannelID: "c", AuthorID: "u2"}); !r.Accepted {
		t.Fatalf("join not accepted: %+v", r)
	}
	d := p.Handle(ctx, "test", RawEvent{Kind: KindDelete, ChannelID: "c", SourceMessageID: "src-1"})
	if !d.Accepted || d.MessageID != r.MessageID {
		t.Fatalf("delete result %+v", d)
	}
	m, err := eng.Message("c", r.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != moderation.StatusDeleted {
		t.Fatalf("status = %s, want deleted", m.Status)
	}

	miss := p.Handle(ctx, "test", RawEvent{Kind: KindDelete, ChannelID: "c", SourceMessageID: "nope"})
	if miss.Accepted || !errors.Is(miss.Err, moderation.ErrMessageNotFound) {
		t.Fatalf("unknown delete result %+v", miss)
	}
}

func TestPumpDropsMalformed(t *testing.T) {
	telemetry.Init()
	eng := moderation.New(slowmode.New())
	p := NewPump(eng)
	before := testutil.ToFloat64(telemetry.ChatEventsMalformed.WithLabelValues("malformed-test"))

	r := p.Handle(context.Background(), "malformed-test", RawEvent{Kind: KindMessage, ChannelID: "c", Body: "no author"})
	if r.Accepted || r.Reason != string(moderation.RejectMalformed) {
		t.Fatalf("result %+v", r)
	}
	if got := testutil.ToFloat64(telemetry.ChatEventsMalformed.WithLabelValues("malformed-test")); got != before+1 {
		t.Fatalf("malformed counter = %v, want %v", got, before+1)
	}
	if n := len(eng.Snapshot("c", 10)); n != 0 {
		t.Fatalf("malformed event reached the store: %d messages", n)
	}
}

func TestPumpRunDrainsSource(t *testing.T) {
	telemetry.Init()
	eng := moderation.New(slowmode.New())
	p := NewPump(eng)
	src := &sliceSource{name: "slice", events: []RawEvent{
		{Kind: KindMessage, ChannelID: "c", AuthorID: "a", Body: "1"},
		{Kind: KindMessage, ChannelID: "c", AuthorID: "b", Body: "2"},
		{Kind: KindMessage, ChannelID: "c", AuthorID: "c", Body: "3"},
	}}
	if err := p.Run(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	snap := eng.Snapshot("c", 10)
	if len(snap) != 3 {
		t.Fatalf("got %d messages, want 3", len(snap))
	}
	for i, m := range snap {
		if want := string(rune('1' + i)); m.Body != want {
			t.Errorf("snap[%d].Body = %q, want %q", i, m.Body, want)
		}
	}
}

func TestPumpRunReturnsSourceError(t *testing.T) {
	telemetry.Init()
	boom := errors.New("connection reset")
	p := NewPump(moderation.New(slowmode.New()))
	if err := p.Run(context.Background(), &sliceSource{name: "slice", err: boom}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestSimulatedSourceLimit(t *testing.T) {
	src := &SimulatedSource{ChannelID: "sim", Interval: time.Millisecond, Limit: 40, Users: 5}
	out := make(chan RawEvent, 64)
	if err := src.Run(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	close(out)
	n := 0
	for ev := range out {
		n++
		if ev.ChannelID != "sim" {
			t.Fatalf("event for channel %q", ev.ChannelID)
		}
	}
	if n != 40 {
		t.Fatalf("got %d events, want 40", n)
	}
}

func TestSimulatedSourceStopsOnCancel(t *testing.T) {
	src := &SimulatedSource{ChannelID: "sim", Interval: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan RawEvent)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = src.Run(ctx, out)
	}()
	<-out
	cancel()
	wg.Wait()
}
