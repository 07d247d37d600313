package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/mod-tender/audit"
	"github.com/onnwee/mod-tender/slowmode"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type recordingBroker struct {
	mu     sync.Mutex
	events []Event
	closed map[string]error
}

func (b *recordingBroker) Publish(ev Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

func (b *recordingBroker) Attach(string) Subscription { return closedSubscription{} }

func (b *recordingBroker) CloseTopic(channelID string, reason error) {
	b.mu.Lock()
	if b.closed == nil {
		b.closed = map[string]error{}
	}
	b.closed[channelID] = reason
	b.mu.Unlock()
}

func (b *recordingBroker) kinds() []EventKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]EventKind, len(b.events))
	for i, e := range b.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	e      *Engine
	clock  *fakeClock
	broker *recordingBroker
	store  *audit.MemoryStore
}

func newFixture(opts ...Option) *fixture {
	f := &fixture{clock: &fakeClock{now: t0}, broker: &recordingBroker{}, store: audit.NewMemoryStore()}
	opts = append([]Option{
		WithClock(f.clock.Now),
		WithBroker(f.broker),
		WithRecorder(audit.NewRecorder(f.store, time.Second)),
	}, opts...)
	f.e = New(slowmode.New(), opts...)
	return f
}

func (f *fixture) say(user, body string) IngestResult {
	return f.e.Ingest(context.Background(), IngestEvent{ChannelID: "c", AuthorID: user, Body: body})
}

func (f *fixture) auditEntries(t *testing.T) []audit.Entry {
	t.Helper()
	p, err := f.store.Query(context.Background(), audit.Query{ChannelID: "c"})
	if err != nil {
		t.Fatalf("audit query: %v", err)
	}
	return p.Entries
}

func TestIngestAssignsIncreasingIDs(t *testing.T) {
	f := newFixture()
	var last uint64
	for i := 0; i < 5; i++ {
		r := f.say(fmt.Sprintf("u%d", i), "hi")
		if !r.Accepted {
			t.Fatalf("message %d rejected: %+v", i, r)
		}
		if r.Message.ID <= last {
			t.Fatalf("id %d not greater than %d", r.Message.ID, last)
		}
		if r.Message.Status != StatusVisible || !r.Message.ReceivedAt.Equal(t0) {
			t.Errorf("unexpected message %+v", r.Message)
		}
		last = r.Message.ID
	}
	if got := len(f.broker.kinds()); got != 5 {
		t.Errorf("published %d events, want 5", got)
	}
}

func TestIngestRejectsMalformed(t *testing.T) {
	f := newFixture()
	tests := []IngestEvent{
		{AuthorID: "u", Body: "x"},
		{ChannelID: "c", Body: "x"},
		{ChannelID: "c", AuthorID: "u", Body: "   "},
	}
	for _, ev := range tests {
		r := f.e.Ingest(context.Background(), ev)
		if r.Accepted || r.Reason != RejectMalformed || !errors.Is(r.Err, ErrMalformedEvent) {
			t.Errorf("Ingest(%+v) = %+v", ev, r)
		}
	}
	if len(f.e.Snapshot("c", 10)) != 0 {
		t.Error("malformed event stored")
	}
}

func TestBannedUserIsAlwaysRejected(t *testing.T) {
	f := newFixture()
	if _, _, err := f.e.Ban(context.Background(), "mod", "c", "troll"); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	before := len(f.broker.kinds())
	for _, roles := range []RoleFlags{0, RoleMember, RoleModerator, RoleOwner} {
		r := f.e.Ingest(context.Background(), IngestEvent{ChannelID: "c", AuthorID: "troll", Body: "spam", Roles: roles})
		if r.Accepted || r.Reason != RejectBanned || !errors.Is(r.Err, ErrUserBanned) {
			t.Fatalf("roles %v: %+v", roles, r)
		}
	}
	if len(f.e.Snapshot("c", 10)) != 0 {
		t.Error("banned user's message entered the store")
	}
	if after := len(f.broker.kinds()); after != before {
		t.Errorf("rejections published %d events", after-before)
	}
}

func TestSlowModeScenario(t *testing.T) {
	f := newFixture()
	if _, _, err := f.e.SetSlowMode(context.Background(), "mod", "c", true, 30); err != nil {
		t.Fatalf("SetSlowMode: %v", err)
	}

	if r := f.say("viewer", "first"); !r.Accepted {
		t.Fatalf("t=0s rejected: %+v", r)
	}
	f.clock.Set(t0.Add(5 * time.Second))
	r := f.say("viewer", "second")
	if r.Accepted || r.Reason != RejectRateLimit || r.RetryAfter != 25*time.Second {
		t.Fatalf("t=5s: %+v, want rate_limited with 25s remaining", r)
	}
	f.clock.Set(t0.Add(30 * time.Second))
	if r := f.say("viewer", "third"); !r.Accepted {
		t.Fatalf("t=30s rejected: %+v", r)
	}
}

func TestSlowModeNeverAcceptsTwoWithinDelay(t *testing.T) {
	f := newFixture()
	_, _, _ = f.e.SetSlowMode(context.Background(), "mod", "c", true, 10)
	var accepted []time.Time
	for ms := 0; ms <= 60000; ms += 700 {
		f.clock.Set(t0.Add(time.Duration(ms) * time.Millisecond))
		if r := f.say("viewer", "x"); r.Accepted {
			accepted = append(accepted, r.Message.ReceivedAt)
		}
	}
	for i := 1; i < len(accepted); i++ {
		if gap := accepted[i].Sub(accepted[i-1]); gap < 10*time.Second {
			t.Fatalf("accepted two messages %v apart", gap)
		}
	}
	if len(accepted) < 5 {
		t.Errorf("accepted only %d messages in 60s", len(accepted))
	}
}

func TestPrivilegedBypassSlowMode(t *testing.T) {
	f := newFixture()
	_, _, _ = f.e.SetSlowMode(context.Background(), "mod", "c", true, 60)
	for _, roles := range []RoleFlags{RoleOwner, RoleModerator, RoleModerator | RoleMember} {
		for i := 0; i < 3; i++ {
			r := f.e.Ingest(context.Background(), IngestEvent{ChannelID: "c", AuthorID: "staff", Body: "x", Roles: roles})
			if !r.Accepted {
				t.Fatalf("roles %v message %d rejected: %+v", roles, i, r)
			}
		}
	}
	// members are not privileged
	_ = f.e.Ingest(context.Background(), IngestEvent{ChannelID: "c", AuthorID: "sub", Body: "x", Roles: RoleMember})
	if r := f.e.Ingest(context.Background(), IngestEvent{ChannelID: "c", AuthorID: "sub", Body: "x", Roles: RoleMember}); r.Accepted {
		t.Error("member bypassed slow mode")
	}
}

func TestMessageTransitions(t *testing.T) {
	tests := []struct {
		name    string
		actions []ActionKind
		want    MessageStatus
		wantErr bool
	}{
		{"hide", []ActionKind{ActionHide}, StatusHidden, false},
		{"flag then unflag", []ActionKind{ActionFlag, ActionUnflag}, StatusVisible, false},
		{"flag then hide then delete", []ActionKind{ActionFlag, ActionHide, ActionDelete}, StatusDeleted, false},
		{"unflag visible", []ActionKind{ActionUnflag}, StatusVisible, true},
		{"hide hidden", []ActionKind{ActionHide, ActionHide}, StatusHidden, true},
		{"flag hidden", []ActionKind{ActionHide, ActionFlag}, StatusHidden, true},
		{"deleted is terminal: unflag", []ActionKind{ActionDelete, ActionUnflag}, StatusDeleted, true},
		{"deleted is terminal: hide", []ActionKind{ActionDelete, ActionHide}, StatusDeleted, true},
		{"deleted is terminal: delete", []ActionKind{ActionDelete, ActionDelete}, StatusDeleted, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			id := f.say("u", "hello").Message.ID
			var err error
			for _, k := range tt.actions {
				_, _, err = f.e.Moderate(context.Background(), "mod", "c", id, Action{Kind: k, Reason: "r"})
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("last err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("err=%v want ErrInvalidTransition", err)
			}
			m, _ := f.e.Message("c", id)
			if m.Status != tt.want {
				t.Errorf("status=%s want %s", m.Status, tt.want)
			}
		})
	}
}

func TestFlagReasonKeptOnlyWhileFlagged(t *testing.T) {
	f := newFixture()
	id := f.say("u", "hello").Message.ID
	m, _, _ := f.e.Moderate(context.Background(), "mod", "c", id, Action{Kind: ActionFlag, Reason: "slur"})
	if m.Reason != "slur" {
		t.Errorf("reason=%q", m.Reason)
	}
	m, _, _ = f.e.Moderate(context.Background(), "mod", "c", id, Action{Kind: ActionUnflag})
	if m.Reason != "" {
		t.Errorf("reason kept after unflag: %q", m.Reason)
	}
	entries := f.auditEntries(t)
	if len(entries) != 2 || entries[1].Action != "unflag" {
		t.Errorf("unflag not audited: %+v", entries)
	}
}

func TestModerateUnknownMessage(t *testing.T) {
	f := newFixture()
	if _, _, err := f.e.Moderate(context.Background(), "mod", "c", 99, Action{Kind: ActionHide}); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("err=%v want ErrMessageNotFound", err)
	}
	f.say("u", "x")
	if _, _, err := f.e.Moderate(context.Background(), "mod", "c", 99, Action{Kind: ActionHide}); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("err=%v want ErrMessageNotFound", err)
	}
	if _, _, err := f.e.Moderate(context.Background(), "mod", "c", 1, Action{Kind: "pin"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("unknown action err=%v", err)
	}
}

func TestBanIsNotRetroactive(t *testing.T) {
	f := newFixture()
	ids := []uint64{f.say("u", "one").Message.ID, f.say("u", "two").Message.ID}
	if _, _, err := f.e.Ban(context.Background(), "mod", "c", "u"); err != nil {
		t.Fatal(err)
	}
	for _, id := range ids {
		m, err := f.e.Message("c", id)
		if err != nil || m.Status != StatusVisible {
			t.Errorf("message %d after ban: %+v, %v", id, m, err)
		}
	}
}

func TestBanIsIdempotent(t *testing.T) {
	f := newFixture()
	st, rc, err := f.e.Ban(context.Background(), "mod", "c", "u")
	if err != nil || st.State != StandingBanned || rc.Seq == 0 {
		t.Fatalf("first ban: %+v %+v %v", st, rc, err)
	}
	published := len(f.broker.kinds())

	st2, rc2, err := f.e.Ban(context.Background(), "mod2", "c", "u")
	if err != nil || st2.State != StandingBanned {
		t.Fatalf("second ban: %+v %v", st2, err)
	}
	if rc2.Seq != 0 || len(f.broker.kinds()) != published {
		t.Error("second ban published an event")
	}

	applied := 0
	for _, e := range f.auditEntries(t) {
		if e.Action == "ban" && e.Outcome == audit.OutcomeApplied {
			applied++
		}
	}
	if applied != 1 {
		t.Errorf("%d applied ban entries, want 1", applied)
	}
	if n := len(f.auditEntries(t)); n != 2 {
		t.Errorf("%d audit entries, want 2 (applied + noop)", n)
	}
}

func TestTimeoutLifecycle(t *testing.T) {
	f := newFixture()
	old := f.say("u", "before").Message.ID

	st, _, err := f.e.Timeout(context.Background(), "mod", "c", "u", 10*time.Second)
	if err != nil || st.State != StandingTimedOut || !st.TimeoutExpiresAt.Equal(t0.Add(10*time.Second)) {
		t.Fatalf("Timeout: %+v %v", st, err)
	}
	if m, _ := f.e.Message("c", old); m.Status != StatusVisible {
		t.Error("timeout touched an accepted message")
	}

	f.clock.Set(t0.Add(9 * time.Second))
	r := f.say("u", "during")
	if r.Accepted || r.Reason != RejectTimedOut || r.RetryAfter != time.Second {
		t.Fatalf("during timeout: %+v", r)
	}

	// expiry is inclusive
	f.clock.Set(t0.Add(10 * time.Second))
	if got := f.e.Standing("c", "u"); got.State != StandingNormal {
		t.Fatalf("standing at expiry = %s", got.State)
	}
	if r := f.say("u", "after"); !r.Accepted {
		t.Fatalf("at expiry: %+v", r)
	}
}

func TestTimeoutEdges(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, _, err := f.e.Timeout(ctx, "mod", "c", "u", 0); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("zero duration err=%v", err)
	}
	_, _, _ = f.e.Timeout(ctx, "mod", "c", "u", time.Minute)
	st, _, _ := f.e.Timeout(ctx, "mod", "c", "u", 5*time.Second)
	if !st.TimeoutExpiresAt.Equal(t0.Add(5 * time.Second)) {
		t.Errorf("re-timeout did not replace expiry: %v", st.TimeoutExpiresAt)
	}
	st, _, err := f.e.Ban(ctx, "mod", "c", "u")
	if err != nil || st.State != StandingBanned || st.TimeoutExpiresAt != nil {
		t.Fatalf("ban of timed out user: %+v %v", st, err)
	}
	if _, _, err := f.e.Timeout(ctx, "mod", "c", "u", time.Minute); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("timeout of banned user err=%v", err)
	}
	if _, _, err := f.e.Release(ctx, "mod", "c", "u"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("release of banned user err=%v", err)
	}
}

func TestIngestAfterExpiryPublishesStandingFirst(t *testing.T) {
	f := newFixture()
	if _, _, err := f.e.Timeout(context.Background(), "mod", "c", "u", 10*time.Second); err != nil {
		t.Fatalf("Timeout: %v", err)
	}
	before := len(f.broker.kinds())

	f.clock.Set(t0.Add(11 * time.Second))
	if r := f.say("u", "back"); !r.Accepted {
		t.Fatalf("after expiry: %+v", r)
	}

	f.broker.mu.Lock()
	got := append([]Event(nil), f.broker.events[before:]...)
	f.broker.mu.Unlock()
	if len(got) != 2 || got[0].Kind != EventStandingChanged || got[1].Kind != EventMessageAccepted {
		t.Fatalf("events after expiry = %+v", got)
	}
	if got[0].ActorID != ActorExpiry || got[0].Standing.State != StandingNormal || !got[0].At.Equal(t0.Add(11*time.Second)) {
		t.Errorf("expiry event = %+v", got[0])
	}
	if got[1].Seq != got[0].Seq+1 {
		t.Errorf("seqs %d, %d not consecutive", got[0].Seq, got[1].Seq)
	}

	// the correction is stored, so a later write does not publish it again
	f.clock.Set(t0.Add(time.Hour))
	if _, _, err := f.e.Ban(context.Background(), "mod", "c", "u"); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	f.broker.mu.Lock()
	last := f.broker.events[len(f.broker.events)-1]
	n := len(f.broker.events)
	f.broker.mu.Unlock()
	if n != before+3 || last.Standing == nil || last.Standing.State != StandingBanned {
		t.Errorf("ban published %d events, last %+v", n-before-2, last)
	}
}

func TestRejectedMessageKeepsCooldownUnused(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _, _ = f.e.SetSlowMode(ctx, "mod", "c", true, 30)
	_, _, _ = f.e.Timeout(ctx, "mod", "c", "u", 5*time.Second)

	f.clock.Set(t0.Add(2 * time.Second))
	if r := f.say("u", "during"); r.Reason != RejectTimedOut {
		t.Fatalf("during timeout: %+v", r)
	}
	if _, ok := f.e.limiter.LastAccepted("c", "u"); ok {
		t.Error("timed out message recorded a cooldown")
	}
	f.clock.Set(t0.Add(5 * time.Second))
	if r := f.say("u", "after"); !r.Accepted {
		t.Fatalf("first message after timeout: %+v", r)
	}

	_, _, _ = f.e.Ban(ctx, "mod", "c", "v")
	if r := f.say("v", "spam"); r.Reason != RejectBanned {
		t.Fatalf("banned: %+v", r)
	}
	if _, ok := f.e.limiter.LastAccepted("c", "v"); ok {
		t.Error("banned message recorded a cooldown")
	}
}

func TestReleaseEndsTimeout(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _, _ = f.e.Timeout(ctx, "mod", "c", "u", time.Hour)
	st, rc, err := f.e.Release(ctx, "mod", "c", "u")
	if err != nil || st.State != StandingNormal || rc.Seq == 0 {
		t.Fatalf("Release: %+v %+v %v", st, rc, err)
	}
	if r := f.say("u", "back"); !r.Accepted {
		t.Errorf("released user rejected: %+v", r)
	}
	if _, _, err := f.e.Release(ctx, "mod", "c", "u"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second release err=%v", err)
	}
}

func TestSetSlowModeRejectsNegativeDelay(t *testing.T) {
	f := newFixture()
	if _, _, err := f.e.SetSlowMode(context.Background(), "mod", "c", true, -5); !errors.Is(err, ErrInvalidDelay) {
		t.Fatalf("err=%v want ErrInvalidDelay", err)
	}
	if f.e.SlowMode("c").Enabled {
		t.Error("slow mode enabled by rejected call")
	}
}

type brokenStore struct{ audit.MemoryStore }

func (*brokenStore) Append(context.Context, audit.Entry) (audit.Entry, error) {
	return audit.Entry{}, errors.New("db down")
}

func TestAuditFailureDoesNotBlockAction(t *testing.T) {
	f := newFixture(WithRecorder(audit.NewRecorder(&brokenStore{}, time.Second)))
	id := f.say("u", "x").Message.ID
	m, rc, err := f.e.Moderate(context.Background(), "mod", "c", id, Action{Kind: ActionDelete})
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if m.Status != StatusDeleted || rc.Seq == 0 {
		t.Errorf("action not applied: %+v %+v", m, rc)
	}
	if !errors.Is(rc.AuditErr, audit.ErrAuditWrite) {
		t.Errorf("AuditErr=%v want ErrAuditWrite", rc.AuditErr)
	}
}

func TestSnapshotReturnsRecentVisibleInOrder(t *testing.T) {
	f := newFixture()
	var ids []uint64
	for i := 0; i < 6; i++ {
		ids = append(ids, f.say("u", fmt.Sprintf("m%d", i)).Message.ID)
	}
	_, _, _ = f.e.Moderate(context.Background(), "mod", "c", ids[4], Action{Kind: ActionHide})

	snap := f.e.Snapshot("c", 3)
	want := []uint64{ids[2], ids[3], ids[5]}
	if len(snap) != 3 {
		t.Fatalf("snapshot len=%d", len(snap))
	}
	for i, m := range snap {
		if m.ID != want[i] {
			t.Errorf("snapshot[%d]=%d want %d", i, m.ID, want[i])
		}
	}
}

func TestRetentionEvictsOldest(t *testing.T) {
	f := newFixture(WithMaxMessages(3))
	var ids []uint64
	for i := 0; i < 5; i++ {
		ids = append(ids, f.e.Ingest(context.Background(), IngestEvent{
			ChannelID: "c", AuthorID: "u", Body: "x", SourceMessageID: fmt.Sprintf("src-%d", i),
		}).Message.ID)
	}
	if _, err := f.e.Message("c", ids[0]); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("oldest message retained")
	}
	if _, _, err := f.e.PlatformDelete(context.Background(), "c", "src-0"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("source index kept evicted message: %v", err)
	}
	if len(f.e.Snapshot("c", 10)) != 3 {
		t.Error("retention bound not applied")
	}
}

func TestRetentionKeepsReusedSourceID(t *testing.T) {
	f := newFixture(WithMaxMessages(1))
	ctx := context.Background()
	f.e.Ingest(ctx, IngestEvent{ChannelID: "c", AuthorID: "u", Body: "first", SourceMessageID: "x"})
	second := f.e.Ingest(ctx, IngestEvent{ChannelID: "c", AuthorID: "u", Body: "second", SourceMessageID: "x"}).Message.ID

	if _, err := f.e.Message("c", second); err != nil {
		t.Fatalf("newest message evicted: %v", err)
	}
	m, _, err := f.e.PlatformDelete(ctx, "c", "x")
	if err != nil || m.ID != second || m.Status != StatusDeleted {
		t.Fatalf("PlatformDelete(x) = %+v %v", m, err)
	}
}

func TestPlatformDelete(t *testing.T) {
	f := newFixture()
	f.e.Ingest(context.Background(), IngestEvent{ChannelID: "c", AuthorID: "u", Body: "x", SourceMessageID: "abc"})
	m, _, err := f.e.PlatformDelete(context.Background(), "c", "abc")
	if err != nil || m.Status != StatusDeleted {
		t.Fatalf("PlatformDelete: %+v %v", m, err)
	}
	entries := f.auditEntries(t)
	if len(entries) != 1 || entries[0].ActorID != ActorPlatform {
		t.Errorf("audit=%+v", entries)
	}
}

func TestObserveJoinPublishes(t *testing.T) {
	f := newFixture()
	seq := f.e.ObserveJoin(context.Background(), "c", "u", "User")
	if seq != 1 {
		t.Errorf("seq=%d want 1", seq)
	}
	if k := f.broker.kinds(); len(k) != 1 || k[0] != EventUserJoined {
		t.Errorf("kinds=%v", k)
	}
}

func TestSendModeratorMessageBypassesSlowMode(t *testing.T) {
	f := newFixture()
	_, _, _ = f.e.SetSlowMode(context.Background(), "mod", "c", true, 60)
	for i := 0; i < 3; i++ {
		r := f.e.SendModeratorMessage(context.Background(), "c", "mod", "Mod", "please be nice")
		if !r.Accepted || !r.Message.Roles.Has(RoleModerator) {
			t.Fatalf("moderator message %d: %+v", i, r)
		}
	}
}

func TestCloseChannelDiscardsSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, _, _ = f.e.SetSlowMode(ctx, "mod", "c", true, 60)
	f.say("u", "x")
	_, _, _ = f.e.Ban(ctx, "mod", "c", "troll")

	if _, err := f.e.CloseChannel(ctx, "mod", "c"); err != nil {
		t.Fatalf("CloseChannel: %v", err)
	}
	if !errors.Is(f.broker.closed["c"], ErrChannelClosed) {
		t.Errorf("topic closed with %v", f.broker.closed["c"])
	}
	if len(f.e.Snapshot("c", 10)) != 0 || f.e.SlowMode("c").Enabled {
		t.Error("state survived close")
	}
	if f.e.Standing("c", "troll").State != StandingNormal {
		t.Error("standing survived close")
	}
	if _, err := f.e.CloseChannel(ctx, "mod", "c"); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("second close err=%v", err)
	}
	// a new session starts numbering again
	if r := f.say("u", "new"); !r.Accepted || r.Message.ID != 1 {
		t.Errorf("after reopen: %+v", r)
	}
}

func TestDefaultSlowModeAppliesToNewChannels(t *testing.T) {
	f := newFixture(WithDefaultSlowMode(15))
	f.e.OpenChannel("c")
	if cfg := f.e.SlowMode("c"); !cfg.Enabled || cfg.DelaySeconds != 15 {
		t.Errorf("cfg=%+v", cfg)
	}
	if got := f.e.Channels(); len(got) != 1 || got[0] != "c" {
		t.Errorf("channels=%v", got)
	}
}

func TestRoleFlagsJSON(t *testing.T) {
	r := RoleOwner | RoleMember
	data, err := r.MarshalJSON()
	if err != nil || string(data) != `["owner","member"]` {
		t.Fatalf("marshal=%s %v", data, err)
	}
	var back RoleFlags
	if err := back.UnmarshalJSON(data); err != nil || back != r {
		t.Errorf("unmarshal=%v %v", back, err)
	}
}
