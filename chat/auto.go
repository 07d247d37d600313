package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/mod-tender/moderation"
	"github.com/onnwee/mod-tender/twitchapi"
)

// ActorSystem is the audit actor for sessions opened and closed by the watcher.
const ActorSystem = "system"

// StreamChecker reports which logins are live.
type StreamChecker interface {
	GetStreams(ctx context.Context, logins ...string) ([]twitchapi.Stream, error)
}

// SessionEngine opens and closes channel sessions.
type SessionEngine interface {
	OpenChannel(channelID string)
	CloseChannel(ctx context.Context, actorID, channelID string) (moderation.Receipt, error)
}

// LiveWatcher polls stream status and runs a channel session for as long as the
// stream is live: the channel is opened and its chat source pumped when the stream
// goes live, and the source stopped and the channel closed when it goes offline.
type LiveWatcher struct {
	Streams  StreamChecker
	Engine   SessionEngine
	Pump     *Pump
	Logins   []string
	Interval time.Duration
	// NewSource builds the chat source for a login that went live. Nil means the
	// session is opened and closed without a source (e.g. fed by the webhook).
	NewSource func(login string) Source

	mu      sync.Mutex
	running map[string]*liveSession
	wg      sync.WaitGroup
}

type liveSession struct {
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// Run polls every Interval (default 30s) until ctx is done, then ends every live session.
func (w *LiveWatcher) Run(ctx context.Context) error {
	if len(w.Logins) == 0 {
		slog.Info("auto chat: no channels to watch; abort", slog.String("component", "chat_auto"))
		return nil
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("auto chat: started poller", slog.Duration("interval", interval), slog.Any("channels", w.Logins), slog.String("component", "chat_auto"))
	for {
		if err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			slog.Debug("auto chat: streams req", slog.Any("err", err), slog.String("component", "chat_auto"))
		}
		select {
		case <-ctx.Done():
			w.stopAll(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
		}
	}
}

// Poll checks stream status once and starts or stops sessions accordingly.
func (w *LiveWatcher) Poll(ctx context.Context) error {
	streams, err := w.Streams.GetStreams(ctx, w.Logins...)
	if err != nil {
		return err
	}
	live := make(map[string]twitchapi.Stream, len(streams))
	for _, s := range streams {
		live[s.UserLogin] = s
	}
	for _, login := range w.Logins {
		s, isLive := live[login]
		w.mu.Lock()
		_, running := w.running[login]
		w.mu.Unlock()
		switch {
		case isLive && !running:
			w.start(ctx, login, s.StartedAt)
		case !isLive && running:
			w.stop(ctx, login)
		}
	}
	return nil
}

// Live returns the logins with a running session.
func (w *LiveWatcher) Live() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.running))
	for l := range w.running {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func (w *LiveWatcher) start(ctx context.Context, login string, startedAt time.Time) {
	w.Engine.OpenChannel(login)
	sctx, cancel := context.WithCancel(ctx)
	sess := &liveSession{startedAt: startedAt, cancel: cancel, done: make(chan struct{})}
	w.mu.Lock()
	if w.running == nil {
		w.running = make(map[string]*liveSession)
	}
	w.running[login] = sess
	w.mu.Unlock()
	slog.Info("auto chat: stream live; session opened", slog.String("channel", login), slog.Time("started_at", startedAt), slog.String("component", "chat_auto"))

	var src Source
	if w.NewSource != nil && w.Pump != nil {
		src = w.NewSource(login)
	}
	if src == nil {
		close(sess.done)
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(sess.done)
		if err := w.Pump.Run(sctx, src); err != nil {
			slog.Warn("auto chat: source ended", slog.String("channel", login), slog.Any("err", err), slog.String("component", "chat_auto"))
		}
	}()
}

func (w *LiveWatcher) stop(ctx context.Context, login string) {
	w.mu.Lock()
	sess, ok := w.running[login]
	delete(w.running, login)
	w.mu.Unlock()
	if !ok {
		return
	}
	sess.cancel()
	<-sess.done
	if _, err := w.Engine.CloseChannel(ctx, ActorSystem, login); err != nil && !errors.Is(err, moderation.ErrChannelNotFound) {
		slog.Warn("auto chat: close channel", slog.String("channel", login), slog.Any("err", err), slog.String("component", "chat_auto"))
	}
	slog.Info("auto chat: stream offline; session closed", slog.String("channel", login), slog.Duration("live_for", time.Since(sess.startedAt).Round(time.Second)), slog.String("component", "chat_auto"))
}

func (w *LiveWatcher) stopAll(ctx context.Context) {
	for _, login := range w.Live() {
		w.stop(ctx, login)
	}
	w.wg.Wait()
}
