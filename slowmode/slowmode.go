// Package slowmode enforces the channel-wide minimum delay between consecutive
// messages from the same non-privileged user.
//
// Cooldown state is keyed per (channel, user). Each key owns its own mutex so the
// admission decision and the lastAcceptedAt update happen in one critical section
// for that user while different users are admitted in parallel.
package slowmode

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrInvalidDelay is returned by Configure for negative delays.
var ErrInvalidDelay = errors.New("slow mode delay must be >= 0")

// Reason explains a rejected admission.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonBanned      Reason = "user_banned"
	ReasonRateLimited Reason = "rate_limited"
)

// Config is the slow mode setting of one channel.
type Config struct {
	ChannelID    string `json:"channel_id"`
	Enabled      bool   `json:"enabled"`
	DelaySeconds int    `json:"delay_seconds"`
}

func (c Config) delay() time.Duration { return time.Duration(c.DelaySeconds) * time.Second }

// Request describes one admission attempt.
type Request struct {
	ChannelID string
	UserID    string
	// Privileged is true for owner and moderator authored messages.
	Privileged bool
	// Banned is the caller's standing lookup; it is checked before anything else.
	Banned bool
	At     time.Time
}

// Decision is the outcome of Admit.
type Decision struct {
	Accepted  bool
	Reason    Reason
	Remaining time.Duration
}

type cooldown struct {
	mu       sync.Mutex
	last     time.Time
	tomb     bool // removed from the channel map; callers must reload
	accepted bool
}

type channelLimits struct {
	cfg Config
	// maxDelay is the largest delay ever configured; sweeps never go below it.
	maxDelay time.Duration
	users    sync.Map // userID -> *cooldown
}

// Limiter tracks slow mode configuration and per-user cooldowns.
type Limiter struct {
	mu       sync.RWMutex
	channels map[string]*channelLimits
}

// New returns an empty Limiter. Every channel starts with slow mode disabled.
func New() *Limiter {
	return &Limiter{channels: make(map[string]*channelLimits)}
}

func (l *Limiter) channel(id string) *channelLimits {
	l.mu.RLock()
	ch, ok := l.channels[id]
	l.mu.RUnlock()
	if ok {
		return ch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok = l.channels[id]; ok {
		return ch
	}
	ch = &channelLimits{cfg: Config{ChannelID: id}}
	l.channels[id] = ch
	return ch
}

// Configure sets slow mode for a channel. The change applies to admissions that
// start after Configure returns.
func (l *Limiter) Configure(channelID string, enabled bool, delaySeconds int) (Config, error) {
	if delaySeconds < 0 {
		return Config{}, ErrInvalidDelay
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.channels[channelID]
	if !ok {
		ch = &channelLimits{}
		l.channels[channelID] = ch
	}
	ch.cfg = Config{ChannelID: channelID, Enabled: enabled, DelaySeconds: delaySeconds}
	ch.maxDelay = max(ch.maxDelay, ch.cfg.delay())
	return ch.cfg, nil
}

// Config returns the current slow mode setting of a channel.
func (l *Limiter) Config(channelID string) Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if ch, ok := l.channels[channelID]; ok {
		return ch.cfg
	}
	return Config{ChannelID: channelID}
}

// Admit decides whether a message may enter the pipeline and, on acceptance,
// records req.At as the user's last accepted time.
func (l *Limiter) Admit(req Request) Decision {
	if req.Banned {
		return Decision{Reason: ReasonBanned}
	}
	if req.Privileged {
		return Decision{Accepted: true}
	}
	ch := l.channel(req.ChannelID)
	l.mu.RLock()
	cfg := ch.cfg
	l.mu.RUnlock()

	for {
		v, _ := ch.users.LoadOrStore(req.UserID, &cooldown{})
		cd := v.(*cooldown)
		cd.mu.Lock()
		if cd.tomb {
			cd.mu.Unlock()
			continue
		}
		if cfg.Enabled && cd.accepted {
			if elapsed := req.At.Sub(cd.last); elapsed < cfg.delay() {
				cd.mu.Unlock()
				return Decision{Reason: ReasonRateLimited, Remaining: cfg.delay() - elapsed}
			}
		}
		cd.last = req.At
		cd.accepted = true
		cd.mu.Unlock()
		return Decision{Accepted: true}
	}
}

// LastAccepted reports the last accepted time recorded for a user.
func (l *Limiter) LastAccepted(channelID, userID string) (time.Time, bool) {
	l.mu.RLock()
	ch, ok := l.channels[channelID]
	l.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	v, ok := ch.users.Load(userID)
	if !ok {
		return time.Time{}, false
	}
	cd := v.(*cooldown)
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.last, cd.accepted && !cd.tomb
}

// ResetChannel discards cooldowns and configuration of a channel whose live
// session has ended.
func (l *Limiter) ResetChannel(channelID string) {
	l.mu.Lock()
	delete(l.channels, channelID)
	l.mu.Unlock()
}

// Sweep removes cooldowns that can no longer reject a message at now. A cooldown
// is kept for maxAge or the largest delay the channel has used, whichever is
// longer, even while slow mode is disabled.
func (l *Limiter) Sweep(now time.Time, maxAge time.Duration) int {
	l.mu.RLock()
	chans := make([]*channelLimits, 0, len(l.channels))
	horizons := make([]time.Duration, 0, len(l.channels))
	for _, ch := range l.channels {
		chans = append(chans, ch)
		horizons = append(horizons, max(maxAge, ch.maxDelay))
	}
	l.mu.RUnlock()

	removed := 0
	for i, ch := range chans {
		horizon := horizons[i]
		ch.users.Range(func(k, v any) bool {
			cd := v.(*cooldown)
			cd.mu.Lock()
			if now.Sub(cd.last) >= horizon {
				cd.tomb = true
				ch.users.Delete(k)
				removed++
			}
			cd.mu.Unlock()
			return true
		})
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (l *Limiter) StartSweeper(ctx context.Context, interval, maxAge time.Duration, now func() time.Time) {
	if interval <= 0 {
		interval = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := l.Sweep(now(), maxAge); n > 0 {
				slog.Debug("slow mode cooldowns swept", slog.Int("removed", n), slog.String("component", "slowmode"))
			}
		case <-ctx.Done():
			return
		}
	}
}
