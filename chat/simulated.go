package chat

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

var simulatedLines = []string{
	"hello chat", "gg", "lol", "what game is this?", "first time here",
	"that was close", "pog", "can you turn the music down", "F", "nice play",
}

// SimulatedSource generates random chat for development and load tests: mostly
// messages, some joins, an occasional platform delete and malformed event.
type SimulatedSource struct {
	ChannelID string
	Interval  time.Duration
	Users     int
	// Limit stops the source after that many events; zero runs until ctx is done.
	Limit int
	Rand  *rand.Rand
}

func (s *SimulatedSource) Name() string { return "simulated" }

func (s *SimulatedSource) Run(ctx context.Context, out chan<- RawEvent) error {
	rng := s.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6d6f64))
	}
	users := s.Users
	if users <= 0 {
		users = 50
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var recent []string
	for n := 0; s.Limit == 0 || n < s.Limit; n++ {
		ev := s.next(rng, users, n, recent)
		if ev.Kind == KindMessage && ev.SourceMessageID != "" {
			recent = append(recent, ev.SourceMessageID)
			if len(recent) > 32 {
				recent = recent[1:]
			}
		}
		if !emit(ctx, out, ev) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func (s *SimulatedSource) next(rng *rand.Rand, users, n int, recent []string) RawEvent {
	u := rng.IntN(users)
	user := fmt.Sprintf("sim-user-%d", u)
	roll := rng.IntN(100)
	switch {
	case roll < 5:
		return RawEvent{Kind: KindJoin, ChannelID: s.ChannelID, AuthorID: user, AuthorDisplayName: user}
	case roll < 7 && len(recent) > 0:
		return RawEvent{Kind: KindDelete, ChannelID: s.ChannelID, SourceMessageID: recent[rng.IntN(len(recent))]}
	case roll < 8:
		return RawEvent{Kind: KindMessage, ChannelID: s.ChannelID, AuthorID: user}
	}
	var badges []string
	switch {
	case u == 0:
		badges = []string{"broadcaster"}
	case u%17 == 1:
		badges = []string{"moderator"}
	case u%5 == 0:
		badges = []string{"subscriber"}
	}
	return RawEvent{
		Kind:              KindMessage,
		ChannelID:         s.ChannelID,
		AuthorID:          user,
		AuthorDisplayName: user,
		Body:              simulatedLines[rng.IntN(len(simulatedLines))],
		Badges:            badges,
		SourceMessageID:   fmt.Sprintf("sim-%d", n),
		SourceTimestamp:   time.Now().UTC(),
	}
}
