package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/mod-tender/dispatch"
	"github.com/onnwee/mod-tender/moderation"
	"github.com/onnwee/mod-tender/slowmode"
	"github.com/onnwee/mod-tender/telemetry"
)

const (
	pingEvery    = 15 * time.Second
	writeTimeout = 5 * time.Second
)

type snapshotFrame struct {
	Type     string                   `json:"type"`
	Seq      uint64                   `json:"seq"`
	Messages []moderation.ChatMessage `json:"messages"`
	SlowMode slowmode.Config          `json:"slow_mode"`
}

func newSnapshotFrame(sub moderation.Subscribed) snapshotFrame {
	msgs := sub.Snapshot
	if msgs == nil {
		msgs = []moderation.ChatMessage{}
	}
	return snapshotFrame{Type: "snapshot", Seq: sub.Seq, Messages: msgs, SlowMode: sub.SlowMode}
}

type eventFrame struct {
	Type  string           `json:"type"`
	Event moderation.Event `json:"event"`
}

// closeReason describes why a subscription ended.
func closeReason(sub moderation.Subscription) string {
	if err := sub.Err(); err != nil {
		return err.Error()
	}
	return "closed"
}

// HandleEventsSSE streams a channel's events as Server-Sent Events, starting with a
// snapshot of the last ?snapshot=N visible messages.
func (h *Handlers) HandleEventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	channelID := channelParam(r)
	sub := h.engine.Subscribe(channelID, moderation.SubscribeOptions{Snapshot: h.snapshotSize(r, defaultSnapshot)})
	defer sub.Subscription.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("channel", channelID), slog.String("session", sub.Subscription.ID()), slog.String("component", "http_sse"))
	if err := writeSSE(w, "snapshot", sub.Seq, newSnapshotFrame(sub)); err != nil {
		log.Debug("sse write failed", slog.Any("err", err))
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	ctx := r.Context()
	events := sub.Subscription.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				reason := closeReason(sub.Subscription)
				log.Info("sse session ended", slog.String("reason", reason))
				_ = writeSSE(w, "close", 0, errorBody{Error: reason})
				flusher.Flush()
				return
			}
			if err := writeSSE(w, string(ev.Kind), ev.Seq, ev); err != nil {
				log.Debug("sse write failed", slog.Any("err", err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, id uint64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin policy is enforced by CORS and the admin token
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsCommand is a client request on a moderator WebSocket. ID is echoed in the
// ack or error frame answering it.
type wsCommand struct {
	Type         string             `json:"type"`
	ID           string             `json:"id"`
	MessageID    uint64             `json:"message_id,omitempty"`
	Action       *moderation.Action `json:"action,omitempty"`
	UserID       string             `json:"user_id,omitempty"`
	Duration     string             `json:"duration,omitempty"`
	Seconds      int                `json:"seconds,omitempty"`
	Enabled      bool               `json:"enabled,omitempty"`
	DelaySeconds int                `json:"delay_seconds,omitempty"`
	Body         string             `json:"body,omitempty"`
	DisplayName  string             `json:"display_name,omitempty"`
}

type ackFrame struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	receiptBody
}

type errorFrame struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// HandleWebSocket upgrades to a moderator session: the connection receives the
// snapshot and then every channel event, and may send moderation commands whose
// acks and errors go only to this connection.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	channelID := channelParam(r)
	moderatorID, _ := actor(r)
	snapshot := h.snapshotSize(r, defaultSnapshot)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", slog.String("channel", channelID), slog.Any("err", err), slog.String("component", "http_ws"))
		return
	}
	defer func() { _ = conn.Close() }()

	sub := h.engine.Subscribe(channelID, moderation.SubscribeOptions{Snapshot: snapshot})
	defer sub.Subscription.Close()

	s := &wsSession{
		h:         h,
		conn:      conn,
		channelID: channelID,
		actorID:   moderatorID,
		replies:   make(chan any, 16),
		log: telemetry.LoggerWithCorr(r.Context()).With(
			slog.String("channel", channelID),
			slog.String("session", sub.Subscription.ID()),
			slog.String("component", "http_ws")),
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.log.Info("ws session opened", slog.String("moderator", moderatorID))
	go s.readLoop(ctx, cancel)
	s.writeLoop(ctx, sub)
	s.log.Info("ws session closed")
}

type wsSession struct {
	h         *Handlers
	conn      *websocket.Conn
	channelID string
	actorID   string
	replies   chan any
	log       *slog.Logger
}

// writeLoop is the only writer of the connection.
func (s *wsSession) writeLoop(ctx context.Context, sub moderation.Subscribed) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	if err := s.write(newSnapshotFrame(sub)); err != nil {
		return
	}
	events := sub.Subscription.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case reply := <-s.replies:
			if err := s.write(reply); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				s.closeWith(sub.Subscription)
				return
			}
			if err := s.write(eventFrame{Type: "event", Event: ev}); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) write(v any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(v); err != nil {
		s.log.Debug("ws write failed", slog.Any("err", err))
		return err
	}
	return nil
}

func (s *wsSession) closeWith(sub moderation.Subscription) {
	code := websocket.CloseNormalClosure
	switch err := sub.Err(); {
	case errors.Is(err, dispatch.ErrBackpressureExceeded):
		code = websocket.CloseTryAgainLater
	case errors.Is(err, moderation.ErrChannelClosed):
		code = websocket.CloseGoingAway
	}
	reason := closeReason(sub)
	s.log.Info("ws subscription ended", slog.String("reason", reason))
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeTimeout))
}

func (s *wsSession) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	s.conn.SetReadLimit(maxBodyBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(2 * pingEvery))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(2 * pingEvery))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(2 * pingEvery))
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.reply(ctx, errorFrame{Type: "error", Error: fmt.Sprintf("%v: %v", errBadRequest, err)})
			continue
		}
		s.reply(ctx, s.exec(ctx, cmd))
	}
}

func (s *wsSession) reply(ctx context.Context, v any) {
	select {
	case s.replies <- v:
	case <-ctx.Done():
	}
}

// exec runs one command and returns its ack or error frame.
func (s *wsSession) exec(ctx context.Context, cmd wsCommand) any {
	fail := func(err error) any { return errorFrame{Type: "error", ID: cmd.ID, Error: err.Error()} }
	if s.actorID == "" {
		return fail(errMissingActor)
	}
	eng := s.h.engine
	switch cmd.Type {
	case "moderate":
		if cmd.Action == nil {
			return fail(fmt.Errorf("%w: action required", errBadRequest))
		}
		msg, rc, err := eng.Moderate(ctx, s.actorID, s.channelID, cmd.MessageID, *cmd.Action)
		if err != nil {
			return fail(err)
		}
		return ackFrame{Type: "ack", ID: cmd.ID, Result: msg, receiptBody: receipt(rc)}
	case "timeout":
		d, err := timeoutRequest{Duration: cmd.Duration, Seconds: cmd.Seconds}.value()
		if err != nil {
			return fail(err)
		}
		st, rc, err := eng.Timeout(ctx, s.actorID, s.channelID, cmd.UserID, d)
		if err != nil {
			return fail(err)
		}
		return ackFrame{Type: "ack", ID: cmd.ID, Result: st, receiptBody: receipt(rc)}
	case "release":
		st, rc, err := eng.Release(ctx, s.actorID, s.channelID, cmd.UserID)
		if err != nil {
			return fail(err)
		}
		return ackFrame{Type: "ack", ID: cmd.ID, Result: st, receiptBody: receipt(rc)}
	case "ban":
		st, rc, err := eng.Ban(ctx, s.actorID, s.channelID, cmd.UserID)
		if err != nil {
			return fail(err)
		}
		return ackFrame{Type: "ack", ID: cmd.ID, Result: st, receiptBody: receipt(rc)}
	case "slow_mode":
		cfg, rc, err := eng.SetSlowMode(ctx, s.actorID, s.channelID, cmd.Enabled, cmd.DelaySeconds)
		if err != nil {
			return fail(err)
		}
		return ackFrame{Type: "ack", ID: cmd.ID, Result: cfg, receiptBody: receipt(rc)}
	case "send":
		res := eng.SendModeratorMessage(ctx, s.channelID, s.actorID, cmd.DisplayName, cmd.Body)
		if !res.Accepted {
			return errorFrame{Type: "error", ID: cmd.ID, Error: res.Err.Error(), Reason: string(res.Reason)}
		}
		return ackFrame{Type: "ack", ID: cmd.ID, Result: res.Message}
	}
	return fail(fmt.Errorf("%w: unknown command %q", errBadRequest, cmd.Type))
}
