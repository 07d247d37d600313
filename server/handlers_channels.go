package server

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/onnwee/mod-tender/moderation"
	"github.com/onnwee/mod-tender/slowmode"
)

// HandleListMessages returns the most recent visible messages of a channel.
func (h *Handlers) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	n := parseIntQuery(r, "limit", defaultSnapshot)
	if n <= 0 || n > h.snapshotMax {
		n = h.snapshotMax
	}
	msgs := h.engine.Snapshot(channelParam(r), n)
	if msgs == nil {
		msgs = []moderation.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type sendMessageRequest struct {
	DisplayName string `json:"display_name"`
	Body        string `json:"body"`
}

// HandleSendMessage posts a moderator-authored message.
func (h *Handlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req sendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res := h.engine.SendModeratorMessage(r.Context(), channelParam(r), who, req.DisplayName, req.Body)
	if !res.Accepted {
		writeRejection(w, res)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": res.Message})
}

type moderateResponse struct {
	Message moderation.ChatMessage `json:"message"`
	receiptBody
}

// HandleModerate applies hide/delete/flag/unflag to a message.
func (h *Handlers) HandleModerate(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid message id", moderation.ErrMessageNotFound))
		return
	}
	var action moderation.Action
	if err := decodeBody(w, r, &action); err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, rc, err := h.engine.Moderate(r.Context(), who, channelParam(r), id, action)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, moderateResponse{Message: msg, receiptBody: receipt(rc)})
}

type standingResponse struct {
	Standing moderation.Standing `json:"standing"`
	receiptBody
}

// HandleStanding returns a user's standing, with expired timeouts reported as normal.
func (h *Handlers) HandleStanding(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Standing(channelParam(r), chi.URLParam(r, "userID"))
	writeJSON(w, http.StatusOK, standingResponse{Standing: st})
}

// timeoutRequest accepts either a Go duration string or whole seconds.
type timeoutRequest struct {
	Duration string `json:"duration,omitempty"`
	Seconds  int    `json:"seconds,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (t timeoutRequest) value() (time.Duration, error) {
	if t.Duration != "" {
		d, err := time.ParseDuration(t.Duration)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", moderation.ErrInvalidDuration, err)
		}
		return d, nil
	}
	if int64(t.Seconds) > math.MaxInt64/int64(time.Second) {
		return 0, fmt.Errorf("%w: %d seconds out of range", moderation.ErrInvalidDuration, t.Seconds)
	}
	return time.Duration(t.Seconds) * time.Second, nil
}

// HandleTimeout suspends a user for a duration.
func (h *Handlers) HandleTimeout(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req timeoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := req.value()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, rc, err := h.engine.Timeout(r.Context(), who, channelParam(r), chi.URLParam(r, "userID"), d)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, standingResponse{Standing: st, receiptBody: receipt(rc)})
}

// HandleRelease ends a user's timeout early.
func (h *Handlers) HandleRelease(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, rc, err := h.engine.Release(r.Context(), who, channelParam(r), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, standingResponse{Standing: st, receiptBody: receipt(rc)})
}

// HandleBan bans a user. Repeating it succeeds without a new event.
func (h *Handlers) HandleBan(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, rc, err := h.engine.Ban(r.Context(), who, channelParam(r), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, standingResponse{Standing: st, receiptBody: receipt(rc)})
}

type slowModeRequest struct {
	Enabled      bool `json:"enabled"`
	DelaySeconds int  `json:"delay_seconds"`
}

type slowModeResponse struct {
	SlowMode slowmode.Config `json:"slow_mode"`
	receiptBody
}

// HandleSlowMode replaces the channel's slow mode configuration.
func (h *Handlers) HandleSlowMode(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req slowModeRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	cfg, rc, err := h.engine.SetSlowMode(r.Context(), who, channelParam(r), req.Enabled, req.DelaySeconds)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slowModeResponse{SlowMode: cfg, receiptBody: receipt(rc)})
}

// HandleCloseChannel ends the channel's live session.
func (h *Handlers) HandleCloseChannel(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rc, err := h.engine.CloseChannel(r.Context(), who, channelParam(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt(rc))
}
