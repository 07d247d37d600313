package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/onnwee/mod-tender/audit"
	"github.com/onnwee/mod-tender/chat"
	"github.com/onnwee/mod-tender/moderation"
	"github.com/onnwee/mod-tender/telemetry"
)

const (
	defaultSnapshot = 50
	maxBodyBytes    = 1 << 20
)

var (
	errMissingActor = errors.New("missing X-Moderator-ID")
	errBadRequest   = errors.New("bad request")
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	engine      *moderation.Engine
	pump        *chat.Pump
	audit       audit.Store
	snapshotMax int
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(engine *moderation.Engine, pump *chat.Pump, store audit.Store, snapshotMax int) *Handlers {
	if pump == nil {
		pump = chat.NewPump(engine)
	}
	if snapshotMax <= 0 {
		snapshotMax = 500
	}
	return &Handlers{engine: engine, pump: pump, audit: store, snapshotMax: snapshotMax}
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, moderation.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, moderation.ErrMessageNotFound), errors.Is(err, moderation.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.Is(err, moderation.ErrInvalidDuration), errors.Is(err, moderation.ErrInvalidDelay),
		errors.Is(err, moderation.ErrMalformedEvent), errors.Is(err, audit.ErrInvalidCursor),
		errors.Is(err, errMissingActor), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, moderation.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, moderation.ErrUserBanned), errors.Is(err, moderation.ErrUserTimedOut):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		telemetry.LoggerWithCorr(r.Context()).Error("request failed", slog.String("path", r.URL.Path), slog.Any("err", err), slog.String("component", "http"))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// writeRejection reports an ingest rejection, with Retry-After for rate limits.
func writeRejection(w http.ResponseWriter, res moderation.IngestResult) {
	if res.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
	}
	msg := string(res.Reason)
	if res.Err != nil {
		msg = res.Err.Error()
	}
	writeJSON(w, statusFor(res.Err), errorBody{Error: msg, Reason: string(res.Reason)})
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// actor returns the moderator performing the request.
func actor(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get("X-Moderator-ID"))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("moderator_id"))
	}
	if id == "" {
		return "", errMissingActor
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (h *Handlers) snapshotSize(r *http.Request, def int) int {
	n := parseIntQuery(r, "snapshot", def)
	if n < 0 {
		n = 0
	}
	if n > h.snapshotMax {
		n = h.snapshotMax
	}
	return n
}

func channelParam(r *http.Request) string { return chi.URLParam(r, "channelID") }

type receiptBody struct {
	Seq        uint64 `json:"seq,omitempty"`
	AuditError string `json:"audit_error,omitempty"`
}

func receipt(rc moderation.Receipt) receiptBody {
	b := receiptBody{Seq: rc.Seq}
	if rc.AuditErr != nil {
		b.AuditError = rc.AuditErr.Error()
	}
	return b
}
