package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/onnwee/mod-tender/chat"
	"github.com/onnwee/mod-tender/moderation"
)

const (
	feedSource   = "webhook"
	maxFeedBatch = 1000
)

type feedResult struct {
	chat.Result
	Error string `json:"error,omitempty"`
}

// HandleFeedEvents accepts one raw chat event or a JSON array of them and routes
// each through the same normalization and admission path as the live sources.
// Per-event outcomes are returned in order; malformed events do not fail the batch.
func (h *Handlers) HandleFeedEvents(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8*maxBodyBytes))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", moderation.ErrMalformedEvent, err))
		return
	}
	var batch []chat.RawEvent
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &batch)
	} else {
		var one chat.RawEvent
		err = json.Unmarshal(data, &one)
		batch = []chat.RawEvent{one}
	}
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", moderation.ErrMalformedEvent, err))
		return
	}
	if len(batch) > maxFeedBatch {
		h.writeError(w, r, fmt.Errorf("%w: batch of %d exceeds %d", moderation.ErrMalformedEvent, len(batch), maxFeedBatch))
		return
	}

	results := make([]feedResult, 0, len(batch))
	accepted := 0
	for _, raw := range batch {
		res := h.pump.Handle(r.Context(), feedSource, raw)
		fr := feedResult{Result: res}
		if res.Err != nil {
			fr.Error = res.Err.Error()
		}
		if res.Accepted {
			accepted++
		}
		results = append(results, fr)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted, "results": results})
}
