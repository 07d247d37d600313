package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/onnwee/mod-tender/audit"
)

// HandleAuditExport pages through the audit log. from/to are RFC3339 and bound
// the entry time as [from, to); cursor is the next_cursor of the previous page.
func (h *Handlers) HandleAuditExport(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "audit store not configured"})
		return
	}
	q := r.URL.Query()
	query := audit.Query{
		ChannelID: q.Get("channel"),
		Cursor:    q.Get("cursor"),
		Limit:     parseIntQuery(r, "limit", 0),
	}
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &query.From}, {"to", &query.To}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: %s must be RFC3339", errBadRequest, p.key))
			return
		}
		*p.dst = t
	}
	page, err := h.audit.Query(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if page.Entries == nil {
		page.Entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, page)
}
