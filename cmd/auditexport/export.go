package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/mod-tender/audit"
)

type exportOptions struct {
	BaseURL  string
	Token    string
	Channel  string
	From     time.Time
	To       time.Time
	PageSize int
	Timeout  time.Duration
	Client   *http.Client
}

// export follows next_cursor until the log is exhausted, writing one entry per line.
func export(ctx context.Context, opts exportOptions, w io.Writer) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	enc := json.NewEncoder(w)
	total := 0
	cursor := ""
	for {
		page, err := fetchPage(ctx, client, opts, cursor)
		if err != nil {
			return total, err
		}
		for _, e := range page.Entries {
			if err := enc.Encode(e); err != nil {
				return total, err
			}
			total++
		}
		if page.NextCursor == "" {
			return total, nil
		}
		cursor = page.NextCursor
	}
}

func fetchPage(ctx context.Context, client *http.Client, opts exportOptions, cursor string) (audit.Page, error) {
	q := url.Values{}
	if opts.Channel != "" {
		q.Set("channel", opts.Channel)
	}
	if !opts.From.IsZero() {
		q.Set("from", opts.From.Format(time.RFC3339))
	}
	if !opts.To.IsZero() {
		q.Set("to", opts.To.Format(time.RFC3339))
	}
	if opts.PageSize > 0 {
		q.Set("limit", strconv.Itoa(opts.PageSize))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u := strings.TrimRight(opts.BaseURL, "/") + "/audit?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return audit.Page{}, err
	}
	if opts.Token != "" {
		req.Header.Set("X-Admin-Token", opts.Token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return audit.Page{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return audit.Page{}, fmt.Errorf("audit export: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var page audit.Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return audit.Page{}, fmt.Errorf("decode audit page: %w", err)
	}
	return page, nil
}
