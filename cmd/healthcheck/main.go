// Command healthcheck probes /healthz and exits non-zero when the service is not
// healthy. It is used as the container HEALTHCHECK.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	if err := check(context.Background(), healthURL()); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func healthURL() string {
	if v := os.Getenv("HEALTHCHECK_URL"); v != "" {
		return v
	}
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" || strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
		if addr == "localhost" {
			addr = "localhost:8080"
		}
	}
	return "http://" + addr + "/healthz"
}

func check(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return "healthz returned " + http.StatusText(e.code) }
