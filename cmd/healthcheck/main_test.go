package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheck(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	if err := check(context.Background(), srv.URL+"/healthz"); err != nil {
		t.Fatalf("healthy: %v", err)
	}
	status = http.StatusServiceUnavailable
	if err := check(context.Background(), srv.URL+"/healthz"); err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestHealthURL(t *testing.T) {
	tests := []struct{ addr, url, want string }{
		{"", "", "http://localhost:8080/healthz"},
		{":9090", "", "http://localhost:9090/healthz"},
		{"0.0.0.0:7000", "", "http://0.0.0.0:7000/healthz"},
		{":9090", "http://svc/healthz", "http://svc/healthz"},
	}
	for _, tt := range tests {
		t.Setenv("HTTP_ADDR", tt.addr)
		t.Setenv("HEALTHCHECK_URL", tt.url)
		if got := healthURL(); got != tt.want {
			t.Errorf("healthURL(%q, %q) = %q, want %q", tt.addr, tt.url, got, tt.want)
		}
	}
}
