package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestRouter(t *testing.T) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "gokumo_test_up", Help: "test"}))
	dashboards := map[string][]byte{"/dashboards/kumo/overview.json": []byte(`{"title":"kumo"}`)}

	r := NewRouter(registry, dashboards, func(r chi.Router) {
		r.Get("/api/kumo/ping", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("pong")) })
	})

	cases := []struct {
		path string
		code int
		body string
	}{
		{"/health", http.StatusOK, "ok"},
		{"/metrics", http.StatusOK, "gokumo_test_up"},
		{"/dashboards/kumo/overview.json", http.StatusOK, `"title":"kumo"`},
		{"/dashboards/kumo/missing.json", http.StatusNotFound, ""},
		{"/api/kumo/ping", http.StatusOK, "pong"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != tc.code || !strings.Contains(rec.Body.String(), tc.body) {
			t.Fatalf("%s: %d %q", tc.path, rec.Code, rec.Body.String())
		}
	}
}

func TestLoggingInterceptorPassesThrough(t *testing.T) {
	interceptor := LoggingInterceptor(nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/gokumo.test.v1.Test/Call"}

	resp, err := interceptor(context.Background(), "req", info, func(context.Context, any) (any, error) { return "resp", nil })
	if err != nil || resp != "resp" {
		t.Fatalf("unexpected result: %v %v", resp, err)
	}

	want := status.Error(codes.Unavailable, "down")
	_, err = interceptor(context.Background(), "req", info, func(context.Context, any) (any, error) { return nil, want })
	if !errors.Is(err, want) {
		t.Fatalf("error not passed through: %v", err)
	}
}
