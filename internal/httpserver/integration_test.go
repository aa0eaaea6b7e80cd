package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keithlinneman/toptalkers/internal/httpserver"
	"github.com/keithlinneman/toptalkers/internal/log"
	"github.com/keithlinneman/toptalkers/internal/rankhttp"
	"github.com/keithlinneman/toptalkers/internal/ratelimit"
	"github.com/keithlinneman/toptalkers/internal/tracker"
)

// TestIntegration_FullStack wires httpserver.NewHandler with a real
// tracker, the ranking API, and a rate limiter, then verifies counting,
// ranking, reset, and limiting behave end-to-end through the full
// middleware chain.
func TestIntegration_FullStack(t *testing.T) {
	tr := tracker.New(tracker.WithCapacity(10))
	api := rankhttp.NewAPI(tr, nil, log.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(1000, 1000),
	)

	handler := httpserver.NewHandler(&httpserver.Options{
		Logger:       log.Nop(),
		UseRecoverMW: true,
		TrackerMW:    tr.Middleware,
		RateLimitMW:  limiter.Middleware,
		APIRoutes:    api.RegisterRoutes,
	})

	get := func(t *testing.T, path, remoteAddr string) *httptest.ResponseRecorder {
		t.Helper()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
		req.RemoteAddr = remoteAddr
		handler.ServeHTTP(rec, req)
		return rec
	}

	// drive traffic from two addresses
	for i := 0; i < 3; i++ {
		get(t, "/api/top", "10.0.0.1:1000")
	}
	get(t, "/api/top", "10.0.0.2:1000")

	t.Run("requests are counted per resolved client IP", func(t *testing.T) {
		rec := get(t, "/api/top/detail", "10.0.0.9:1000")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}

		var resp rankhttp.TopDetailResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		// the detail request itself was counted for 10.0.0.9
		if resp.Distinct != 3 {
			t.Fatalf("distinct = %d, want 3", resp.Distinct)
		}
		if resp.Ranking[0].Addr != "10.0.0.1" || resp.Ranking[0].Count != 3 {
			t.Fatalf("ranking[0] = %+v, want 10.0.0.1 count 3", resp.Ranking[0])
		}
	})

	t.Run("security headers on API responses", func(t *testing.T) {
		rec := get(t, "/api/top", "10.0.0.1:1000")
		if rec.Header().Get("Strict-Transport-Security") == "" {
			t.Fatal("HSTS missing")
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Fatal("X-Request-Id missing")
		}
	})

	t.Run("manual epoch reset clears counts", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/epoch/reset", http.NoBody)
		req.RemoteAddr = "10.0.0.1:1000"
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", rec.Code)
		}

		rec = get(t, "/api/top/detail", "10.0.0.1:1000")
		var resp rankhttp.TopDetailResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		// only the detail request itself has been seen since the reset
		if resp.Distinct != 1 {
			t.Fatalf("distinct after reset = %d, want 1", resp.Distinct)
		}
	})
}

// TestIntegration_RateLimitedRequestsStillCounted proves the tracker
// sits outside the rate limiter in the chain.
func TestIntegration_RateLimitedRequestsStillCounted(t *testing.T) {
	tr := tracker.New()
	api := rankhttp.NewAPI(tr, nil, log.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(1, 2),
	)

	handler := httpserver.NewHandler(&httpserver.Options{
		Logger:      log.Nop(),
		TrackerMW:   tr.Middleware,
		RateLimitMW: limiter.Middleware,
		APIRoutes:   api.RegisterRoutes,
	})

	denied := 0
	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/top", http.NoBody)
		req.RemoteAddr = "203.0.113.7:9999"
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			denied++
		}
	}

	if denied == 0 {
		t.Fatal("expected some requests to be rate limited")
	}
	// all 10 requests counted, including the denied ones
	snap := tr.Snapshot()
	if len(snap) != 1 || snap[0].Addr != "203.0.113.7" || snap[0].Count != 10 {
		t.Fatalf("snapshot = %+v, want 203.0.113.7 count 10", snap)
	}
}
