package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestThrottleAllow(t *testing.T) {
	th := NewThrottle(time.Second)
	now := time.Now()

	if !th.Allow(now) {
		t.Fatal("first call should pass")
	}
	if th.Allow(now.Add(500 * time.Millisecond)) {
		t.Error("call inside the interval should be refused")
	}
	if !th.Allow(now.Add(time.Second)) {
		t.Error("call after the interval should pass")
	}
}

func TestThrottleZeroInterval(t *testing.T) {
	th := NewThrottle(0)
	now := time.Now()
	if !th.Allow(now) || !th.Allow(now) {
		t.Error("zero interval should allow every call")
	}
}

func TestScoreboardFetch(t *testing.T) {
	updated := time.Date(2026, 1, 15, 19, 30, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/games/G1":
			fmt.Fprintf(w, `{"id":"G1","status":"live","home_score":14,"away_score":7,"period":2,"clock":"12:34","updated_at":%d}`, updated.Unix())
		case "/games/G404":
			w.WriteHeader(http.StatusNotFound)
		case "/games/G429":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	a := NewScoreboard(Config{BaseURL: srv.URL, Timeout: 2 * time.Second, Workers: 2})
	results := a.Fetch(context.Background(), []string{"G1", "G404", "G429", "G500"})
	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}

	byID := make(map[string]FetchResult, len(results))
	for _, r := range results {
		byID[r.EntityID] = r
	}

	ok := byID["G1"]
	if !ok.OK() {
		t.Fatalf("G1 failed: %v", ok.Failure)
	}
	if ok.Fields["status"].Str != "live" || ok.Fields["home_score"].Num != 14 || ok.Fields["clock"].Str != "12:34" {
		t.Errorf("G1 fields mapped wrong: %+v", ok.Fields)
	}
	if !ok.ObservedAt.Equal(updated) {
		t.Errorf("got observed %v, want upstream updated_at %v", ok.ObservedAt, updated)
	}

	tests := []struct {
		id   string
		want FailureKind
	}{
		{"G404", FailNotFound},
		{"G429", FailRateLimited},
		{"G500", FailTransient},
	}
	for _, tt := range tests {
		r := byID[tt.id]
		if r.Failure == nil || r.Failure.Kind != tt.want {
			t.Errorf("%s: got %+v, want %s", tt.id, r.Failure, tt.want)
		}
	}
}

func TestScoreboardFetchThrottled(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `{"id":"G1","status":"live"}`)
	}))
	defer srv.Close()

	a := NewScoreboard(Config{BaseURL: srv.URL, Timeout: 2 * time.Second, MinInterval: time.Minute})
	first := a.Fetch(context.Background(), []string{"G1"})
	second := a.Fetch(context.Background(), []string{"G1"})

	if !first[0].OK() {
		t.Fatalf("first fetch failed: %v", first[0].Failure)
	}
	if second[0].Failure == nil || second[0].Failure.Kind != FailRateLimited {
		t.Errorf("got %+v, want rate_limited from the self-throttle", second[0].Failure)
	}
	if hits != 1 {
		t.Errorf("throttled fetch still hit upstream %d times, want 1", hits)
	}
}

func TestScoreboardDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/games/upcoming" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `[{"id":"G7","status":"scheduled"},{"id":"","status":"scheduled"},{"id":"G8","status":"scheduled"}]`)
	}))
	defer srv.Close()

	a := NewScoreboard(Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	entities, err := a.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("got %d entities, want 2 (blank ID dropped)", len(entities))
	}
	for _, e := range entities {
		if !e.IsLive || e.Status != "scheduled" {
			t.Errorf("discovered entity should be active and scheduled: %+v", e)
		}
	}
}

func TestMarketFetchEmitsReading(t *testing.T) {
	updated := time.Date(2026, 1, 15, 19, 30, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets/M1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"id":"M1","status":"live","price":0.62,"volume":15000,"updated_at":%d}`, updated.Unix())
	}))
	defer srv.Close()

	a := NewMarket(Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	results := a.Fetch(context.Background(), []string{"M1"})
	if len(results) != 1 || !results[0].OK() {
		t.Fatalf("fetch failed: %+v", results)
	}

	r := results[0]
	if r.Fields["price"].Num != 0.62 || r.Fields["volume"].Num != 15000 {
		t.Errorf("fields mapped wrong: %+v", r.Fields)
	}
	if len(r.Readings) != 1 {
		t.Fatalf("got %d readings, want 1", len(r.Readings))
	}
	reading := r.Readings[0]
	if reading.MarketID != "M1" || reading.Price != 0.62 || !reading.ObservedAt.Equal(updated) {
		t.Errorf("reading mapped wrong: %+v", reading)
	}
}

func TestFetchTimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	a := NewScoreboard(Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	results := a.Fetch(ctx, []string{"G1"})
	if results[0].Failure == nil || results[0].Failure.Kind != FailTimeout {
		t.Errorf("got %+v, want timeout", results[0].Failure)
	}
}
