package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectors(t *testing.T) {
	c := New()

	c.CacheLookup("attendance", true)
	c.CacheLookup("attendance", false)
	c.CacheLookup("attendance", false)
	c.LoginObserved("studzone", "rejected")
	c.SessionsInFlight(1)
	c.SessionsInFlight(1)
	c.SessionsInFlight(-1)
	c.ScrapeObserved("cgpa", "ok", 1500*time.Millisecond)
	c.RequestServed("/api/attendance", 200)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"cache hit", testutil.ToFloat64(c.cacheRequests.WithLabelValues("attendance", "hit")), 1},
		{"cache miss", testutil.ToFloat64(c.cacheRequests.WithLabelValues("attendance", "miss")), 2},
		{"login", testutil.ToFloat64(c.logins.WithLabelValues("studzone", "rejected")), 1},
		{"sessions", testutil.ToFloat64(c.activeSessions), 1},
		{"requests", testutil.ToFloat64(c.httpRequests.WithLabelValues("/api/attendance", "200")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if n := testutil.CollectAndCount(c.scrapeDuration); n != 1 {
		t.Fatalf("scrape duration series = %d, want 1", n)
	}
}

func TestHandler(t *testing.T) {
	c := New()
	c.LoginObserved("studzone2", "ok")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), `nimora_portal_logins_total{outcome="ok",variant="studzone2"} 1`) {
		t.Fatalf("exposition missing login counter:\n%s", body)
	}
}
