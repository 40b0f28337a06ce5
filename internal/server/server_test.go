package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimora/nimora/internal/auth"
	"github.com/nimora/nimora/internal/metrics"
	"github.com/nimora/nimora/pkg/aggregator"
	"github.com/nimora/nimora/pkg/browser"
	"github.com/nimora/nimora/pkg/cache"
	"github.com/nimora/nimora/pkg/ecampus"
	"github.com/sirupsen/logrus"
)

type fakePortal struct {
	*httptest.Server
	logins atomic.Int32
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	p := &fakePortal{}
	mux := http.NewServeMux()
	mux.HandleFunc("/studzone", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `<form method="post"><input name="rollno"><input name="pass"><input type="submit"></form>`)
			return
		}
		p.logins.Add(1)
		r.ParseForm()
		if r.PostForm.Get("pass") != "pw" {
			fmt.Fprint(w, `<p>Invalid credentials</p>`)
			return
		}
		fmt.Fprint(w, `<h5>Dashboard</h5>`)
	})
	mux.HandleFunc("/studzone/Attendance/courseplan", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<div class="col-md-8"><h5>19Z601</h5><h6>Machine Learning</h6></div>`)
	})
	mux.HandleFunc("/studzone/Attendance/StudentPercentage", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<table id="example"><tbody><tr><td>19Z601</td><td>40</td><td>0</td><td>4</td><td>36</td></tr></tbody></table>`)
	})
	mux.HandleFunc("/studzone/ContinuousAssessment/CATestTimeTable", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<p>No tests</p>`)
	})
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

type testEnv struct {
	portal  *fakePortal
	handler http.Handler
	signer  auth.Signer
	metrics *metrics.Collectors
}

func newTestEnv(t *testing.T, authRequired bool, rateLimit int) *testEnv {
	t.Helper()
	return newTestEnvWithFeedback(t, authRequired, rateLimit, nil)
}

func newTestEnvWithFeedback(t *testing.T, authRequired bool, rateLimit int, fb *ecampus.FeedbackAutomator) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	p := newFakePortal(t)
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})

	m := metrics.New()
	svc := aggregator.New(aggregator.Config{
		Provider: ecampus.NewProvider(&browser.HTTPLauncher{}, ecampus.Config{BaseURL: p.URL}),
		Cache:    cache.New(cache.NewMemoryStore(), nil),
		Feedback: fb,
		Metrics:  m,
		Log:      log,
	})
	signer := auth.Signer{Key: "k", Issuer: "nimora", AccessTTL: time.Minute, RefreshTTL: time.Hour}
	s := New(Options{
		Service:      svc,
		Signer:       signer,
		AuthRequired: authRequired,
		RateLimit:    rateLimit,
		Metrics:      m,
		Log:          log,
	})
	return &testEnv{portal: p, handler: s.Handler(), signer: signer, metrics: m}
}

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestAttendanceOpenAccess(t *testing.T) {
	e := newTestEnv(t, false, 0)
	body := map[string]interface{}{"rollno": "22z201", "password": "pw", "threshold": 80}

	rec := e.do(http.MethodPost, "/api/attendance", "", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Cache") != "MISS" || rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("headers = %v", rec.Header())
	}
	var snap ecampus.AttendanceSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.RollNo != "22Z201" || snap.Threshold != 80 || len(snap.Courses) != 1 || snap.Courses[0].CanBunk != 5 {
		t.Fatalf("snapshot = %+v", snap)
	}

	rec = e.do(http.MethodPost, "/api/attendance", "", body)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second call: status=%d cache=%q", rec.Code, rec.Header().Get("X-Cache"))
	}
	if n := e.portal.logins.Load(); n != 1 {
		t.Fatalf("portal logins = %d, want 1", n)
	}
	rec = e.do(http.MethodGet, "/metrics", "", nil)
	if !strings.Contains(rec.Body.String(), `nimora_http_requests_total{code="200",route="/api/attendance"} 2`) {
		t.Fatalf("metrics missing request counter:\n%s", rec.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	e := newTestEnv(t, false, 0)
	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		want   string
	}{
		{"bad password", "/api/attendance", map[string]interface{}{"rollno": "22z201", "password": "nope"}, http.StatusUnauthorized, "invalid portal credentials"},
		{"missing password", "/api/cgpa", map[string]interface{}{"rollno": "22z201"}, http.StatusBadRequest, "validation failed"},
		{"malformed roll number", "/api/exam-schedule", map[string]interface{}{"rollno": "x", "password": "pw"}, http.StatusBadRequest, "validation failed"},
		{"threshold out of range", "/api/attendance", map[string]interface{}{"rollno": "22z201", "password": "pw", "threshold": 120}, http.StatusBadRequest, "validation failed"},
		{"feedback unavailable", "/api/feedback", map[string]interface{}{"rollno": "22z201", "password": "pw"}, http.StatusServiceUnavailable, "feedback automation is disabled"},
		{"not json", "/api/attendance", "rollno=22z201", http.StatusBadRequest, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(http.MethodPost, tt.path, "", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if got := decode(t, rec)["error"]; got != tt.want {
				t.Fatalf("error = %v, want %q", got, tt.want)
			}
		})
	}
}

func TestFeedbackFailureResult(t *testing.T) {
	fb := ecampus.NewFeedbackAutomator(ecampus.FeedbackOptions{Pause: -1}, nil)
	e := newTestEnvWithFeedback(t, false, 0, fb)

	// The fake dashboard has no feedback section.
	rec := e.do(http.MethodPost, "/api/feedback", "", map[string]interface{}{"rollno": "22z201", "password": "pw", "feedbackIndex": 0})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode(t, rec)
	want := map[string]interface{}{
		"status":  "error",
		"message": "Error processing end semester feedback while opening the feedback section",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("body = %v, want %v", got, want)
	}
	if strings.Contains(rec.Body.String(), e.portal.URL) {
		t.Fatalf("body leaks the portal URL: %s", rec.Body.String())
	}
}

func TestValidationReportsJSONFieldNames(t *testing.T) {
	e := newTestEnv(t, false, 0)
	rec := e.do(http.MethodPost, "/api/attendance", "", map[string]interface{}{"password": "pw", "threshold": -1})
	fields, _ := decode(t, rec)["fields"].(map[string]interface{})
	if fields["rollno"] != "required" || fields["threshold"] != "gt" {
		t.Fatalf("fields = %v", fields)
	}
}

func TestEmptyExamScheduleIsNotAnError(t *testing.T) {
	e := newTestEnv(t, false, 0)
	rec := e.do(http.MethodPost, "/api/exam-schedule", "", map[string]interface{}{"rollno": "22z201", "password": "pw"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := decode(t, rec)["message"]; got != "No upcoming exams found." {
		t.Fatalf("message = %v", got)
	}
}

func TestTokenFlow(t *testing.T) {
	e := newTestEnv(t, true, 0)
	body := map[string]interface{}{"rollno": "22z201", "password": "pw"}

	if rec := e.do(http.MethodPost, "/api/attendance", "", body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("without token: status = %d", rec.Code)
	}
	if n := e.portal.logins.Load(); n != 0 {
		t.Fatalf("portal reached without a token")
	}

	if rec := e.do(http.MethodPost, "/api/auth/login", "", map[string]interface{}{"rollno": "22z201", "password": "bad"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("login with bad password: status = %d", rec.Code)
	}

	rec := e.do(http.MethodPost, "/api/auth/login", "", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status = %d body=%s", rec.Code, rec.Body.String())
	}
	login := decode(t, rec)
	access, _ := login["accessToken"].(string)
	refresh, _ := login["refreshToken"].(string)
	if login["rollNo"] != "22Z201" || access == "" || refresh == "" {
		t.Fatalf("login = %v", login)
	}

	if rec := e.do(http.MethodPost, "/api/attendance", access, body); rec.Code != http.StatusOK {
		t.Fatalf("with token: status = %d body=%s", rec.Code, rec.Body.String())
	}
	other := map[string]interface{}{"rollno": "22z999", "password": "pw"}
	if rec := e.do(http.MethodPost, "/api/attendance", access, other); rec.Code != http.StatusForbidden {
		t.Fatalf("token for another roll number: status = %d", rec.Code)
	}
	if rec := e.do(http.MethodPost, "/api/attendance", refresh, body); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token as bearer: status = %d", rec.Code)
	}

	rec = e.do(http.MethodPost, "/api/auth/refresh", "", map[string]interface{}{"refreshToken": refresh})
	if rec.Code != http.StatusOK || decode(t, rec)["accessToken"] == "" {
		t.Fatalf("refresh: status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := e.do(http.MethodPost, "/api/auth/refresh", "", map[string]interface{}{"refreshToken": access}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("access token as refresh: status = %d", rec.Code)
	}
}

func TestInvalidate(t *testing.T) {
	e := newTestEnv(t, true, 0)
	body := map[string]interface{}{"rollno": "22z201", "password": "pw"}
	pair, err := e.signer.Issue("22Z201")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	e.do(http.MethodPost, "/api/attendance", pair.AccessToken, body)
	if rec := e.do(http.MethodPost, "/api/attendance", pair.AccessToken, body); rec.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second call not cached")
	}

	if rec := e.do(http.MethodDelete, "/api/cache?kind=grades", pair.AccessToken, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown kind: status = %d", rec.Code)
	}
	if rec := e.do(http.MethodDelete, "/api/cache?rollno=22z999", pair.AccessToken, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign roll number: status = %d", rec.Code)
	}
	if rec := e.do(http.MethodDelete, "/api/cache?kind=attendance", pair.AccessToken, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("invalidate: status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := e.do(http.MethodPost, "/api/attendance", pair.AccessToken, body); rec.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("cache not invalidated")
	}
}

func TestMiddleware(t *testing.T) {
	e := newTestEnv(t, false, 2)

	req := httptest.NewRequest(http.MethodOptions, "/api/attendance", nil)
	req.Header.Set("Origin", "https://nimora.app")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight: status = %d headers = %v", rec.Code, rec.Header())
	}

	for i := 0; i < 2; i++ {
		rec = e.do(http.MethodGet, "/healthz", "", nil)
		if rec.Code != http.StatusOK || rec.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("healthz: status = %d headers = %v", rec.Code, rec.Header())
		}
	}
	if rec := e.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status = %d, want 429", rec.Code)
	}
}

func TestCORSAllowList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})
	h := New(Options{Log: log, AllowOrigins: []string{"https://nimora.app/"}}).Handler()

	tests := []struct {
		name        string
		origin      string
		wantOrigin  string
		wantCredits string
	}{
		{"listed", "https://nimora.app", "https://nimora.app", "true"},
		{"unlisted", "https://evil.example", "", ""},
		{"no origin", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Fatalf("allow origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCredits {
				t.Fatalf("allow credentials = %q, want %q", got, tt.wantCredits)
			}
			if rec.Header().Get("Vary") != "Origin" {
				t.Fatalf("missing Vary: Origin")
			}
		})
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	e := newTestEnv(t, false, 0)
	id := "5f0c3a4e-8d55-4b8e-9a3d-3f5f7f0a9b11"
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, id)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != id {
		t.Fatalf("request id = %q, want %q", got, id)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got == "not-a-uuid" || got == "" {
		t.Fatalf("request id = %q, want a fresh uuid", got)
	}
}

func TestTokenBucket(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 2)
	l.now = func() time.Time { return now }

	for i, want := range []bool{true, true, false} {
		if got := l.Allow("a"); got != want {
			t.Fatalf("call %d: Allow = %v, want %v", i, got, want)
		}
	}
	if !l.Allow("b") {
		t.Fatalf("keys must not share a bucket")
	}

	now = now.Add(30 * time.Second)
	if !l.Allow("a") || l.Allow("a") {
		t.Fatalf("half a minute must refill exactly one token")
	}

	now = now.Add(10 * time.Minute)
	l.Allow("c")
	if _, ok := l.state["b"]; ok {
		t.Fatalf("idle bucket was not swept")
	}
}
