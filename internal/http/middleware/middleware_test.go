package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthProtectsVersionedRoutes(t *testing.T) {
	handler := RequestID(Auth("s3cret-token")(okHandler()))

	cases := []struct {
		name          string
		path          string
		authorization string
		want          int
	}{
		{name: "health is public", path: "/healthz", want: http.StatusOK},
		{name: "missing header", path: "/v1/reports", want: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/v1/reports", authorization: "Basic s3cret-token", want: http.StatusUnauthorized},
		{name: "wrong token", path: "/v1/reports", authorization: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid token", path: "/v1/reports", authorization: "Bearer s3cret-token", want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.authorization != "" {
				request.Header.Set("Authorization", tc.authorization)
			}
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, request)
			if recorder.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, recorder.Code)
			}
		})
	}
}

func TestAuthErrorCarriesRequestID(t *testing.T) {
	handler := RequestID(Auth("s3cret-token")(okHandler()))
	request := httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil)
	request.Header.Set("X-Request-Id", "req-123")
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, request)

	var body errorBody
	if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.RequestID != "req-123" || body.Error.Code != "unauthorized" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RateLimit(ctx, RateLimitConfig{RPS: 0.001, Burst: 2})(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		request := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
		request.RemoteAddr = "10.0.0.1:5000"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		codes = append(codes, recorder.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	request := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	request.RemoteAddr = "10.0.0.2:5000"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected a separate bucket per address, got %d", recorder.Code)
	}
}

func TestRequestIDReplacesOversizedHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))
	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set("X-Request-Id", strings.Repeat("x", maxRequestIDLength+1))
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, request)

	if len(seen) != 36 {
		t.Fatalf("expected a generated uuid, got %q", seen)
	}
	if recorder.Header().Get("X-Request-Id") != seen {
		t.Fatalf("expected response header to echo the request id")
	}
}

func TestTraceLogsStatusAndAttachesLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	handler := RequestID(Trace(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside handler")
		w.WriteHeader(http.StatusAccepted)
	})))

	request := httptest.NewRequest(http.MethodPost, "/v1/reports", nil)
	request.Header.Set("X-Request-Id", "req-9")
	handler.ServeHTTP(httptest.NewRecorder(), request)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two log lines, got %d: %s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["status"] != float64(http.StatusAccepted) || entry["request_id"] != "req-9" || entry["path"] != "/v1/reports" {
		t.Fatalf("unexpected trace entry %v", entry)
	}
	if !strings.Contains(lines[0], `"request_id":"req-9"`) {
		t.Fatalf("expected handler log to carry request id, got %s", lines[0])
	}
}
