package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func ok(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, h *Handler, path string, ctx context.Context) (int, result, *httptest.ResponseRecorder) {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx))
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, body, rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "postgres", Check: failWith("down")})
	code, body, rec := serve(t, h, "/healthz", context.Background())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "postgres", Check: ok},
				{Name: "upstream", Check: ok},
			},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"postgres": "ok", "upstream": "ok"},
		},
		{
			name: "required fails",
			checkers: []Checker{
				{Name: "postgres", Check: failWith("connection refused")},
				{Name: "upstream", Check: ok},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"postgres": "fail: connection refused", "upstream": "ok"},
		},
		{
			name: "optional fails",
			checkers: []Checker{
				{Name: "upstream", Check: ok},
				{Name: "speak", Check: failWith("all backends open"), Optional: true},
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
			wantChecks: map[string]string{"upstream": "ok", "speak": "fail: all backends open"},
		},
		{
			name: "required beats optional",
			checkers: []Checker{
				{Name: "upstream", Check: failWith("circuit open")},
				{Name: "speak", Check: failWith("quota"), Optional: true},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body, _ := serve(t, New(tt.checkers...), "/readyz", context.Background())
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Fatalf("readyz = %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			for name, want := range tt.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("checks[%s] = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_RunsChecksConcurrently(t *testing.T) {
	t.Parallel()
	var inFlight atomic.Int32
	both := make(chan struct{})
	slow := func(ctx context.Context) error {
		if inFlight.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := New(Checker{Name: "a", Check: slow}, Checker{Name: "b", Check: slow})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, body, _ := serve(t, h, "/readyz", ctx)
	if code != http.StatusOK {
		t.Fatalf("readyz = %d %v, want 200 (checks should not run one after another)", code, body.Checks)
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code, _, _ := serve(t, h, "/readyz", ctx); code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", code)
	}
}

func TestReadyz_Draining(t *testing.T) {
	t.Parallel()
	called := false
	h := New(Checker{Name: "upstream", Check: func(context.Context) error { called = true; return nil }})
	h.Drain()

	code, body, _ := serve(t, h, "/readyz", context.Background())
	if code != http.StatusServiceUnavailable || body.Status != "draining" {
		t.Errorf("readyz = %d %q, want 503 draining", code, body.Status)
	}
	if called {
		t.Error("checkers ran while draining")
	}
	if code, _, _ := serve(t, h, "/healthz", context.Background()); code != http.StatusOK {
		t.Errorf("healthz while draining = %d, want 200", code)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestPingChecker(t *testing.T) {
	t.Parallel()
	h := New(
		PingChecker("postgres", fakePinger{}),
		PingChecker("replica", fakePinger{err: errors.New("connection refused")}),
	)
	code, body, _ := serve(t, h, "/readyz", context.Background())
	if code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", code)
	}
	if body.Checks["postgres"] != "ok" || body.Checks["replica"] != "fail: connection refused" {
		t.Errorf("checks = %v", body.Checks)
	}
}
