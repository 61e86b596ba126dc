package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BadgerOps/mirrorswitch/internal/config"
	"github.com/BadgerOps/mirrorswitch/internal/locator"
	"github.com/BadgerOps/mirrorswitch/internal/metrics"
	"github.com/BadgerOps/mirrorswitch/internal/mirror"
	"github.com/BadgerOps/mirrorswitch/internal/resolve"
	"github.com/BadgerOps/mirrorswitch/internal/store"
)

type testServer struct {
	*Server
	handler http.Handler
	svc     *locator.Service
	store   *store.Store
}

func setupTestServer(t *testing.T, mutate ...func(*locator.Options)) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.New(":memory:", logger)
	if err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	res := resolve.New()
	opts := locator.Options{
		Hooks:       res,
		Persistence: st,
		Selector:    mirror.NewRacer(mirror.NewHTTPProber(logger), m, logger),
		Metrics:     m,
		Logger:      logger,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	svc := locator.New(opts)
	t.Cleanup(func() {
		if err := svc.Close(); err != nil {
			t.Fatalf("failed to close service: %v", err)
		}
	})

	cfg := config.DefaultConfig()
	cfg.Mirrors.URLTriesCount = 1
	cfg.Mirrors.TimeoutSeconds = 2

	srv := NewServer(svc, res, st, cfg, reg, logger)
	return &testServer{Server: srv, handler: srv.Handler(), svc: svc, store: st}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func newMirrorServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func TestStatusInitiallyInactive(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	st := decode[locator.State](t, w)
	if st.Active || st.Phase != locator.PhaseInactive || !st.Enabled {
		t.Errorf("unexpected initial state: %+v", st)
	}
}

func TestSetStatus(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPut, "/api/status", map[string]bool{"enabled": false})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ts.svc.Enabled() {
		t.Error("expected rewriting to be disabled")
	}

	w = ts.do(t, http.MethodPut, "/api/status", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing enabled, got %d", w.Code)
	}
}

func TestRegisterListRemoveMirrors(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/mirrors", mirror.Mirror{Name: "a", Enabled: true, RemoteURL: "https://cdn-a.example.com"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/api/mirrors", mirror.Mirror{Name: "d", Enabled: false, RemoteURL: "https://cdn-d.example.com"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for disabled mirror, got %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/mirrors", mirror.Mirror{Name: "e", Enabled: true})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty remote_url, got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/mirrors", nil)
	mirrors := decode[[]mirror.Mirror](t, w)
	if len(mirrors) != 1 || mirrors[0].Name != "a" {
		t.Fatalf("expected only mirror a, got %+v", mirrors)
	}

	w = ts.do(t, http.MethodDelete, "/api/mirrors?url=https://cdn-a.example.com", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodDelete, "/api/mirrors?url=https://cdn-a.example.com", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second delete, got %d", w.Code)
	}

	w = ts.do(t, http.MethodDelete, "/api/mirrors", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without url, got %d", w.Code)
	}
}

func TestActivateAndResolve(t *testing.T) {
	ts := setupTestServer(t)
	ts.svc.Register(mirror.Mirror{Name: "a", Enabled: true, RemoteURL: "https://cdn-a.example.com"})
	ts.svc.Register(mirror.Mirror{Name: "b", Enabled: true, RemoteURL: "https://cdn-b.example.com"})

	w := ts.do(t, http.MethodPost, "/api/activate", activateRequest{URL: "https://cdn-a.example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	act := decode[locator.ActivationResult](t, w)
	if !act.Success || act.EpochID == "" {
		t.Errorf("unexpected activation result: %+v", act)
	}

	w = ts.do(t, http.MethodPost, "/api/resolve", resolveRequest{PrimaryKey: "hero", InternalID: "https://cdn-b.example.com/hero.bundle"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	res := decode[resolveResponse](t, w)
	if res.Resolved != "https://cdn-a.example.com/hero.bundle" || !res.Rewritten {
		t.Errorf("unexpected resolve response: %+v", res)
	}

	w = ts.do(t, http.MethodGet, "/api/activations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	history := decode[[]activationJSON](t, w)
	if len(history) != 1 || history[0].Status != "success" || history[0].EpochID != act.EpochID {
		t.Errorf("unexpected history: %+v", history)
	}
}

func TestResolveBatch(t *testing.T) {
	ts := setupTestServer(t)
	ts.svc.Register(mirror.Mirror{Name: "a", Enabled: true, RemoteURL: "https://cdn-a.example.com"})
	ts.svc.Register(mirror.Mirror{Name: "b", Enabled: true, RemoteURL: "https://cdn-b.example.com"})
	if res := ts.svc.ActivateURL(context.Background(), "https://cdn-b.example.com"); !res.Success {
		t.Fatalf("activation failed: %v", res.Err)
	}

	w := ts.do(t, http.MethodPost, "/api/resolve/batch", resolveBatchRequest{Locations: []resolveRequest{
		{PrimaryKey: "hero", InternalID: "https://cdn-a.example.com/hero.bundle"},
		{PrimaryKey: "local", InternalID: "Assets/local.prefab"},
	}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decode[[]resolveResponse](t, w)
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Resolved != "https://cdn-b.example.com/hero.bundle" || !got[0].Rewritten {
		t.Errorf("unexpected first result: %+v", got[0])
	}
	if got[1].Resolved != "Assets/local.prefab" || got[1].Rewritten {
		t.Errorf("unexpected second result: %+v", got[1])
	}
}

func TestActivateErrors(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"empty url", "", http.StatusBadRequest},
		{"unknown url", "https://unknown.example.com", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/activate", activateRequest{URL: tt.url})
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestResolveRequiresInternalID(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/resolve", resolveRequest{PrimaryKey: "k"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestSelectPicksFastestAndActivates(t *testing.T) {
	ts := setupTestServer(t)
	fast := newMirrorServer(t, 0)
	slow := newMirrorServer(t, 300*time.Millisecond)
	ts.svc.Register(mirror.Mirror{Name: "slow", Enabled: true, TestURL: slow.URL, RemoteURL: "https://slow.example.com"})
	ts.svc.Register(mirror.Mirror{Name: "fast", Enabled: true, TestURL: fast.URL, RemoteURL: "https://fast.example.com"})

	w := ts.do(t, http.MethodPost, "/api/select", selectRequest{Tries: 1, TimeoutSeconds: 2, Activate: true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[selectResponse](t, w)
	if resp.Selection == nil || resp.Selection.URL != "https://fast.example.com" {
		t.Errorf("selected %+v, want fast mirror", resp.Selection)
	}
	if resp.Activation == nil || !resp.Activation.Success {
		t.Fatalf("expected successful activation, got %+v", resp.Activation)
	}

	active, ok := ts.svc.Active()
	if !ok || active.Name != "fast" {
		t.Errorf("active mirror = %+v, want fast", active)
	}
}

func TestSelectActivateKeepsPermanentRemote(t *testing.T) {
	ts := setupTestServer(t, func(o *locator.Options) { o.PermanentRemote = true })
	fast := newMirrorServer(t, 0)
	slow := newMirrorServer(t, 300*time.Millisecond)
	ts.svc.Register(mirror.Mirror{Name: "slow", Enabled: true, TestURL: slow.URL, RemoteURL: "https://slow.example.com"})
	ts.svc.Register(mirror.Mirror{Name: "fast", Enabled: true, TestURL: fast.URL, RemoteURL: "https://fast.example.com"})

	if res := ts.svc.ActivateURL(context.Background(), "https://slow.example.com"); !res.Success {
		t.Fatalf("activation failed: %v", res.Err)
	}

	w := ts.do(t, http.MethodPost, "/api/select", selectRequest{Tries: 1, TimeoutSeconds: 2, Activate: true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[selectResponse](t, w)
	if resp.Activation == nil || !resp.Activation.Noop || resp.Activation.URL != "https://slow.example.com" {
		t.Errorf("expected the permanent remote to be kept, got %+v", resp.Activation)
	}
	if resp.Selection != nil {
		t.Errorf("no race should run, got selection %+v", resp.Selection)
	}

	active, ok := ts.svc.Active()
	if !ok || active.Name != "slow" {
		t.Errorf("active mirror = %+v, want slow", active)
	}
}

func TestSelectWithoutMirrors(t *testing.T) {
	ts := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/select", nil)
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSelectRejectsBadParameters(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/select", map[string]int{"tries": -1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestListActivationsLimit(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/activations?limit=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/activations?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty list, got %s", w.Body.String())
	}
}

func TestListActivationsWithoutStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := locator.New(locator.Options{Logger: logger})
	srv := NewServer(svc, resolve.New(), nil, nil, nil, logger)

	req := httptest.NewRequest(http.MethodGet, "/api/activations", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	ts.svc.Register(mirror.Mirror{Name: "a", Enabled: true, RemoteURL: "https://cdn-a.example.com"})
	ts.do(t, http.MethodPost, "/api/activate", activateRequest{URL: "https://cdn-a.example.com"})

	w := ts.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `mirrorswitch_activations_total{result="success"} 1`) {
		t.Errorf("metrics output missing activation counter:\n%s", w.Body.String())
	}
}
