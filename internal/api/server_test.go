package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cabinworks/cabin-audio-core/internal/auth"
	"github.com/cabinworks/cabin-audio-core/internal/infrastructure/config"
	"github.com/cabinworks/cabin-audio-core/internal/infrastructure/logging"
	"github.com/cabinworks/cabin-audio-core/internal/vehicle"
	"github.com/cabinworks/cabin-audio-core/internal/volume"
)

// testJWTSecret is a throwaway signing secret for handler tests.
const testJWTSecret = "unit-test-secret-0123456789abcdef0123"

// fakeController is an in-memory volume.Controller for handler tests.
type fakeController struct {
	mu        sync.Mutex
	volumes   map[volume.Stream]int
	lastFlags volume.Flag
	keyEvents []volume.KeyEvent
	keyResult bool
	observers map[int64]volume.Observer
	nextObs   int64
}

func newFakeController() *fakeController {
	return &fakeController{
		volumes: map[volume.Stream]int{
			volume.StreamMedia:      18,
			volume.StreamNavigation: 24,
		},
		keyResult: true,
		observers: make(map[int64]volume.Observer),
	}
}

func (f *fakeController) Start(context.Context) error { return nil }
func (f *fakeController) Stop() error                 { return nil }

func (f *fakeController) StreamVolume(stream volume.Stream) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volumes[stream]
}

func (f *fakeController) SetStreamVolume(stream volume.Stream, index int, flags volume.Flag) {
	f.mu.Lock()
	f.volumes[stream] = index
	f.lastFlags = flags
	f.mu.Unlock()
}

func (f *fakeController) StreamMaxVolume(volume.Stream) int { return 40 }
func (f *fakeController) StreamMinVolume(volume.Stream) int { return 0 }

func (f *fakeController) HandleKeyEvent(ev volume.KeyEvent) bool {
	f.mu.Lock()
	f.keyEvents = append(f.keyEvents, ev)
	f.mu.Unlock()
	return f.keyResult
}

func (f *fakeController) RegisterObserver(o volume.Observer) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextObs++
	f.observers[f.nextObs] = o
	return f.nextObs
}

func (f *fakeController) UnregisterObserver(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.observers, id)
}

func (f *fakeController) recordedFlags() volume.Flag {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFlags
}

func (f *fakeController) recordedKeys() []volume.KeyEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]volume.KeyEvent(nil), f.keyEvents...)
}

// fakeFocusController adds focus tracking on top of fakeController.
type fakeFocusController struct {
	*fakeController
	focused volume.Context
}

func (f *fakeFocusController) FocusedContext() volume.Context { return f.focused }

// fakeHALStats provides canned vehicle daemon link statistics.
type fakeHALStats struct {
	stats vehicle.Stats
}

func (f fakeHALStats) Stats() vehicle.Stats { return f.stats }

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

// newTestServer builds a Server wired to the fake controller without
// binding a listener. Tests drive it through buildRouter().
func newTestServer(t *testing.T, ctrl volume.Controller, mutate ...func(*Deps)) *Server {
	t.Helper()

	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		WS:         config.WebSocketConfig{MaxMessageSize: 65536, PingInterval: 30, PongTimeout: 60},
		Security:   config.SecurityConfig{JWT: config.JWTConfig{Secret: testJWTSecret}},
		Logger:     testLogger(),
		Controller: ctrl,
		Version:    "test",
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if srv.hub == nil {
		srv.hub = NewHub(deps.WS, deps.Logger)
	}
	srv.startTime = time.Now()
	return srv
}

func testToken(t *testing.T, role auth.Role) string {
	t.Helper()
	token, err := auth.GenerateToken("test-user", role, testJWTSecret, 5)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return token
}

// doRequest performs one request against the server's router.
func doRequest(t *testing.T, srv *Server, method, path, token string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rr := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(Deps{Controller: newFakeController()})
	if err == nil {
		t.Fatal("expected error for missing logger")
	}
}

func TestNew_RequiresController(t *testing.T) {
	_, err := New(Deps{Logger: testLogger()})
	if err == nil {
		t.Fatal("expected error for missing controller")
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}

	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	decodeBody(t, rr, &body)
	if body.Status != "ok" {
		t.Errorf("got status %q, want %q", body.Status, "ok")
	}
	if body.Version != "test" {
		t.Errorf("got version %q, want %q", body.Version, "test")
	}
}

func TestHealth_DegradedWhenVehicleDown(t *testing.T) {
	srv := newTestServer(t, newFakeController(), func(d *Deps) {
		d.HAL = fakeHALStats{stats: vehicle.Stats{Connected: false}}
	})

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}

	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	decodeBody(t, rr, &body)
	if body.Status != "degraded" {
		t.Errorf("got status %q, want %q", body.Status, "degraded")
	}
	if body.Components["vehicle"] != "disconnected" {
		t.Errorf("got vehicle component %q, want %q", body.Components["vehicle"], "disconnected")
	}
}

func TestAuth_MissingToken(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/volume/streams", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuth_GarbageToken(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/volume/streams", "not-a-jwt", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuth_WrongSecret(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	token, err := auth.GenerateToken("intruder", auth.RoleAdmin, "a-different-secret-0123456789abcdef", 5)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/volume/streams", token, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestAuth_ValidToken(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/volume/streams", testToken(t, auth.RoleUser), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
}

func TestAuth_TokenViaQueryParam(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	path := "/api/v1/volume/streams?token=" + testToken(t, auth.RoleUser)
	rr := doRequest(t, srv, http.MethodGet, path, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(t, newFakeController(), func(d *Deps) {
		d.HAL = fakeHALStats{stats: vehicle.Stats{
			Connected:  true,
			CommandsTx: 42,
			EventsRx:   7,
		}}
	})

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/system/metrics", testToken(t, auth.RoleUser), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}

	var metrics SystemMetrics
	decodeBody(t, rr, &metrics)

	if metrics.Version != "test" {
		t.Errorf("got version %q, want %q", metrics.Version, "test")
	}
	if metrics.Runtime.Goroutines <= 0 {
		t.Errorf("got %d goroutines, want > 0", metrics.Runtime.Goroutines)
	}
	if metrics.Vehicle == nil {
		t.Fatal("expected vehicle metrics section")
	}
	if !metrics.Vehicle.Connected {
		t.Error("expected vehicle connected")
	}
	if metrics.Vehicle.CommandsTx != 42 {
		t.Errorf("got commands_tx %d, want 42", metrics.Vehicle.CommandsTx)
	}
	if metrics.Database != nil {
		t.Error("expected no database section without a database")
	}
}

func TestMetrics_RequiresAuth(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/system/metrics", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error before Start")
	}
}

func TestRequestID_Echoed(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rr := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("got request ID %q, want %q", got, "abc123")
	}
}

func TestRequestID_Generated(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/health", "", nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated request ID header")
	}
}
