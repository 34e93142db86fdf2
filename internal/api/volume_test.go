package api

import (
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/cabinworks/cabin-audio-core/internal/auth"
	"github.com/cabinworks/cabin-audio-core/internal/volume"
)

func TestListStreams(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/volume/streams", testToken(t, auth.RoleUser), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}

	var body struct {
		Streams []StreamState `json:"streams"`
		Count   int           `json:"count"`
	}
	decodeBody(t, rr, &body)

	if body.Count != len(volume.Streams()) {
		t.Errorf("got count %d, want %d", body.Count, len(volume.Streams()))
	}

	byName := make(map[string]StreamState, len(body.Streams))
	for _, st := range body.Streams {
		byName[st.Stream] = st
	}
	media, ok := byName["media"]
	if !ok {
		t.Fatal("media stream missing from catalog")
	}
	if media.Volume != 18 {
		t.Errorf("got media volume %d, want 18", media.Volume)
	}
	if media.Min != 0 || media.Max != 40 {
		t.Errorf("got media bounds [%d,%d], want [0,40]", media.Min, media.Max)
	}
}

func TestGetStream(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/volume/streams/navigation", testToken(t, auth.RoleUser), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}

	var state StreamState
	decodeBody(t, rr, &state)
	if state.Stream != "navigation" {
		t.Errorf("got stream %q, want %q", state.Stream, "navigation")
	}
	if state.Volume != 24 {
		t.Errorf("got volume %d, want 24", state.Volume)
	}
}

func TestGetStream_Unknown(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/volume/streams/cassette", testToken(t, auth.RoleUser), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestSetStream(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl)

	body := strings.NewReader(`{"volume": 12}`)
	rr := doRequest(t, srv, http.MethodPut, "/api/v1/volume/streams/media", testToken(t, auth.RoleUser), body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("got status %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}

	var state StreamState
	decodeBody(t, rr, &state)
	if state.Volume != 12 {
		t.Errorf("got volume %d, want 12", state.Volume)
	}

	flags := ctrl.recordedFlags()
	if flags&volume.FlagFromAPI == 0 {
		t.Error("expected API provenance flag on the change")
	}
	if flags&volume.FlagShowUI == 0 || flags&volume.FlagPlaySound == 0 {
		t.Errorf("got flags %d, want default UI and sound hints", flags)
	}
}

func TestSetStream_StripsClientProvenance(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl)

	// Client claims key provenance; the server must override it.
	reqFlags := int(volume.FlagShowUI | volume.FlagFromKey | volume.FlagFromBus)
	body := strings.NewReader(`{"volume": 5, "flags": ` + strconv.Itoa(reqFlags) + `}`)
	rr := doRequest(t, srv, http.MethodPut, "/api/v1/volume/streams/media", testToken(t, auth.RoleUser), body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusAccepted)
	}

	flags := ctrl.recordedFlags()
	if flags&volume.FlagFromAPI == 0 {
		t.Error("expected API provenance flag")
	}
	if flags&(volume.FlagFromKey|volume.FlagFromBus|volume.FlagFromHardware) != 0 {
		t.Errorf("got flags %d, client provenance bits must be stripped", flags)
	}
	if flags&volume.FlagShowUI == 0 {
		t.Error("expected client's presentation hint preserved")
	}
	if flags&volume.FlagPlaySound != 0 {
		t.Error("client omitted the sound hint, it must stay off")
	}
}

func TestSetStream_OutOfRange(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	for _, payload := range []string{`{"volume": 41}`, `{"volume": -1}`} {
		rr := doRequest(t, srv, http.MethodPut, "/api/v1/volume/streams/media", testToken(t, auth.RoleUser), strings.NewReader(payload))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("payload %s: got status %d, want %d", payload, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestSetStream_InvalidBody(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	rr := doRequest(t, srv, http.MethodPut, "/api/v1/volume/streams/media", testToken(t, auth.RoleUser), strings.NewReader("{not json"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSetStream_Unknown(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	rr := doRequest(t, srv, http.MethodPut, "/api/v1/volume/streams/tape", testToken(t, auth.RoleUser), strings.NewReader(`{"volume": 3}`))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestInjectKey_BenchRole(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl)

	body := strings.NewReader(`{"code": 24, "action": 0}`)
	rr := doRequest(t, srv, http.MethodPost, "/api/v1/volume/keys", testToken(t, auth.RoleBench), body)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp struct {
		Handled bool `json:"handled"`
	}
	decodeBody(t, rr, &resp)
	if !resp.Handled {
		t.Error("expected handled = true")
	}

	keys := ctrl.recordedKeys()
	if len(keys) != 1 {
		t.Fatalf("got %d key events, want 1", len(keys))
	}
	if keys[0].Code != volume.KeyVolumeUp || keys[0].Action != volume.KeyActionDown {
		t.Errorf("got key event %+v, want volume-up down", keys[0])
	}
}

func TestInjectKey_AdminRole(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	body := strings.NewReader(`{"code": 25, "action": 1}`)
	rr := doRequest(t, srv, http.MethodPost, "/api/v1/volume/keys", testToken(t, auth.RoleAdmin), body)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestInjectKey_UserRoleForbidden(t *testing.T) {
	ctrl := newFakeController()
	srv := newTestServer(t, ctrl)

	body := strings.NewReader(`{"code": 24, "action": 0}`)
	rr := doRequest(t, srv, http.MethodPost, "/api/v1/volume/keys", testToken(t, auth.RoleUser), body)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusForbidden)
	}
	if len(ctrl.recordedKeys()) != 0 {
		t.Error("controller must not see forbidden key events")
	}
}

func TestInjectKey_UnsupportedCode(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	body := strings.NewReader(`{"code": 99, "action": 0}`)
	rr := doRequest(t, srv, http.MethodPost, "/api/v1/volume/keys", testToken(t, auth.RoleBench), body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestInjectKey_InvalidAction(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	body := strings.NewReader(`{"code": 24, "action": 7}`)
	rr := doRequest(t, srv, http.MethodPost, "/api/v1/volume/keys", testToken(t, auth.RoleBench), body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestGetFocus(t *testing.T) {
	ctrl := &fakeFocusController{fakeController: newFakeController(), focused: volume.ContextNavigation}
	srv := newTestServer(t, ctrl)

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/volume/focus", testToken(t, auth.RoleUser), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}

	var body struct {
		Context string `json:"context"`
	}
	decodeBody(t, rr, &body)
	if body.Context != "navigation" {
		t.Errorf("got context %q, want %q", body.Context, "navigation")
	}
}

func TestGetFocus_NotTracked(t *testing.T) {
	srv := newTestServer(t, newFakeController())

	rr := doRequest(t, srv, http.MethodGet, "/api/v1/volume/focus", testToken(t, auth.RoleUser), nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}
