package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cabinworks/cabin-audio-core/internal/volume"
)

// maxQueryParamLen limits parameter length to prevent DoS via oversized URL params.
const maxQueryParamLen = 100

// StreamState is the API representation of one logical stream.
type StreamState struct {
	Stream string `json:"stream"`
	Volume int    `json:"volume"`
	Min    int    `json:"min"`
	Max    int    `json:"max"`
}

// setVolumeRequest is the body of PUT /volume/streams/{stream}.
//
// Flags is optional; when omitted the change shows UI feedback and plays
// the adjustment sound. Provenance bits in a client-supplied value are
// ignored: the server stamps every change as API-originated.
type setVolumeRequest struct {
	Volume int  `json:"volume"`
	Flags  *int `json:"flags,omitempty"`
}

// injectKeyRequest is the body of POST /volume/keys.
type injectKeyRequest struct {
	Code   int `json:"code"`
	Action int `json:"action"`
}

// streamState reads one stream's current level and limits.
func (s *Server) streamState(st volume.Stream) StreamState {
	return StreamState{
		Stream: st.String(),
		Volume: s.ctrl.StreamVolume(st),
		Min:    s.ctrl.StreamMinVolume(st),
		Max:    s.ctrl.StreamMaxVolume(st),
	}
}

// handleListStreams returns the level and limits of every logical stream.
func (s *Server) handleListStreams(w http.ResponseWriter, _ *http.Request) {
	catalog := volume.Streams()
	streams := make([]StreamState, 0, len(catalog))
	for _, st := range catalog {
		streams = append(streams, s.streamState(st))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"streams": streams,
		"count":   len(streams),
	})
}

// handleGetStream returns one logical stream's level and limits.
func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	st, ok := parseStreamParam(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, s.streamState(st))
}

// handleSetStream sets one logical stream's volume.
//
// The request is accepted once validated; the committed level is observable
// through the returned state, the WebSocket feed, and the retained bus state.
func (s *Server) handleSetStream(w http.ResponseWriter, r *http.Request) {
	st, ok := parseStreamParam(w, r)
	if !ok {
		return
	}

	var req setVolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	minVol := s.ctrl.StreamMinVolume(st)
	maxVol := s.ctrl.StreamMaxVolume(st)
	if req.Volume < minVol || req.Volume > maxVol {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "volume out of range")
		return
	}

	flags := volume.FlagShowUI | volume.FlagPlaySound
	if req.Flags != nil {
		flags = volume.Flag(*req.Flags)
	}
	// Exactly one provenance bit per change, and it is ours.
	flags &^= volume.FlagFromKey | volume.FlagFromHardware | volume.FlagFromBus
	flags |= volume.FlagFromAPI

	s.ctrl.SetStreamVolume(st, req.Volume, flags)

	writeJSON(w, http.StatusAccepted, s.streamState(st))
}

// handleInjectKey feeds a synthetic volume key event into the controller.
//
// Bench rigs use this to exercise the key pipeline without cabin hardware,
// so the caller's role must permit key injection.
func (s *Server) handleInjectKey(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil || !claims.Role.CanInjectKeys() {
		writeForbidden(w, "role cannot inject key events")
		return
	}

	var req injectKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	code := volume.KeyCode(req.Code)
	if code != volume.KeyVolumeUp && code != volume.KeyVolumeDown {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "unsupported key code")
		return
	}

	action := volume.KeyAction(req.Action)
	if action != volume.KeyActionDown && action != volume.KeyActionUp {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "invalid key action")
		return
	}

	handled := s.ctrl.HandleKeyEvent(volume.KeyEvent{Code: code, Action: action})

	writeJSON(w, http.StatusOK, map[string]any{
		"handled": handled,
	})
}

// handleGetFocus returns the stream context currently holding audio focus.
func (s *Server) handleGetFocus(w http.ResponseWriter, _ *http.Request) {
	fs, ok := s.ctrl.(FocusSource)
	if !ok {
		writeServiceUnavailable(w, "focus tracking unavailable")
		return
	}

	focused := fs.FocusedContext()
	writeJSON(w, http.StatusOK, map[string]any{
		"context": focused.String(),
	})
}

// parseStreamParam resolves the {stream} URL parameter to a logical stream.
// On failure it writes the error response and returns ok=false.
func parseStreamParam(w http.ResponseWriter, r *http.Request) (volume.Stream, bool) {
	name := chi.URLParam(r, "stream")
	if name == "" || len(name) > maxQueryParamLen {
		writeBadRequest(w, "invalid stream name")
		return 0, false
	}

	st, err := volume.ParseStream(name)
	if err != nil {
		if errors.Is(err, volume.ErrUnknownStream) {
			writeNotFound(w, "unknown stream: "+name)
			return 0, false
		}
		writeBadRequest(w, "invalid stream name")
		return 0, false
	}

	return st, true
}
