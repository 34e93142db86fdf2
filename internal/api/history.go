package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cabinworks/cabin-audio-core/internal/history"
)

// History pagination bounds.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// handleVolumeHistory returns recorded volume changes, newest first.
//
// Query parameters: stream, source, since, until (RFC3339), limit, offset.
func (s *Server) handleVolumeHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeServiceUnavailable(w, "volume history unavailable")
		return
	}

	filter, err := parseHistoryFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("volume history query failed", "error", err)
		writeInternalError(w, "failed to load volume history")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseHistoryFilter builds a journal filter from the request query.
func parseHistoryFilter(r *http.Request) (history.Filter, error) {
	q := r.URL.Query()

	var filter history.Filter

	filter.Stream = q.Get("stream")
	if len(filter.Stream) > maxQueryParamLen {
		return history.Filter{}, fmt.Errorf("invalid stream")
	}

	filter.Source = q.Get("source")
	if len(filter.Source) > maxQueryParamLen {
		return history.Filter{}, fmt.Errorf("invalid source")
	}

	limit, err := parseHistoryLimit(q.Get("limit"))
	if err != nil {
		return history.Filter{}, err
	}
	filter.Limit = limit

	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return history.Filter{}, fmt.Errorf("invalid offset")
		}
		filter.Offset = offset
	}

	since, err := parseTimeQuery(q.Get("since"))
	if err != nil {
		return history.Filter{}, fmt.Errorf("invalid since timestamp")
	}
	filter.Since = since

	until, err := parseTimeQuery(q.Get("until"))
	if err != nil {
		return history.Filter{}, fmt.Errorf("invalid until timestamp")
	}
	filter.Until = until

	if !since.IsZero() && !until.IsZero() && until.Before(since) {
		return history.Filter{}, fmt.Errorf("until must be after since")
	}

	return filter, nil
}

// parseHistoryLimit parses the limit query parameter with bounds enforcement.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}

	return limit, nil
}

// parseTimeQuery parses an optional RFC3339/RFC3339Nano timestamp.
func parseTimeQuery(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return parsed.UTC(), nil
	}

	parsed, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}

	return parsed.UTC(), nil
}
