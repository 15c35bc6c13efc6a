package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aungkhantmaw64/gps-tracker/internal/journal"
)

// handleListDeliveries returns a page of the delivery journal.
//
// Query parameters: result (published|dropped|failed), since (RFC3339),
// limit (default 50, max 200) and offset.
func (s *Server) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "delivery journal is disabled")
		return
	}

	filter, err := parseDeliveryFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, journal.ErrInvalidResult) {
			writeBadRequest(w, "result must be published, dropped or failed")
			return
		}
		s.logger.Error("listing deliveries", "error", err)
		writeInternalError(w, "failed to list deliveries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeliverySummary(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "delivery journal is disabled")
		return
	}

	summary, err := s.journal.Summary(r.Context())
	if err != nil {
		s.logger.Error("summarising deliveries", "error", err)
		writeInternalError(w, "failed to summarise deliveries")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func parseDeliveryFilter(r *http.Request) (journal.Filter, error) {
	q := r.URL.Query()
	filter := journal.Filter{Result: q.Get("result")}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return journal.Filter{}, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return journal.Filter{}, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return journal.Filter{}, errors.New("since must be an RFC3339 timestamp")
		}
		filter.Since = t
	}
	return filter, nil
}
