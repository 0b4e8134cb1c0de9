package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gatepass/backend/internal/audit"
	"github.com/gatepass/backend/internal/store"
)

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (s *Server) handleLogsRecent(w http.ResponseWriter, r *http.Request) {
	events, err := s.analytics.Recent(r.Context(),
		queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load scan log")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleLogsStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.analytics.Statistics(r.Context(), queryInt(r, "days", 7))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLogsHourly(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.analytics.Hourly(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad date, want YYYY-MM-DD")
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleLogsDaily(w http.ResponseWriter, r *http.Request) {
	series, err := s.analytics.Daily(r.Context(), queryInt(r, "days", 7))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not compute daily series")
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleLogsTopStudents(w http.ResponseWriter, r *http.Request) {
	top, err := s.analytics.TopActive(r.Context(),
		queryInt(r, "days", 7), queryInt(r, "limit", 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not rank activity")
		return
	}
	writeJSON(w, http.StatusOK, top)
}

// searchQueryFromRequest translates the query string into analytics
// filters. Invalid enum values are rejected, not ignored.
func searchQueryFromRequest(r *http.Request) (audit.SearchQuery, string) {
	q := audit.SearchQuery{
		SubjectCode: r.URL.Query().Get("student_id"),
		Limit:       queryInt(r, "limit", 100),
	}
	if v := r.URL.Query().Get("direction"); v != "" {
		if !store.ValidDirection(v) {
			return q, "direction must be entry or exit"
		}
		d := store.Direction(v)
		q.Direction = &d
	}
	if v := r.URL.Query().Get("result"); v != "" {
		res := store.ScanResult(v)
		q.Result = &res
	}
	for key, dst := range map[string]**time.Time{"from": &q.From, "to": &q.To} {
		if v := r.URL.Query().Get(key); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				return q, "bad " + key + " date, want YYYY-MM-DD"
			}
			if key == "to" {
				t = t.AddDate(0, 0, 1) // inclusive end of day
			}
			*dst = &t
		}
	}
	return q, ""
}

func (s *Server) handleLogsSearch(w http.ResponseWriter, r *http.Request) {
	q, detail := searchQueryFromRequest(r)
	if detail != "" {
		writeError(w, http.StatusBadRequest, detail)
		return
	}
	events, err := s.analytics.Search(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleListScans is the guard-facing raw slice of the scan log.
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	q, detail := searchQueryFromRequest(r)
	if detail != "" {
		writeError(w, http.StatusBadRequest, detail)
		return
	}
	events, err := s.analytics.Search(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load scans")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleScanStats is a compact daily summary for the guard console.
func (s *Server) handleScanStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.analytics.Statistics(r.Context(), 1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
