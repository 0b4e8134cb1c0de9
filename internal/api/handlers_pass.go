package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/gatepass/backend/internal/geofence"
	"github.com/gatepass/backend/internal/pass"
	"github.com/gatepass/backend/internal/store"
)

type createPassRequest struct {
	Reason    string   `json:"reason"`
	Direction string   `json:"direction"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// fixFromCoords validates an optional coordinate pair. Both present and
// in range, or both absent.
func fixFromCoords(lat, lon *float64) (*geofence.Fix, string) {
	if lat == nil && lon == nil {
		return nil, ""
	}
	if lat == nil || lon == nil {
		return nil, "latitude and longitude must be supplied together"
	}
	fix := geofence.Fix{Latitude: *lat, Longitude: *lon}
	if !fix.Valid() {
		return nil, "coordinates out of range"
	}
	return &fix, ""
}

func (s *Server) handleCreatePass(w http.ResponseWriter, r *http.Request) {
	var req createPassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if len(req.Reason) < 3 || len(req.Reason) > 300 {
		writeError(w, http.StatusBadRequest, "reason must be 3-300 characters")
		return
	}
	if !store.ValidDirection(req.Direction) {
		writeError(w, http.StatusBadRequest, "direction must be entry or exit")
		return
	}
	fix, detail := fixFromCoords(req.Latitude, req.Longitude)
	if detail != "" {
		writeError(w, http.StatusBadRequest, detail)
		return
	}

	p, err := s.engine.Create(r.Context(), principal(r), store.Direction(req.Direction), req.Reason, fix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create pass")
		return
	}
	if s.metrics != nil {
		s.metrics.PassesIssued.WithLabelValues("requested").Inc()
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPasses(w http.ResponseWriter, r *http.Request) {
	u := principal(r)
	filter := store.PassFilter{Limit: 200}
	// Students see only their own requests.
	if u.Role == store.RoleStudent {
		filter.StudentID = &u.ID
	}
	if state := r.URL.Query().Get("state"); state != "" {
		switch st := store.PassState(state); st {
		case store.StatePending, store.StateApproved, store.StateRejected, store.StateUsed:
			filter.States = []store.PassState{st}
		default:
			writeError(w, http.StatusBadRequest, "unknown state filter")
			return
		}
	}

	passes, err := s.store.QueryPasses(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list passes")
		return
	}
	writeJSON(w, http.StatusOK, passes)
}

func (s *Server) handleGetPass(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad pass id")
		return
	}
	p, err := s.store.GetPass(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "pass not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load pass")
		return
	}
	u := principal(r)
	if u.Role == store.RoleStudent && p.StudentID != u.ID {
		writeError(w, http.StatusForbidden, "not your pass")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleApprovePass(w http.ResponseWriter, r *http.Request) {
	s.decidePass(w, r, true)
}

func (s *Server) handleRejectPass(w http.ResponseWriter, r *http.Request) {
	s.decidePass(w, r, false)
}

func (s *Server) decidePass(w http.ResponseWriter, r *http.Request, approve bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad pass id")
		return
	}

	var p *store.Pass
	if approve {
		p, err = s.engine.Approve(r.Context(), id, principal(r))
	} else {
		p, err = s.engine.Reject(r.Context(), id, principal(r))
	}
	switch {
	case errors.Is(err, pass.ErrNotFound):
		writeError(w, http.StatusNotFound, "pass not found")
		return
	case errors.Is(err, pass.ErrWrongState):
		writeError(w, http.StatusBadRequest, "wrong-state: pass is not pending")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "could not update pass")
		return
	}
	if s.metrics != nil {
		decision := "rejected"
		if approve {
			decision = "approved"
		}
		s.metrics.PassesDecided.WithLabelValues(decision).Inc()
	}
	writeJSON(w, http.StatusOK, p)
}

type dailyPassRequest struct {
	Direction string   `json:"direction"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// handleDailyPass is the self-service path: geofence-gated, instantly
// approved, idempotent per direction and civil day.
func (s *Server) handleDailyPass(w http.ResponseWriter, r *http.Request) {
	var req dailyPassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.Direction == "" {
		req.Direction = string(store.DirectionEntry)
	}
	if !store.ValidDirection(req.Direction) {
		writeError(w, http.StatusBadRequest, "direction must be entry or exit")
		return
	}
	fix, detail := fixFromCoords(req.Latitude, req.Longitude)
	if detail != "" {
		writeError(w, http.StatusBadRequest, detail)
		return
	}

	p, err := s.engine.Daily(r.Context(), principal(r), store.Direction(req.Direction), fix)
	switch {
	case errors.Is(err, pass.ErrDenied):
		writeError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, pass.ErrValidityExpired):
		writeError(w, http.StatusForbidden, "student validity has expired")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "could not issue daily pass")
		return
	}
	if s.metrics != nil {
		s.metrics.PassesIssued.WithLabelValues("daily").Inc()
	}
	writeJSON(w, http.StatusOK, p)
}
