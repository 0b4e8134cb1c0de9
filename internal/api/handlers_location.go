package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gatepass/backend/internal/geofence"
)

// handleGetPolicy returns the full geofence policy for the admin
// console.
func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.policies.Load())
}

// handleSetPolicy replaces the geofence policy. The evaluator picks the
// new policy up on its next evaluation; no restart is needed.
func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	var p geofence.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	center := geofence.Fix{Latitude: p.Latitude, Longitude: p.Longitude}
	if !center.Valid() {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	if p.RadiusKM <= 0 || p.RadiusKM > 100 {
		writeError(w, http.StatusBadRequest, "radius_km must be in (0, 100]")
		return
	}
	if err := s.policies.Save(p); err != nil {
		slog.Error("api: policy save failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not persist policy")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePublicLocation exposes the subset of the policy clients need to
// pre-check their position: no admin-only knobs.
func (s *Server) handlePublicLocation(w http.ResponseWriter, r *http.Request) {
	p := s.policies.Load()
	writeJSON(w, http.StatusOK, map[string]any{
		"campus_name": p.Label,
		"latitude":    p.Latitude,
		"longitude":   p.Longitude,
		"radius_km":   p.RadiusKM,
		"enabled":     p.Enabled,
	})
}

type validateLocationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// handleValidateLocation lets a client check its fix against the fence
// before requesting a daily pass. Purely advisory.
func (s *Server) handleValidateLocation(w http.ResponseWriter, r *http.Request) {
	var req validateLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "latitude and longitude required")
		return
	}
	fix := geofence.Fix{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if !fix.Valid() {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	res, err := s.fence.Evaluate(fix)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
