package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/gatepass/backend/internal/store"
)

type updateContactRequest struct {
	Phone       *string `json:"phone"`
	ParentName  *string `json:"parent_name"`
	ParentPhone *string `json:"parent_phone"`
}

// handleUpdateContact updates the caller's own contact routing.
func (s *Server) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	var req updateContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	u, err := s.store.UpdateUser(r.Context(), principal(r).ID, func(u *store.User) error {
		if req.Phone != nil {
			u.Phone = strings.TrimSpace(*req.Phone)
		}
		if req.ParentName != nil {
			u.ParentName = strings.TrimSpace(*req.ParentName)
		}
		if req.ParentPhone != nil {
			u.ParentPhone = strings.TrimSpace(*req.ParentPhone)
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not update contact")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type registerPushTokenRequest struct {
	Token  string `json:"token"`
	Parent bool   `json:"parent"`
}

// handleRegisterPushToken stores the caller's device token, or the
// guardian device token when parent is set.
func (s *Server) handleRegisterPushToken(w http.ResponseWriter, r *http.Request) {
	var req registerPushTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	_, err := s.store.UpdateUser(r.Context(), principal(r).ID, func(u *store.User) error {
		if req.Parent {
			u.ParentPushToken = req.Token
		} else {
			u.PushToken = req.Token
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not register token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

// handleStudentHistory serves the guardian view: the student profile
// plus their recent gate activity. Students may only view themselves.
func (s *Server) handleStudentHistory(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	student, err := s.store.GetUserBySubjectCode(r.Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "student not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load student")
		return
	}
	caller := principal(r)
	if caller.Role == store.RoleStudent && caller.ID != student.ID {
		writeError(w, http.StatusForbidden, "not your history")
		return
	}

	scans, err := s.store.QueryScans(r.Context(), store.ScanFilter{
		StudentID: &student.ID, Limit: 50,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"student": student,
		"scans":   scans,
	})
}

// handleHealthz reports process and store liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
