package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gatepass/backend/internal/faceauth"
	"github.com/gatepass/backend/internal/store"
)

// maxImageBytes bounds the optional biometric capture upload.
const maxImageBytes = 5 << 20

type verifyResponse struct {
	Result      store.ScanResult  `json:"result"`
	Detail      string            `json:"detail"`
	StudentName string            `json:"student_name,omitempty"`
	SubjectCode string            `json:"student_code,omitempty"`
	Pass        *store.Pass       `json:"pass,omitempty"`
	Face        *faceauth.Verdict `json:"face,omitempty"`
}

// handleVerify runs the scan decision procedure over a multipart form
// carrying the raw token and an optional camera capture. Refusals are
// 400 with "{result}: {detail}".
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}
	rawToken := r.PostFormValue("qr_token")
	if rawToken == "" {
		rawToken = r.PostFormValue("token")
	}
	if rawToken == "" {
		writeError(w, http.StatusBadRequest, "qr_token required")
		return
	}

	var image []byte
	if file, _, err := r.FormFile("image"); err == nil {
		image, _ = io.ReadAll(io.LimitReader(file, maxImageBytes))
		file.Close()
	}

	dec, err := s.verifier.Verify(r.Context(), rawToken, principal(r), image)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verification unavailable")
		return
	}
	if !dec.OK {
		writeError(w, http.StatusBadRequest, string(dec.Result)+": "+dec.Detail)
		return
	}

	resp := verifyResponse{
		Result: dec.Result,
		Detail: dec.Detail,
		Pass:   dec.Pass,
		Face:   dec.Face,
	}
	if dec.Student != nil {
		resp.StudentName = dec.Student.Name
		resp.SubjectCode = dec.Student.SubjectCode
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEmergencyExit records an immediate exit for the calling student,
// bypassing passes and tokens entirely. Deliberately not idempotent.
func (s *Server) handleEmergencyExit(w http.ResponseWriter, r *http.Request) {
	u := principal(r)
	now := time.Now().UTC()

	ev, err := s.recorder.Record(r.Context(), &store.Scan{
		StudentID: &u.ID,
		ScannerID: u.ID, // self-reported
		Direction: store.DirectionExit,
		Result:    store.ResultSuccess,
		Detail:    "emergency exit",
		Time:      now,
		Emergency: true,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not record emergency exit")
		return
	}
	if s.notify != nil {
		s.notify.EmergencyExit(u, now)
	}
	if s.metrics != nil {
		s.metrics.EmergencyExits.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Emergency exit recorded. Stay safe!",
		"scan":    ev,
	})
}
