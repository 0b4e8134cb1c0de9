// Package faceauth performs advisory biometric verification during gate
// scans. The verdict is metadata attached to a scan response when it
// arrives in time; it never changes the gate decision.
package faceauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// Verdict is the outcome of one face comparison.
type Verdict struct {
	Checked    bool    `json:"face_checked"`
	Match      bool    `json:"face_match"`
	Confidence float64 `json:"face_confidence,omitempty"`
	Note       string  `json:"face_note,omitempty"`
}

// Verifier compares a captured image against the enrolled face of a
// student. Implementations must be safe for concurrent use.
type Verifier interface {
	Verify(ctx context.Context, studentID uint64, image []byte) (Verdict, error)
}

// Disabled is the no-op verifier used when no recognition service is
// configured. It reports the check as not performed.
type Disabled struct{}

func (Disabled) Verify(context.Context, uint64, []byte) (Verdict, error) {
	return Verdict{Checked: false, Note: "face verification disabled"}, nil
}

// HTTPVerifier delegates to an external recognition service over
// multipart POST.
type HTTPVerifier struct {
	url    string
	client *http.Client
}

func NewHTTPVerifier(url string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPVerifier{url: url, client: &http.Client{Timeout: timeout}}
}

func (v *HTTPVerifier) Verify(ctx context.Context, studentID uint64, image []byte) (Verdict, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("student_id", strconv.FormatUint(studentID, 10)); err != nil {
		return Verdict{}, err
	}
	part, err := mw.CreateFormFile("image", "capture.jpg")
	if err != nil {
		return Verdict{}, err
	}
	if _, err := part.Write(image); err != nil {
		return Verdict{}, err
	}
	if err := mw.Close(); err != nil {
		return Verdict{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, &buf)
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := v.client.Do(req)
	if err != nil {
		return Verdict{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Verdict{}, fmt.Errorf("recognition service returned %s", resp.Status)
	}

	var out struct {
		Match      bool    `json:"match"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Verdict{}, err
	}
	return Verdict{Checked: true, Match: out.Match, Confidence: out.Confidence}, nil
}

var _ Verifier = Disabled{}
var _ Verifier = (*HTTPVerifier)(nil)
