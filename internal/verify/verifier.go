// Package verify implements the gate-side scan decision procedure: a
// fixed-order pipeline from raw QR token to a logged, broadcast verdict.
//
// Order matters and is part of the contract:
//
//	parse -> MAC -> load -> expiry -> state -> consume
//
// Everything before consume runs outside the per-pass lock; only the
// final consume acquires it, so concurrent scans of one pass serialize
// there and exactly one succeeds.
package verify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gatepass/backend/internal/audit"
	"github.com/gatepass/backend/internal/faceauth"
	"github.com/gatepass/backend/internal/metrics"
	"github.com/gatepass/backend/internal/notify"
	"github.com/gatepass/backend/internal/pass"
	"github.com/gatepass/backend/internal/store"
	"github.com/gatepass/backend/internal/token"
)

// defaultFaceWait bounds how long a response waits for the advisory
// face verdict before shipping without it.
const defaultFaceWait = 1500 * time.Millisecond

// Decision is the outcome of one scan attempt. OK is true only for a
// consumed pass; everything else is a refusal with a closed Result and
// a short Detail.
type Decision struct {
	OK      bool
	Result  store.ScanResult
	Detail  string
	Pass    *store.Pass
	Student *store.User
	Face    *faceauth.Verdict
}

// Verifier runs the scan pipeline.
type Verifier struct {
	codec    *token.Codec
	store    store.Store
	engine   *pass.Engine
	recorder *audit.Recorder
	notify   *notify.Dispatcher
	faces    faceauth.Verifier
	metrics  *metrics.Metrics

	faceWait time.Duration
	now      func() time.Time
}

func NewVerifier(codec *token.Codec, st store.Store, engine *pass.Engine,
	recorder *audit.Recorder, dispatcher *notify.Dispatcher,
	faces faceauth.Verifier, m *metrics.Metrics) *Verifier {

	if faces == nil {
		faces = faceauth.Disabled{}
	}
	return &Verifier{
		codec:    codec,
		store:    st,
		engine:   engine,
		recorder: recorder,
		notify:   dispatcher,
		faces:    faces,
		metrics:  m,
		faceWait: defaultFaceWait,
		now:      time.Now,
	}
}

// SetClock overrides the verifier clock. Tests only.
func (v *Verifier) SetClock(now func() time.Time) { v.now = now }

// SetFaceWait overrides the face-verdict wait budget. Tests only.
func (v *Verifier) SetFaceWait(d time.Duration) { v.faceWait = d }

// Verify runs the decision procedure over one raw token. image, when
// non-empty, triggers advisory face verification whose verdict is
// attached only if it lands within the wait budget. A non-nil error
// means infrastructure failure, not a refusal.
func (v *Verifier) Verify(ctx context.Context, rawToken string, scanner *store.User, image []byte) (*Decision, error) {
	started := v.now()

	claims, err := v.codec.Parse(rawToken)
	if err != nil {
		return v.refuse(ctx, scanner, store.ResultInvalid, "malformed", nil, nil, started)
	}
	if !v.codec.Verify(claims) {
		return v.refuse(ctx, scanner, store.ResultInvalid, "sig-mismatch", nil, nil, started)
	}

	p, err := v.store.GetPass(ctx, claims.PassID)
	if errors.Is(err, store.ErrNotFound) {
		return v.refuse(ctx, scanner, store.ResultInvalid, "no-pass", nil, nil, started)
	}
	if err != nil {
		return nil, err
	}
	student, err := v.store.GetUser(ctx, p.StudentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if v.now().Unix() > claims.Expiry {
		return v.refuse(ctx, scanner, store.ResultExpired, "past-expiry", p, student, started)
	}
	// pending and rejected refuse here; used falls through to the locked
	// consume so a re-scan is reported as a replay, not a state error.
	if p.State != store.StateApproved && p.State != store.StateUsed {
		return v.refuse(ctx, scanner, store.ResultNotApproved, string(p.State), p, student, started)
	}

	faces := v.startFaceCheck(ctx, p.StudentID, image)

	consumed, err := v.engine.Consume(ctx, p.ID, scanner.ID)
	if errors.Is(err, pass.ErrReplay) {
		return v.refuse(ctx, scanner, store.ResultReplay, "already-used", p, student, started)
	}
	if errors.Is(err, pass.ErrWrongState) {
		// Lost a race with an admin action between the state check and
		// the locked consume.
		return v.refuse(ctx, scanner, store.ResultNotApproved, string(p.State), p, student, started)
	}
	if err != nil {
		return nil, err
	}

	dec := &Decision{OK: true, Result: store.ResultSuccess, Detail: "verified",
		Pass: consumed, Student: student}
	v.record(ctx, scanner, dec, started)

	if v.notify != nil && student != nil {
		v.notify.GateScan(student, consumed.Direction, *consumed.UsedTime)
	}
	if faces != nil {
		select {
		case verdict := <-faces:
			dec.Face = &verdict
		case <-time.After(v.faceWait):
			slog.Info("verify: face verdict late, omitted", "pass_id", consumed.ID)
		}
	}
	return dec, nil
}

// startFaceCheck launches the advisory biometric comparison. Returns
// nil when no image was supplied.
func (v *Verifier) startFaceCheck(ctx context.Context, studentID uint64, image []byte) <-chan faceauth.Verdict {
	if len(image) == 0 {
		return nil
	}
	out := make(chan faceauth.Verdict, 1)
	go func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		verdict, err := v.faces.Verify(cctx, studentID, image)
		if err != nil {
			slog.Warn("verify: face check failed", "student_id", studentID, "error", err)
			verdict = faceauth.Verdict{Checked: false, Note: "face verification unavailable"}
		}
		out <- verdict
	}()
	return out
}

func (v *Verifier) refuse(ctx context.Context, scanner *store.User, result store.ScanResult,
	detail string, p *store.Pass, student *store.User, started time.Time) (*Decision, error) {

	dec := &Decision{Result: result, Detail: detail, Pass: p, Student: student}
	v.record(ctx, scanner, dec, started)
	return dec, nil
}

// record appends the scan log entry for any outcome. Logging failure is
// reported but never changes the decision already made.
func (v *Verifier) record(ctx context.Context, scanner *store.User, dec *Decision, started time.Time) {
	s := &store.Scan{
		ScannerID: scanner.ID,
		Result:    dec.Result,
		Detail:    dec.Detail,
		Time:      v.now().UTC(),
	}
	if dec.Pass != nil {
		s.PassID = &dec.Pass.ID
		s.StudentID = &dec.Pass.StudentID
		s.Direction = dec.Pass.Direction
	}
	if _, err := v.recorder.Record(ctx, s); err != nil {
		slog.Error("verify: scan log write failed", "result", dec.Result, "error", err)
	}
	if v.metrics != nil {
		v.metrics.ObserveScan(string(dec.Result), string(s.Direction), v.now().Sub(started))
	}
}
