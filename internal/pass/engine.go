// Package pass drives the gate pass lifecycle state machine.
//
// The state graph is strict and never regresses:
//
//	pending -> approved -> used
//	pending -> rejected
//
// Approval atomically mints the signed QR token; consumption is
// exactly-once under the store's per-pass row lock.
package pass

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gatepass/backend/internal/geofence"
	"github.com/gatepass/backend/internal/notify"
	"github.com/gatepass/backend/internal/store"
	"github.com/gatepass/backend/internal/token"
)

var (
	// ErrNotFound reports an unknown pass id.
	ErrNotFound = store.ErrNotFound
	// ErrWrongState reports a transition attempted from the wrong state.
	ErrWrongState = errors.New("pass: wrong state")
	// ErrReplay reports a consume of an already-used pass.
	ErrReplay = errors.New("pass: already used")
	// ErrDenied reports a geofence refusal on the strict daily path.
	ErrDenied = errors.New("pass: location denied")
	// ErrValidityExpired reports a student past their validity horizon.
	ErrValidityExpired = errors.New("pass: student validity expired")
)

// Engine owns all pass state transitions.
type Engine struct {
	store  store.Store
	codec  *token.Codec
	fence  *geofence.Evaluator
	notify *notify.Dispatcher

	ttl   time.Duration
	civil *time.Location
	now   func() time.Time
}

func NewEngine(st store.Store, codec *token.Codec, fence *geofence.Evaluator,
	dispatcher *notify.Dispatcher, ttl time.Duration, civil *time.Location) *Engine {
	if civil == nil {
		civil = time.UTC
	}
	return &Engine{
		store:  st,
		codec:  codec,
		fence:  fence,
		notify: dispatcher,
		ttl:    ttl,
		civil:  civil,
		now:    time.Now,
	}
}

// SetClock overrides the engine clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Create issues a pending pass for a student. A supplied GPS fix is
// evaluated in advisory mode: the verdict is recorded on the pass but
// never blocks issuance.
func (e *Engine) Create(ctx context.Context, student *store.User, dir store.Direction,
	reason string, fix *geofence.Fix) (*store.Pass, error) {

	p := &store.Pass{
		StudentID:   student.ID,
		Reason:      reason,
		Direction:   dir,
		State:       store.StatePending,
		RequestTime: e.now().UTC(),
	}
	if fix != nil {
		p.OriginLat = &fix.Latitude
		p.OriginLon = &fix.Longitude
		res, err := e.fence.Evaluate(*fix)
		if err == nil {
			p.LocationOK = res.InsideBuffered
			p.DistanceKM = &res.DistanceKM
			slog.Info("pass: advisory geofence", "student_id", student.ID,
				"inside", res.InsideBuffered, "distance_km", res.DistanceKM)
		}
	}

	if _, err := e.store.InsertPass(ctx, p); err != nil {
		return nil, err
	}

	if e.notify != nil {
		e.notify.PassRequested(student.Name, p.ID)
	}
	return p, nil
}

// Approve moves pending -> approved, minting the token, approval time,
// expiry, and approver id in the same atomic update.
func (e *Engine) Approve(ctx context.Context, passID uint64, admin *store.User) (*store.Pass, error) {
	p, err := e.store.UpdatePass(ctx, passID, func(p *store.Pass) error {
		return e.approveLocked(p, admin.ID)
	})
	if err != nil {
		return nil, err
	}

	e.notifyDecision(ctx, p, true)
	return p, nil
}

// approveLocked applies the pending->approved transition to a pass held
// under the store's row lock.
func (e *Engine) approveLocked(p *store.Pass, approverID uint64) error {
	if p.State != store.StatePending {
		return fmt.Errorf("%w: %s", ErrWrongState, p.State)
	}
	now := e.now().UTC()
	expiry := now.Add(e.ttl)

	p.State = store.StateApproved
	p.ApprovedBy = &approverID
	p.ApprovedTime = &now
	p.ExpiryTime = &expiry
	p.Token = e.codec.Mint(p.ID, p.StudentID, expiry.Unix())
	return nil
}

// Reject moves pending -> rejected. No token is minted.
func (e *Engine) Reject(ctx context.Context, passID uint64, admin *store.User) (*store.Pass, error) {
	p, err := e.store.UpdatePass(ctx, passID, func(p *store.Pass) error {
		if p.State != store.StatePending {
			return fmt.Errorf("%w: %s", ErrWrongState, p.State)
		}
		p.State = store.StateRejected
		p.ApprovedBy = &admin.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.notifyDecision(ctx, p, false)
	return p, nil
}

// Consume moves approved -> used, exactly once. Two concurrent calls on
// the same pass are serialized by the row lock: one wins, the other gets
// ErrReplay. Called only from the scan verifier.
func (e *Engine) Consume(ctx context.Context, passID, scannerID uint64) (*store.Pass, error) {
	return e.store.UpdatePass(ctx, passID, func(p *store.Pass) error {
		if p.UsedTime != nil {
			return ErrReplay
		}
		if p.State != store.StateApproved {
			return fmt.Errorf("%w: %s", ErrWrongState, p.State)
		}
		now := e.now().UTC()
		p.State = store.StateUsed
		p.UsedTime = &now
		p.UsedBy = &scannerID
		return nil
	})
}

// Daily is the self-service path that skips human approval. The geofence
// is enforcing here: with geofencing enabled, a missing or out-of-region
// fix refuses the request before any pass exists. The operation is
// idempotent per (student, direction, civil day).
func (e *Engine) Daily(ctx context.Context, student *store.User, dir store.Direction,
	fix *geofence.Fix) (*store.Pass, error) {

	if e.fence.Enabled() {
		if fix == nil {
			return nil, fmt.Errorf("%w: GPS location required", ErrDenied)
		}
		res, err := e.fence.Evaluate(*fix)
		if err != nil {
			return nil, err
		}
		if !res.InsideBuffered {
			return nil, fmt.Errorf("%w: %s", ErrDenied, res.Message)
		}
	}

	now := e.now()
	if student.ValidUntil != nil && now.After(*student.ValidUntil) {
		return nil, ErrValidityExpired
	}

	// Idempotency key: (student, direction, civil day). An approved pass
	// from earlier today is returned unchanged; a pending one is promoted
	// the same way an admin approval would.
	civilNow := now.In(e.civil)
	dayStart := time.Date(civilNow.Year(), civilNow.Month(), civilNow.Day(),
		0, 0, 0, 0, e.civil).UTC()

	existing, err := e.store.QueryPasses(ctx, store.PassFilter{
		StudentID:      &student.ID,
		States:         []store.PassState{store.StateApproved, store.StatePending},
		Direction:      &dir,
		RequestedAfter: &dayStart,
	})
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].State == store.StateApproved {
			return &existing[i], nil
		}
	}
	for i := range existing {
		if existing[i].State == store.StatePending {
			return e.store.UpdatePass(ctx, existing[i].ID, func(p *store.Pass) error {
				return e.approveLocked(p, student.ID) // self-approved
			})
		}
	}

	label := "Entry"
	if dir == store.DirectionExit {
		label = "Exit"
	}
	p := &store.Pass{
		StudentID:   student.ID,
		Reason:      fmt.Sprintf("Daily %s - %s", label, civilNow.Format("02/01/2006")),
		Direction:   dir,
		State:       store.StatePending,
		RequestTime: now.UTC(),
	}
	if fix != nil {
		p.OriginLat = &fix.Latitude
		p.OriginLon = &fix.Longitude
		if res, err := e.fence.Evaluate(*fix); err == nil {
			p.LocationOK = res.InsideBuffered
			p.DistanceKM = &res.DistanceKM
		}
	}
	if _, err := e.store.InsertPass(ctx, p); err != nil {
		return nil, err
	}

	return e.store.UpdatePass(ctx, p.ID, func(p *store.Pass) error {
		return e.approveLocked(p, student.ID)
	})
}

// TTL returns the configured approval-to-expiry window.
func (e *Engine) TTL() time.Duration { return e.ttl }

// CivilZone returns the zone used for civil-date bucketing.
func (e *Engine) CivilZone() *time.Location { return e.civil }

func (e *Engine) notifyDecision(ctx context.Context, p *store.Pass, approved bool) {
	if e.notify == nil {
		return
	}
	student, err := e.store.GetUser(ctx, p.StudentID)
	if err != nil {
		slog.Warn("pass: student lookup for notification failed",
			"pass_id", p.ID, "error", err)
		return
	}
	e.notify.PassDecided(student, p.ID, approved)
}
