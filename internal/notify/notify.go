// Package notify delivers push and SMS side effects for pass lifecycle
// events. Delivery is fire-and-forget: every dispatch runs on its own
// goroutine under a short wall-clock budget, and a failure is logged and
// swallowed. Nothing here may ever change a pass or gate decision.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gatepass/backend/internal/store"
)

// sendBudget bounds one outbound delivery attempt.
const sendBudget = 10 * time.Second

// Sender is the transport for one push or SMS message. Implementations
// must be safe for concurrent use.
type Sender interface {
	Push(ctx context.Context, token, title, body string, data map[string]string) error
	SMS(ctx context.Context, phone, message string) error
}

// Dispatcher fans lifecycle events out to the relevant recipients.
type Dispatcher struct {
	store  store.Store
	sender Sender
}

func NewDispatcher(st store.Store, sender Sender) *Dispatcher {
	return &Dispatcher{store: st, sender: sender}
}

// dispatch runs fn asynchronously with its own budget and identifier.
// Errors never propagate to the caller.
func (d *Dispatcher) dispatch(kind string, fn func(ctx context.Context) error) {
	id := uuid.New().String()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendBudget)
		defer cancel()
		if err := fn(ctx); err != nil {
			slog.Warn("notify: dispatch failed", "kind", kind, "id", id, "error", err)
		}
	}()
}

// PassRequested alerts every admin holding a push token that a new pass
// request is waiting.
func (d *Dispatcher) PassRequested(studentName string, passID uint64) {
	d.dispatch("pass_requested", func(ctx context.Context) error {
		admins, err := d.store.ListUsersByRole(ctx, store.RoleAdmin)
		if err != nil {
			return err
		}
		for _, admin := range admins {
			if admin.PushToken == "" {
				continue
			}
			err := d.sender.Push(ctx, admin.PushToken,
				"New Pass Request",
				studentName+" submitted a pass request",
				map[string]string{"type": "pass_requested"})
			if err != nil {
				slog.Warn("notify: admin push failed", "admin_id", admin.ID, "error", err)
			}
		}
		return nil
	})
}

// PassDecided tells the student their pass was approved or rejected.
func (d *Dispatcher) PassDecided(student *store.User, passID uint64, approved bool) {
	title, body := "Pass Rejected", "Your gate pass request was rejected."
	if approved {
		title, body = "Pass Approved", "Your gate pass is ready. It expires shortly, scan soon."
	}
	d.dispatch("pass_decided", func(ctx context.Context) error {
		if student.PushToken != "" {
			if err := d.sender.Push(ctx, student.PushToken, title, body,
				map[string]string{"type": "pass_decided"}); err != nil {
				return err
			}
		}
		if student.Phone != "" {
			return d.sender.SMS(ctx, student.Phone, title+": pass request update")
		}
		return nil
	})
}

// GateScan tells the parent contacts that the student crossed the gate.
func (d *Dispatcher) GateScan(student *store.User, direction store.Direction, at time.Time) {
	verb := "entered"
	if direction == store.DirectionExit {
		verb = "left"
	}
	msg := student.Name + " (" + student.SubjectCode + ") " + verb +
		" campus at " + at.Format("03:04 PM")
	d.dispatch("gate_scan", func(ctx context.Context) error {
		if student.ParentPushToken != "" {
			if err := d.sender.Push(ctx, student.ParentPushToken, "Gate Activity", msg,
				map[string]string{"type": "gate_scan", "direction": string(direction)}); err != nil {
				slog.Warn("notify: parent push failed", "student_id", student.ID, "error", err)
			}
		}
		if student.ParentPhone != "" {
			return d.sender.SMS(ctx, student.ParentPhone, msg)
		}
		return nil
	})
}

// EmergencyExit alerts the student and every admin.
func (d *Dispatcher) EmergencyExit(student *store.User, at time.Time) {
	d.dispatch("emergency_exit", func(ctx context.Context) error {
		if student.PushToken != "" {
			if err := d.sender.Push(ctx, student.PushToken,
				"Emergency Exit Granted",
				"Emergency exit approved at "+at.Format("03:04 PM")+". Stay safe!",
				map[string]string{"type": "emergency_exit"}); err != nil {
				slog.Warn("notify: student push failed", "student_id", student.ID, "error", err)
			}
		}
		admins, err := d.store.ListUsersByRole(ctx, store.RoleAdmin)
		if err != nil {
			return err
		}
		for _, admin := range admins {
			if admin.PushToken == "" {
				continue
			}
			if err := d.sender.Push(ctx, admin.PushToken,
				"Emergency Exit Alert",
				student.Name+" ("+student.SubjectCode+") requested emergency exit",
				map[string]string{"type": "emergency_exit"}); err != nil {
				slog.Warn("notify: admin push failed", "admin_id", admin.ID, "error", err)
			}
		}
		return nil
	})
}
