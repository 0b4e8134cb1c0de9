package audit

import (
	"context"
	"log/slog"

	"github.com/gatepass/backend/internal/store"
)

// Recorder appends scan records and pushes the enriched event to the
// live audit channel. The insert is authoritative; a broadcast failure
// never fails the scan.
type Recorder struct {
	store  store.Store
	bus    *Broadcaster
	bridge *RedisBridge // optional cross-pod fan-out
}

func NewRecorder(st store.Store, bus *Broadcaster, bridge *RedisBridge) *Recorder {
	return &Recorder{store: st, bus: bus, bridge: bridge}
}

// Record persists s, enriches it with the student identity, and fans it
// out as a new_scan event.
func (r *Recorder) Record(ctx context.Context, s *store.Scan) (*ScanEvent, error) {
	if _, err := r.store.InsertScan(ctx, s); err != nil {
		return nil, err
	}

	ev := r.enrich(ctx, *s)
	env := Envelope{Type: "new_scan", Data: ev}
	r.bus.Publish(env)
	if r.bridge != nil {
		if err := r.bridge.Publish(ctx, env); err != nil {
			slog.Warn("audit: redis publish failed", "scan_id", s.ID, "error", err)
		}
	}
	return ev, nil
}

func (r *Recorder) enrich(ctx context.Context, s store.Scan) *ScanEvent {
	ev := &ScanEvent{Scan: s}
	if s.StudentID == nil {
		return ev
	}
	u, err := r.store.GetUser(ctx, *s.StudentID)
	if err != nil {
		slog.Warn("audit: student lookup failed", "student_id", *s.StudentID, "error", err)
		return ev
	}
	ev.StudentName = u.Name
	ev.SubjectCode = u.SubjectCode
	return ev
}
