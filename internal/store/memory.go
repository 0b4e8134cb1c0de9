package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and as a development
// fallback when no DATABASE_URL is configured. A single mutex makes
// UpdatePass trivially linearizable, matching the row-lock guarantee of
// the Postgres implementation.
type Memory struct {
	mu         sync.Mutex
	users      map[uint64]*User
	passes     map[uint64]*Pass
	scans      []*Scan
	nextUserID uint64
	nextPassID uint64
	nextScanID uint64
}

func NewMemory() *Memory {
	return &Memory{
		users:  make(map[uint64]*User),
		passes: make(map[uint64]*Pass),
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// ============================================================================
// USERS
// ============================================================================

func (m *Memory) GetUser(ctx context.Context, id uint64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) GetUserBySubjectCode(ctx context.Context, code string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.SubjectCode != "" && u.SubjectCode == code {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListUsersByRole(ctx context.Context, role Role) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateUser(ctx context.Context, u *User) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextUserID++
	u.ID = m.nextUserID
	cp := *u
	m.users[u.ID] = &cp
	return u.ID, nil
}

func (m *Memory) UpdateUser(ctx context.Context, id uint64, mutate func(*User) error) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	cp.ID = id
	m.users[id] = &cp
	out := cp
	return &out, nil
}

// ============================================================================
// PASSES
// ============================================================================

func (m *Memory) GetPass(ctx context.Context, id uint64) (*Pass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.passes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) InsertPass(ctx context.Context, p *Pass) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPassID++
	p.ID = m.nextPassID
	cp := *p
	m.passes[p.ID] = &cp
	return p.ID, nil
}

func (m *Memory) UpdatePass(ctx context.Context, id uint64, mutate func(*Pass) error) (*Pass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.passes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	cp.ID = id
	m.passes[id] = &cp
	out := cp
	return &out, nil
}

func (m *Memory) QueryPasses(ctx context.Context, f PassFilter) ([]Pass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Pass
	for _, p := range m.passes {
		if f.StudentID != nil && p.StudentID != *f.StudentID {
			continue
		}
		if len(f.States) > 0 && !stateIn(p.State, f.States) {
			continue
		}
		if f.Direction != nil && p.Direction != *f.Direction {
			continue
		}
		if f.RequestedAfter != nil && p.RequestTime.Before(*f.RequestedAfter) {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestTime.After(out[j].RequestTime) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func stateIn(s PassState, set []PassState) bool {
	for _, st := range set {
		if s == st {
			return true
		}
	}
	return false
}

// ============================================================================
// SCAN LOGS
// ============================================================================

func (m *Memory) InsertScan(ctx context.Context, sc *Scan) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextScanID++
	sc.ID = m.nextScanID
	cp := *sc
	m.scans = append(m.scans, &cp)
	return sc.ID, nil
}

func (m *Memory) matches(sc *Scan, f ScanFilter) bool {
	if f.StudentID != nil && (sc.StudentID == nil || *sc.StudentID != *f.StudentID) {
		return false
	}
	if f.SubjectCodeLike != "" {
		if sc.StudentID == nil {
			return false
		}
		u, ok := m.users[*sc.StudentID]
		if !ok || !strings.Contains(strings.ToLower(u.SubjectCode), strings.ToLower(f.SubjectCodeLike)) {
			return false
		}
	}
	if f.Result != nil && sc.Result != *f.Result {
		return false
	}
	if f.Direction != nil && sc.Direction != *f.Direction {
		return false
	}
	if f.From != nil && sc.Time.Before(*f.From) {
		return false
	}
	if f.To != nil && sc.Time.After(*f.To) {
		return false
	}
	return true
}

func (m *Memory) QueryScans(ctx context.Context, f ScanFilter) ([]Scan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Scan
	for _, sc := range m.scans {
		if m.matches(sc, f) {
			out = append(out, *sc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].ID > out[j].ID
		}
		return out[i].Time.After(out[j].Time)
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) CountScans(ctx context.Context, f ScanFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sc := range m.scans {
		if m.matches(sc, f) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) TopSubjects(ctx context.Context, since time.Time, limit int) ([]SubjectActivity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[uint64]int)
	for _, sc := range m.scans {
		if sc.StudentID != nil && !sc.Time.Before(since) {
			counts[*sc.StudentID]++
		}
	}

	var out []SubjectActivity
	for id, n := range counts {
		u, ok := m.users[id]
		if !ok {
			continue
		}
		out = append(out, SubjectActivity{SubjectCode: u.SubjectCode, Name: u.Name, ScanCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScanCount == out[j].ScanCount {
			return out[i].SubjectCode < out[j].SubjectCode
		}
		return out[i].ScanCount > out[j].ScanCount
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
