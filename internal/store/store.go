package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a missing user, pass, or scan.
var ErrNotFound = errors.New("store: not found")

// PassFilter narrows QueryPasses. Nil fields are ignored.
type PassFilter struct {
	StudentID      *uint64
	States         []PassState
	Direction      *Direction
	RequestedAfter *time.Time
	Limit          int
}

// ScanFilter narrows QueryScans and CountScans. Nil fields are ignored.
// SubjectCodeLike matches a substring of the student's subject code.
type ScanFilter struct {
	StudentID       *uint64
	SubjectCodeLike string
	Result          *ScanResult
	Direction       *Direction
	From            *time.Time
	To              *time.Time
	Limit           int
	Offset          int
}

// Store is the transactional persistence boundary. UpdatePass is
// linearizable with respect to other UpdatePass calls on the same id;
// exactly-once pass consumption rests on that guarantee.
type Store interface {
	// Users.
	GetUser(ctx context.Context, id uint64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserBySubjectCode(ctx context.Context, code string) (*User, error)
	ListUsersByRole(ctx context.Context, role Role) ([]User, error)
	CreateUser(ctx context.Context, u *User) (uint64, error)
	// UpdateUser applies mutate to the stored user under a row lock.
	UpdateUser(ctx context.Context, id uint64, mutate func(*User) error) (*User, error)

	// Passes.
	GetPass(ctx context.Context, id uint64) (*Pass, error)
	InsertPass(ctx context.Context, p *Pass) (uint64, error)
	// UpdatePass loads the pass under a row lock, applies mutate, and
	// persists the result. If mutate returns an error the pass is left
	// unchanged and the error is returned verbatim.
	UpdatePass(ctx context.Context, id uint64, mutate func(*Pass) error) (*Pass, error)
	QueryPasses(ctx context.Context, f PassFilter) ([]Pass, error)

	// Scans. Records are append-only; there is no update or delete.
	InsertScan(ctx context.Context, s *Scan) (uint64, error)
	QueryScans(ctx context.Context, f ScanFilter) ([]Scan, error)
	CountScans(ctx context.Context, f ScanFilter) (int, error)
	TopSubjects(ctx context.Context, since time.Time, limit int) ([]SubjectActivity, error)

	Ping(ctx context.Context) error
}
