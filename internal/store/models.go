// Package store persists principals, gate passes, and scan logs. It
// exposes a transactional interface backed by Postgres in production and
// by an in-memory implementation for tests and local development.
package store

import "time"

// Role of a principal.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
	RoleGuard   Role = "guard"
)

// Direction of a gate crossing.
type Direction string

const (
	DirectionEntry Direction = "entry"
	DirectionExit  Direction = "exit"
)

// ValidDirection reports whether s is one of the two known directions.
func ValidDirection(s string) bool {
	return s == string(DirectionEntry) || s == string(DirectionExit)
}

// PassState is the lifecycle state of a pass request.
//
// The state graph is strict and non-regressing:
//
//	pending -> approved -> used
//	pending -> rejected
type PassState string

const (
	StatePending  PassState = "pending"
	StateApproved PassState = "approved"
	StateRejected PassState = "rejected"
	StateUsed     PassState = "used"
)

// ScanResult is the closed outcome set recorded for every verification
// attempt. Free-form context goes in the Detail field, never here.
type ScanResult string

const (
	ResultSuccess     ScanResult = "success"
	ResultExpired     ScanResult = "expired"
	ResultInvalid     ScanResult = "invalid"
	ResultReplay      ScanResult = "replay"
	ResultNotApproved ScanResult = "not-approved"
	ResultDenied      ScanResult = "denied"
)

// User is a principal: student, admin, or guard. Students additionally
// carry a campus subject code, a class label, and a validity horizon.
type User struct {
	ID           uint64     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Active       bool       `json:"active"`
	SubjectCode  string     `json:"student_id,omitempty"` // e.g. U22CN361
	Class        string     `json:"student_class,omitempty"`
	GuardianName string     `json:"guardian_name,omitempty"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`

	// Contact + notification routing.
	Phone           string `json:"phone,omitempty"`
	ParentName      string `json:"parent_name,omitempty"`
	ParentPhone     string `json:"parent_phone,omitempty"`
	PushToken       string `json:"fcm_token,omitempty"`
	ParentPushToken string `json:"parent_fcm_token,omitempty"`
}

// Pass is a persisted authorization for one directional gate crossing.
//
// Token, ApprovedTime, ExpiryTime, and ApprovedBy are set atomically with
// the pending->approved transition and never change afterwards. UsedTime
// and UsedBy are set exactly once, with approved->used.
type Pass struct {
	ID           uint64     `json:"id"`
	StudentID    uint64     `json:"student_id"`
	Reason       string     `json:"reason"`
	Direction    Direction  `json:"pass_type"`
	State        PassState  `json:"status"`
	RequestTime  time.Time  `json:"request_time"`
	ApprovedBy   *uint64    `json:"approved_by,omitempty"`
	ApprovedTime *time.Time `json:"approved_time,omitempty"`
	ExpiryTime   *time.Time `json:"expiry_time,omitempty"`
	Token        string     `json:"qr_token,omitempty"`
	UsedTime     *time.Time `json:"used_time,omitempty"`
	UsedBy       *uint64    `json:"used_by,omitempty"`

	// GPS evaluation snapshot from issuance, advisory for admin-approved
	// passes and enforcing for daily passes.
	OriginLat  *float64 `json:"request_latitude,omitempty"`
	OriginLon  *float64 `json:"request_longitude,omitempty"`
	LocationOK bool     `json:"location_verified"`
	DistanceKM *float64 `json:"location_distance_km,omitempty"`
}

// Scan is one append-only verification record. PassID and StudentID are
// nil when the attempt never resolved to a pass (malformed token) or for
// emergency exits, which bypass passes entirely.
type Scan struct {
	ID        uint64     `json:"id"`
	PassID    *uint64    `json:"pass_id,omitempty"`
	StudentID *uint64    `json:"student_id,omitempty"`
	ScannerID uint64     `json:"scanner_id"`
	Direction Direction  `json:"pass_type"`
	Result    ScanResult `json:"result"`
	Detail    string     `json:"details,omitempty"`
	Time      time.Time  `json:"scan_time"`
	Emergency bool       `json:"emergency"`
}

// SubjectActivity is one row of the top-active ranking.
type SubjectActivity struct {
	SubjectCode string `json:"student_id"`
	Name        string `json:"name"`
	ScanCount   int    `json:"scan_count"`
}
