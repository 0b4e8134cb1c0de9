package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // Postgres driver
)

// Postgres implements Store on database/sql with the pq driver.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects, pings, and ensures the schema exists.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Postgres{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) Close() error { return s.db.Close() }

func (s *Postgres) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Postgres) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id               BIGSERIAL PRIMARY KEY,
	name             VARCHAR(120) NOT NULL,
	email            VARCHAR(120) UNIQUE NOT NULL,
	pwd_hash         VARCHAR(255) NOT NULL,
	role             VARCHAR(20)  NOT NULL,
	active           BOOLEAN      NOT NULL DEFAULT TRUE,
	subject_code     VARCHAR(50)  UNIQUE,
	class            VARCHAR(100),
	guardian_name    VARCHAR(120),
	valid_until      TIMESTAMPTZ,
	phone            VARCHAR(20),
	parent_name      VARCHAR(120),
	parent_phone     VARCHAR(20),
	push_token       TEXT,
	parent_push_token TEXT
);
CREATE TABLE IF NOT EXISTS passes (
	id             BIGSERIAL PRIMARY KEY,
	student_id     BIGINT NOT NULL REFERENCES users(id),
	reason         TEXT   NOT NULL,
	direction      VARCHAR(10) NOT NULL DEFAULT 'entry',
	state          VARCHAR(16) NOT NULL DEFAULT 'pending',
	request_time   TIMESTAMPTZ NOT NULL DEFAULT now(),
	approved_by    BIGINT REFERENCES users(id),
	approved_time  TIMESTAMPTZ,
	expiry_time    TIMESTAMPTZ,
	qr_token       TEXT,
	used_time      TIMESTAMPTZ,
	used_by        BIGINT REFERENCES users(id),
	origin_lat     DOUBLE PRECISION,
	origin_lon     DOUBLE PRECISION,
	location_ok    BOOLEAN NOT NULL DEFAULT FALSE,
	distance_km    DOUBLE PRECISION
);
CREATE INDEX IF NOT EXISTS idx_passes_student ON passes (student_id, state, request_time);
CREATE TABLE IF NOT EXISTS scan_logs (
	id          BIGSERIAL PRIMARY KEY,
	pass_id     BIGINT,
	student_id  BIGINT,
	scanner_id  BIGINT NOT NULL,
	direction   VARCHAR(10) NOT NULL DEFAULT 'entry',
	result      VARCHAR(32) NOT NULL,
	detail      TEXT,
	scan_time   TIMESTAMPTZ NOT NULL DEFAULT now(),
	emergency   BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_scans_time ON scan_logs (scan_time DESC);
CREATE INDEX IF NOT EXISTS idx_scans_student ON scan_logs (student_id, scan_time);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ============================================================================
// USERS
// ============================================================================

const userColumns = `id, name, email, pwd_hash, role, active, subject_code, class,
	guardian_name, valid_until, phone, parent_name, parent_phone, push_token, parent_push_token`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var subjectCode, class, guardian, phone, parentName, parentPhone, push, parentPush sql.NullString
	var validUntil sql.NullTime
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Active,
		&subjectCode, &class, &guardian, &validUntil,
		&phone, &parentName, &parentPhone, &push, &parentPush)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.SubjectCode = subjectCode.String
	u.Class = class.String
	u.GuardianName = guardian.String
	u.Phone = phone.String
	u.ParentName = parentName.String
	u.ParentPhone = parentPhone.String
	u.PushToken = push.String
	u.ParentPushToken = parentPush.String
	if validUntil.Valid {
		t := validUntil.Time
		u.ValidUntil = &t
	}
	return &u, nil
}

func (s *Postgres) GetUser(ctx context.Context, id uint64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Postgres) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (s *Postgres) GetUserBySubjectCode(ctx context.Context, code string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE subject_code = $1`, code)
	return scanUser(row)
}

func (s *Postgres) ListUsersByRole(ctx context.Context, role Role) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY id`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *Postgres) CreateUser(ctx context.Context, u *User) (uint64, error) {
	var id uint64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email, pwd_hash, role, active, subject_code, class,
			guardian_name, valid_until, phone, parent_name, parent_phone, push_token, parent_push_token)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id`,
		u.Name, u.Email, u.PasswordHash, u.Role, u.Active,
		nullStr(u.SubjectCode), nullStr(u.Class), nullStr(u.GuardianName), u.ValidUntil,
		nullStr(u.Phone), nullStr(u.ParentName), nullStr(u.ParentPhone),
		nullStr(u.PushToken), nullStr(u.ParentPushToken)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	u.ID = id
	return id, nil
}

func (s *Postgres) UpdateUser(ctx context.Context, id uint64, mutate func(*User) error) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, err
	}
	if err := mutate(u); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET name=$2, email=$3, pwd_hash=$4, role=$5, active=$6,
			subject_code=$7, class=$8, guardian_name=$9, valid_until=$10,
			phone=$11, parent_name=$12, parent_phone=$13, push_token=$14, parent_push_token=$15
		WHERE id = $1`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.Active,
		nullStr(u.SubjectCode), nullStr(u.Class), nullStr(u.GuardianName), u.ValidUntil,
		nullStr(u.Phone), nullStr(u.ParentName), nullStr(u.ParentPhone),
		nullStr(u.PushToken), nullStr(u.ParentPushToken))
	if err != nil {
		return nil, fmt.Errorf("update user %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return u, nil
}

// ============================================================================
// PASSES
// ============================================================================

const passColumns = `id, student_id, reason, direction, state, request_time,
	approved_by, approved_time, expiry_time, qr_token, used_time, used_by,
	origin_lat, origin_lon, location_ok, distance_km`

func scanPass(row interface{ Scan(...any) error }) (*Pass, error) {
	var p Pass
	var approvedBy, usedBy sql.NullInt64
	var approvedTime, expiryTime, usedTime sql.NullTime
	var token sql.NullString
	var lat, lon, dist sql.NullFloat64
	err := row.Scan(&p.ID, &p.StudentID, &p.Reason, &p.Direction, &p.State, &p.RequestTime,
		&approvedBy, &approvedTime, &expiryTime, &token, &usedTime, &usedBy,
		&lat, &lon, &p.LocationOK, &dist)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if approvedBy.Valid {
		v := uint64(approvedBy.Int64)
		p.ApprovedBy = &v
	}
	if usedBy.Valid {
		v := uint64(usedBy.Int64)
		p.UsedBy = &v
	}
	if approvedTime.Valid {
		t := approvedTime.Time
		p.ApprovedTime = &t
	}
	if expiryTime.Valid {
		t := expiryTime.Time
		p.ExpiryTime = &t
	}
	if usedTime.Valid {
		t := usedTime.Time
		p.UsedTime = &t
	}
	p.Token = token.String
	if lat.Valid {
		p.OriginLat = &lat.Float64
	}
	if lon.Valid {
		p.OriginLon = &lon.Float64
	}
	if dist.Valid {
		p.DistanceKM = &dist.Float64
	}
	return &p, nil
}

func (s *Postgres) GetPass(ctx context.Context, id uint64) (*Pass, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+passColumns+` FROM passes WHERE id = $1`, id)
	return scanPass(row)
}

func (s *Postgres) InsertPass(ctx context.Context, p *Pass) (uint64, error) {
	var id uint64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO passes (student_id, reason, direction, state, request_time,
			origin_lat, origin_lon, location_ok, distance_km)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`,
		p.StudentID, p.Reason, p.Direction, p.State, p.RequestTime,
		p.OriginLat, p.OriginLon, p.LocationOK, p.DistanceKM).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert pass: %w", err)
	}
	p.ID = id
	return id, nil
}

// UpdatePass serializes concurrent mutations of one pass behind
// SELECT ... FOR UPDATE. Exactly-once consumption relies on this.
func (s *Postgres) UpdatePass(ctx context.Context, id uint64, mutate func(*Pass) error) (*Pass, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+passColumns+` FROM passes WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPass(row)
	if err != nil {
		return nil, err
	}
	if err := mutate(p); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE passes SET state=$2, approved_by=$3, approved_time=$4, expiry_time=$5,
			qr_token=$6, used_time=$7, used_by=$8
		WHERE id = $1`,
		p.ID, p.State, int64PtrOrNil(p.ApprovedBy), p.ApprovedTime, p.ExpiryTime,
		nullStr(p.Token), p.UsedTime, int64PtrOrNil(p.UsedBy))
	if err != nil {
		return nil, fmt.Errorf("update pass %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Postgres) QueryPasses(ctx context.Context, f PassFilter) ([]Pass, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.StudentID != nil {
		where = append(where, "student_id = "+arg(*f.StudentID))
	}
	if len(f.States) > 0 {
		ph := make([]string, len(f.States))
		for i, st := range f.States {
			ph[i] = arg(string(st))
		}
		where = append(where, "state IN ("+strings.Join(ph, ",")+")")
	}
	if f.Direction != nil {
		where = append(where, "direction = "+arg(string(*f.Direction)))
	}
	if f.RequestedAfter != nil {
		where = append(where, "request_time >= "+arg(*f.RequestedAfter))
	}

	q := `SELECT ` + passColumns + ` FROM passes`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY request_time DESC"
	if f.Limit > 0 {
		q += " LIMIT " + arg(f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passes []Pass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		passes = append(passes, *p)
	}
	return passes, rows.Err()
}

// ============================================================================
// SCAN LOGS
// ============================================================================

const scanColumns = `s.id, s.pass_id, s.student_id, s.scanner_id, s.direction,
	s.result, s.detail, s.scan_time, s.emergency`

func scanScan(row interface{ Scan(...any) error }) (*Scan, error) {
	var sc Scan
	var passID, studentID sql.NullInt64
	var detail sql.NullString
	err := row.Scan(&sc.ID, &passID, &studentID, &sc.ScannerID, &sc.Direction,
		&sc.Result, &detail, &sc.Time, &sc.Emergency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if passID.Valid {
		v := uint64(passID.Int64)
		sc.PassID = &v
	}
	if studentID.Valid {
		v := uint64(studentID.Int64)
		sc.StudentID = &v
	}
	sc.Detail = detail.String
	return &sc, nil
}

func (s *Postgres) InsertScan(ctx context.Context, sc *Scan) (uint64, error) {
	var id uint64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO scan_logs (pass_id, student_id, scanner_id, direction, result, detail, scan_time, emergency)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id`,
		int64PtrOrNil(sc.PassID), int64PtrOrNil(sc.StudentID), sc.ScannerID,
		sc.Direction, sc.Result, nullStr(sc.Detail), sc.Time, sc.Emergency).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert scan: %w", err)
	}
	sc.ID = id
	return id, nil
}

func (s *Postgres) scanWhere(f ScanFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.StudentID != nil {
		where = append(where, "s.student_id = "+arg(*f.StudentID))
	}
	if f.SubjectCodeLike != "" {
		where = append(where, "u.subject_code ILIKE "+arg("%"+f.SubjectCodeLike+"%"))
	}
	if f.Result != nil {
		where = append(where, "s.result = "+arg(string(*f.Result)))
	}
	if f.Direction != nil {
		where = append(where, "s.direction = "+arg(string(*f.Direction)))
	}
	if f.From != nil {
		where = append(where, "s.scan_time >= "+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, "s.scan_time <= "+arg(*f.To))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	return clause, args
}

func (s *Postgres) QueryScans(ctx context.Context, f ScanFilter) ([]Scan, error) {
	clause, args := s.scanWhere(f)

	q := `SELECT ` + scanColumns + ` FROM scan_logs s`
	if f.SubjectCodeLike != "" {
		q += ` JOIN users u ON u.id = s.student_id`
	}
	q += clause + " ORDER BY s.scan_time DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []Scan
	for rows.Next() {
		sc, err := scanScan(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *sc)
	}
	return scans, rows.Err()
}

func (s *Postgres) CountScans(ctx context.Context, f ScanFilter) (int, error) {
	clause, args := s.scanWhere(f)
	q := `SELECT COUNT(*) FROM scan_logs s`
	if f.SubjectCodeLike != "" {
		q += ` JOIN users u ON u.id = s.student_id`
	}
	q += clause

	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Postgres) TopSubjects(ctx context.Context, since time.Time, limit int) ([]SubjectActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(u.subject_code, ''), u.name, COUNT(s.id) AS scan_count
		FROM scan_logs s
		JOIN users u ON u.id = s.student_id
		WHERE s.scan_time >= $1
		GROUP BY u.id, u.subject_code, u.name
		ORDER BY scan_count DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubjectActivity
	for rows.Next() {
		var a SubjectActivity
		if err := rows.Scan(&a.SubjectCode, &a.Name, &a.ScanCount); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ============================================================================
// HELPERS
// ============================================================================

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func int64PtrOrNil(v *uint64) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
