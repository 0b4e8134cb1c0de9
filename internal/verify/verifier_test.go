package verify

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatepass/backend/internal/audit"
	"github.com/gatepass/backend/internal/faceauth"
	"github.com/gatepass/backend/internal/geofence"
	"github.com/gatepass/backend/internal/pass"
	"github.com/gatepass/backend/internal/store"
	"github.com/gatepass/backend/internal/token"
)

type fixture struct {
	store    *store.Memory
	engine   *pass.Engine
	verifier *Verifier
	codec    *token.Codec

	student *store.User
	admin   *store.User
	guard   *store.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()

	policy := geofence.NewPolicyStore(filepath.Join(t.TempDir(), "location.json"))
	fence := geofence.NewEvaluator(policy, 50)
	codec := token.NewCodec("test-secret")
	engine := pass.NewEngine(mem, codec, fence, nil, 15*time.Minute, time.UTC)
	recorder := audit.NewRecorder(mem, audit.NewBroadcaster(nil), nil)

	f := &fixture{
		store:    mem,
		engine:   engine,
		codec:    codec,
		verifier: NewVerifier(codec, mem, engine, recorder, nil, faceauth.Disabled{}, nil),
	}

	mk := func(name, email string, role store.Role, code string) *store.User {
		u := &store.User{Name: name, Email: email, Role: role, Active: true, SubjectCode: code}
		_, err := mem.CreateUser(context.Background(), u)
		require.NoError(t, err)
		return u
	}
	f.student = mk("Madhavi", "u22cn361@uni.edu", store.RoleStudent, "U22CN361")
	f.admin = mk("Warden", "admin@uni.edu", store.RoleAdmin, "")
	f.guard = mk("Gate One", "guard@uni.edu", store.RoleGuard, "")
	return f
}

// approvedToken issues and approves a pass, returning its token.
func (f *fixture) approvedToken(t *testing.T) (*store.Pass, string) {
	t.Helper()
	ctx := context.Background()
	p, err := f.engine.Create(ctx, f.student, store.DirectionExit, "Medical", nil)
	require.NoError(t, err)
	approved, err := f.engine.Approve(ctx, p.ID, f.admin)
	require.NoError(t, err)
	return approved, approved.Token
}

func (f *fixture) lastScan(t *testing.T) store.Scan {
	t.Helper()
	scans, err := f.store.QueryScans(context.Background(), store.ScanFilter{Limit: 1})
	require.NoError(t, err)
	require.NotEmpty(t, scans)
	return scans[0]
}

func TestVerifyMalformedToken(t *testing.T) {
	f := newFixture(t)

	dec, err := f.verifier.Verify(context.Background(), "not.a.token", f.guard, nil)
	require.NoError(t, err)
	assert.False(t, dec.OK)
	assert.Equal(t, store.ResultInvalid, dec.Result)
	assert.Equal(t, "malformed", dec.Detail)

	logged := f.lastScan(t)
	assert.Equal(t, store.ResultInvalid, logged.Result)
	assert.Nil(t, logged.PassID)
	assert.Nil(t, logged.StudentID)
	assert.Equal(t, f.guard.ID, logged.ScannerID)
}

func TestVerifyTamperedSignature(t *testing.T) {
	f := newFixture(t)
	_, tok := f.approvedToken(t)

	// Flip the last MAC nibble, keeping structure valid.
	tampered := tok[:len(tok)-1]
	if strings.HasSuffix(tok, "0") {
		tampered += "1"
	} else {
		tampered += "0"
	}

	dec, err := f.verifier.Verify(context.Background(), tampered, f.guard, nil)
	require.NoError(t, err)
	assert.Equal(t, store.ResultInvalid, dec.Result)
	assert.Equal(t, "sig-mismatch", dec.Detail)
}

func TestVerifyUnknownPass(t *testing.T) {
	f := newFixture(t)

	// Correctly signed token for a pass id that was never issued.
	tok := f.codec.Mint(9999, f.student.ID, time.Now().Add(time.Hour).Unix())
	dec, err := f.verifier.Verify(context.Background(), tok, f.guard, nil)
	require.NoError(t, err)
	assert.Equal(t, store.ResultInvalid, dec.Result)
	assert.Equal(t, "no-pass", dec.Detail)
}

func TestVerifyExpiredToken(t *testing.T) {
	f := newFixture(t)
	p, tok := f.approvedToken(t)

	f.verifier.SetClock(func() time.Time {
		return p.ExpiryTime.Add(time.Second)
	})

	dec, err := f.verifier.Verify(context.Background(), tok, f.guard, nil)
	require.NoError(t, err)
	assert.Equal(t, store.ResultExpired, dec.Result)
	assert.Equal(t, "past-expiry", dec.Detail)

	logged := f.lastScan(t)
	require.NotNil(t, logged.PassID)
	assert.Equal(t, p.ID, *logged.PassID)
	assert.Equal(t, store.DirectionExit, logged.Direction)

	// Timeout does not regress state.
	got, err := f.store.GetPass(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StateApproved, got.State)
}

func TestVerifyAtExactExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	p, tok := f.approvedToken(t)

	// now == E is still acceptable; only now > E expires.
	f.verifier.SetClock(func() time.Time { return *p.ExpiryTime })

	dec, err := f.verifier.Verify(context.Background(), tok, f.guard, nil)
	require.NoError(t, err)
	assert.True(t, dec.OK)
}

func TestVerifyNotApprovedStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.engine.Create(ctx, f.student, store.DirectionEntry, "Medical", nil)
	require.NoError(t, err)
	// Tokens only exist after approval; forge one for the pending pass.
	tok := f.codec.Mint(p.ID, f.student.ID, time.Now().Add(time.Hour).Unix())

	dec, err := f.verifier.Verify(ctx, tok, f.guard, nil)
	require.NoError(t, err)
	assert.Equal(t, store.ResultNotApproved, dec.Result)
	assert.Equal(t, "pending", dec.Detail)

	_, err = f.engine.Reject(ctx, p.ID, f.admin)
	require.NoError(t, err)
	dec, err = f.verifier.Verify(ctx, tok, f.guard, nil)
	require.NoError(t, err)
	assert.Equal(t, store.ResultNotApproved, dec.Result)
	assert.Equal(t, "rejected", dec.Detail)
}

func TestVerifySuccessThenReplay(t *testing.T) {
	f := newFixture(t)
	p, tok := f.approvedToken(t)
	ctx := context.Background()

	dec, err := f.verifier.Verify(ctx, tok, f.guard, nil)
	require.NoError(t, err)
	assert.True(t, dec.OK)
	assert.Equal(t, store.ResultSuccess, dec.Result)
	assert.Equal(t, "verified", dec.Detail)
	require.NotNil(t, dec.Pass)
	assert.Equal(t, store.StateUsed, dec.Pass.State)
	require.NotNil(t, dec.Student)
	assert.Equal(t, f.student.ID, dec.Student.ID)

	dec, err = f.verifier.Verify(ctx, tok, f.guard, nil)
	require.NoError(t, err)
	assert.False(t, dec.OK)
	assert.Equal(t, store.ResultReplay, dec.Result)
	assert.Equal(t, "already-used", dec.Detail)

	got, err := f.store.GetPass(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.UsedBy)
	assert.Equal(t, f.guard.ID, *got.UsedBy)
}

func TestVerifyConcurrentScansExactlyOneSuccess(t *testing.T) {
	f := newFixture(t)
	_, tok := f.approvedToken(t)

	const attempts = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		replays int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, err := f.verifier.Verify(context.Background(), tok, f.guard, nil)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if dec.OK {
				wins++
			} else if dec.Result == store.ResultReplay {
				replays++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, replays)

	n, err := f.store.CountScans(context.Background(), store.ScanFilter{})
	require.NoError(t, err)
	assert.Equal(t, attempts, n, "every attempt is logged")
}

type stubFaces struct {
	delay   time.Duration
	verdict faceauth.Verdict
}

func (s stubFaces) Verify(ctx context.Context, _ uint64, _ []byte) (faceauth.Verdict, error) {
	select {
	case <-time.After(s.delay):
		return s.verdict, nil
	case <-ctx.Done():
		return faceauth.Verdict{}, ctx.Err()
	}
}

func TestVerifyAttachesTimelyFaceVerdict(t *testing.T) {
	f := newFixture(t)
	_, tok := f.approvedToken(t)

	recorder := audit.NewRecorder(f.store, audit.NewBroadcaster(nil), nil)
	v := NewVerifier(f.codec, f.store, f.engine, recorder, nil,
		stubFaces{delay: 10 * time.Millisecond, verdict: faceauth.Verdict{Checked: true, Match: true, Confidence: 0.97}}, nil)

	dec, err := v.Verify(context.Background(), tok, f.guard, []byte{0xff, 0xd8})
	require.NoError(t, err)
	assert.True(t, dec.OK)
	require.NotNil(t, dec.Face)
	assert.True(t, dec.Face.Match)
}

func TestVerifyOmitsLateFaceVerdict(t *testing.T) {
	f := newFixture(t)
	_, tok := f.approvedToken(t)

	recorder := audit.NewRecorder(f.store, audit.NewBroadcaster(nil), nil)
	v := NewVerifier(f.codec, f.store, f.engine, recorder, nil,
		stubFaces{delay: time.Second, verdict: faceauth.Verdict{Checked: true, Match: false}}, nil)
	v.SetFaceWait(20 * time.Millisecond)

	dec, err := v.Verify(context.Background(), tok, f.guard, []byte{0xff, 0xd8})
	require.NoError(t, err)
	assert.True(t, dec.OK, "slow biometrics never block the gate")
	assert.Nil(t, dec.Face)
}

func TestVerifyNoImageSkipsFaceCheck(t *testing.T) {
	f := newFixture(t)
	_, tok := f.approvedToken(t)

	dec, err := f.verifier.Verify(context.Background(), tok, f.guard, nil)
	require.NoError(t, err)
	assert.True(t, dec.OK)
	assert.Nil(t, dec.Face)
}
