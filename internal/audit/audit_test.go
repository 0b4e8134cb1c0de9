package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatepass/backend/internal/store"
)

func seedStudent(t *testing.T, m *store.Memory, code string) *store.User {
	t.Helper()
	u := &store.User{Name: "Student " + code, Email: code + "@uni.edu",
		Role: store.RoleStudent, Active: true, SubjectCode: code}
	_, err := m.CreateUser(context.Background(), u)
	require.NoError(t, err)
	return u
}

func successScan(student *store.User, dir store.Direction, at time.Time) *store.Scan {
	sid := student.ID
	return &store.Scan{StudentID: &sid, ScannerID: 9, Direction: dir,
		Result: store.ResultSuccess, Detail: "verified", Time: at}
}

func TestBroadcastFanOut(t *testing.T) {
	b := NewBroadcaster(nil)

	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(Envelope{Type: "new_scan"})

	for _, ch := range []<-chan Envelope{ch1, ch2} {
		select {
		case env := <-ch:
			assert.Equal(t, "new_scan", env.Type)
		default:
			t.Fatal("subscriber did not receive the event")
		}
	}

	b.Unsubscribe(id1)
	assert.Equal(t, 1, b.SubscriberCount())
	_, open := <-ch1
	assert.False(t, open, "unsubscribed channel must be closed")
}

func TestBroadcastDropsStalledSubscriber(t *testing.T) {
	b := NewBroadcaster(nil)

	_, slow := b.Subscribe()
	_, healthy := b.Subscribe()

	// Fill the slow subscriber's queue, draining the healthy one as a
	// real dashboard would. One publish past the buffer drops only the
	// slow subscriber.
	for i := 0; i < subBuffer+1; i++ {
		b.Publish(Envelope{Type: "new_scan"})
		select {
		case <-healthy:
		default:
		}
	}

	assert.Equal(t, 1, b.SubscriberCount())
	received := 0
	for range slow {
		received++
	}
	assert.Equal(t, subBuffer, received)

	b.Publish(Envelope{Type: "new_scan"})
	select {
	case env := <-healthy:
		assert.Equal(t, "new_scan", env.Type)
	default:
		t.Fatal("healthy subscriber starved")
	}
}

func TestRecorderInsertsEnrichesAndBroadcasts(t *testing.T) {
	m := store.NewMemory()
	student := seedStudent(t, m, "U22CN361")
	b := NewBroadcaster(nil)
	rec := NewRecorder(m, b, nil)

	_, ch := b.Subscribe()

	ev, err := rec.Record(context.Background(), successScan(student, store.DirectionEntry, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "Student U22CN361", ev.StudentName)
	assert.Equal(t, "U22CN361", ev.SubjectCode)
	assert.NotZero(t, ev.ID)

	select {
	case env := <-ch:
		assert.Equal(t, "new_scan", env.Type)
		got, ok := env.Data.(*ScanEvent)
		require.True(t, ok)
		assert.Equal(t, ev.ID, got.ID)
	default:
		t.Fatal("no broadcast after record")
	}

	stored, err := m.QueryScans(context.Background(), store.ScanFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestRecorderHandlesAnonymousScan(t *testing.T) {
	m := store.NewMemory()
	rec := NewRecorder(m, NewBroadcaster(nil), nil)

	ev, err := rec.Record(context.Background(), &store.Scan{
		ScannerID: 9, Direction: store.DirectionEntry,
		Result: store.ResultInvalid, Detail: "malformed", Time: time.Now(),
	})
	require.NoError(t, err)
	assert.Empty(t, ev.StudentName)
	assert.Nil(t, ev.StudentID)
}

func TestStatisticsCountsAndCampusPresence(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	student := seedStudent(t, m, "U22CN361")

	now := time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC) // 11:30 civil
	a := NewAnalytics(m, time.FixedZone("civil", 330*60))
	a.SetClock(func() time.Time { return now })

	insert := func(s *store.Scan) {
		_, err := m.InsertScan(ctx, s)
		require.NoError(t, err)
	}
	// Today: three successful entries, one successful exit.
	for i := 0; i < 3; i++ {
		insert(successScan(student, store.DirectionEntry, now.Add(-time.Duration(i)*time.Hour)))
	}
	insert(successScan(student, store.DirectionExit, now.Add(-30*time.Minute)))
	// One failure today.
	sid := student.ID
	insert(&store.Scan{StudentID: &sid, ScannerID: 9, Direction: store.DirectionEntry,
		Result: store.ResultExpired, Time: now.Add(-time.Hour)})
	// A successful entry two days ago: counted in the window, not today.
	insert(successScan(student, store.DirectionEntry, now.AddDate(0, 0, -2)))

	stats, err := a.Statistics(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Total)
	assert.Equal(t, 5, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 4, stats.Entries)
	assert.Equal(t, 1, stats.Exits)
	assert.Equal(t, 2, stats.StudentsInCampus, "3 entries - 1 exit today")
	assert.InDelta(t, 83.3, stats.SuccessRate, 0.1)
}

func TestStatisticsPresenceNeverNegative(t *testing.T) {
	m := store.NewMemory()
	student := seedStudent(t, m, "U22CN361")
	a := NewAnalytics(m, nil)

	_, err := m.InsertScan(context.Background(),
		successScan(student, store.DirectionExit, time.Now()))
	require.NoError(t, err)

	stats, err := a.Statistics(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.StudentsInCampus)
}

func TestHourlyBucketsUseCivilClock(t *testing.T) {
	m := store.NewMemory()
	student := seedStudent(t, m, "U22CN361")
	civil := time.FixedZone("civil", 330*60)
	a := NewAnalytics(m, civil)

	// 03:30 UTC = 09:00 civil.
	at := time.Date(2026, 8, 24, 3, 30, 0, 0, time.UTC)
	_, err := m.InsertScan(context.Background(), successScan(student, store.DirectionEntry, at))
	require.NoError(t, err)

	buckets, err := a.Hourly(context.Background(), "2026-08-24")
	require.NoError(t, err)
	require.Len(t, buckets, 24)
	assert.Equal(t, 1, buckets[9].Entries)
	assert.Equal(t, 0, buckets[3].Entries)
}

func TestHourlyRejectsBadDay(t *testing.T) {
	a := NewAnalytics(store.NewMemory(), nil)
	_, err := a.Hourly(context.Background(), "24/08/2026")
	assert.Error(t, err)
}

func TestDailySeriesIncludesEmptyDays(t *testing.T) {
	m := store.NewMemory()
	student := seedStudent(t, m, "U22CN361")
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	a := NewAnalytics(m, time.UTC)
	a.SetClock(func() time.Time { return now })

	_, err := m.InsertScan(context.Background(),
		successScan(student, store.DirectionExit, now.AddDate(0, 0, -1)))
	require.NoError(t, err)

	series, err := a.Daily(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, "2026-08-22", series[0].Date)
	assert.Equal(t, 0, series[0].Exits)
	assert.Equal(t, 1, series[1].Exits)
	assert.Equal(t, "2026-08-24", series[2].Date)
}

func TestSearchFilters(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	a1 := seedStudent(t, m, "U22CN361")
	a2 := seedStudent(t, m, "U22CN414")
	an := NewAnalytics(m, nil)

	now := time.Now()
	_, err := m.InsertScan(ctx, successScan(a1, store.DirectionEntry, now))
	require.NoError(t, err)
	_, err = m.InsertScan(ctx, successScan(a2, store.DirectionExit, now))
	require.NoError(t, err)

	got, err := an.Search(ctx, SearchQuery{SubjectCode: "414"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "U22CN414", got[0].SubjectCode)
	assert.Equal(t, "Student U22CN414", got[0].StudentName)

	exit := store.DirectionExit
	got, err = an.Search(ctx, SearchQuery{Direction: &exit})
	require.NoError(t, err)
	require.Len(t, got, 1)
}
