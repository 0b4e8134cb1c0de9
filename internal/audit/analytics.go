package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/gatepass/backend/internal/store"
)

// Analytics serves read-only projections over the scan log. Day and
// hour bucketing uses the campus civil zone, not UTC.
type Analytics struct {
	store store.Store
	civil *time.Location
	now   func() time.Time
}

func NewAnalytics(st store.Store, civil *time.Location) *Analytics {
	if civil == nil {
		civil = time.UTC
	}
	return &Analytics{store: st, civil: civil, now: time.Now}
}

// SetClock overrides the analytics clock. Tests only.
func (a *Analytics) SetClock(now func() time.Time) { a.now = now }

// Statistics summarises the last `days` days of gate activity.
type Statistics struct {
	WindowDays       int     `json:"period_days"`
	Total            int     `json:"total_scans"`
	Successful       int     `json:"successful_scans"`
	Failed           int     `json:"failed_scans"`
	Entries          int     `json:"total_entries"`
	Exits            int     `json:"total_exits"`
	StudentsInCampus int     `json:"students_in_campus"`
	SuccessRate      float64 `json:"success_rate"`
}

// HourBucket is one slot of the 24-hour histogram.
type HourBucket struct {
	Hour    int `json:"hour"`
	Entries int `json:"entries"`
	Exits   int `json:"exits"`
}

// DayCount is one day of the rolling entry/exit series.
type DayCount struct {
	Date    string `json:"date"`
	Entries int    `json:"entries"`
	Exits   int    `json:"exits"`
}

// SearchQuery narrows Search. Zero values are ignored.
type SearchQuery struct {
	SubjectCode string
	Direction   *store.Direction
	Result      *store.ScanResult
	From        *time.Time
	To          *time.Time
	Limit       int
}

// Recent returns a reverse-chronological slice of enriched scan events.
func (a *Analytics) Recent(ctx context.Context, limit, offset int) ([]ScanEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	scans, err := a.store.QueryScans(ctx, store.ScanFilter{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return a.enrichAll(ctx, scans)
}

func (a *Analytics) Statistics(ctx context.Context, days int) (*Statistics, error) {
	if days <= 0 {
		days = 7
	}
	now := a.now()
	from := now.AddDate(0, 0, -days)

	count := func(f store.ScanFilter) (int, error) {
		f.From = &from
		return a.store.CountScans(ctx, f)
	}

	total, err := count(store.ScanFilter{})
	if err != nil {
		return nil, err
	}
	success := store.ResultSuccess
	ok, err := count(store.ScanFilter{Result: &success})
	if err != nil {
		return nil, err
	}
	entry, exit := store.DirectionEntry, store.DirectionExit
	entries, err := count(store.ScanFilter{Result: &success, Direction: &entry})
	if err != nil {
		return nil, err
	}
	exits, err := count(store.ScanFilter{Result: &success, Direction: &exit})
	if err != nil {
		return nil, err
	}

	// Present-on-campus estimate uses today's civil day only.
	dayStart := a.civilDayStart(now)
	todayIn, err := a.store.CountScans(ctx, store.ScanFilter{
		Result: &success, Direction: &entry, From: &dayStart,
	})
	if err != nil {
		return nil, err
	}
	todayOut, err := a.store.CountScans(ctx, store.ScanFilter{
		Result: &success, Direction: &exit, From: &dayStart,
	})
	if err != nil {
		return nil, err
	}
	inCampus := todayIn - todayOut
	if inCampus < 0 {
		inCampus = 0
	}

	rate := 0.0
	if total > 0 {
		rate = float64(ok) / float64(total) * 100
	}
	return &Statistics{
		WindowDays:       days,
		Total:            total,
		Successful:       ok,
		Failed:           total - ok,
		Entries:          entries,
		Exits:            exits,
		StudentsInCampus: inCampus,
		SuccessRate:      rate,
	}, nil
}

// Hourly returns the 24-bucket entry/exit histogram for one civil day.
// day is "2006-01-02"; empty means today.
func (a *Analytics) Hourly(ctx context.Context, day string) ([]HourBucket, error) {
	var civilDay time.Time
	if day == "" {
		now := a.now().In(a.civil)
		civilDay = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.civil)
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", day, a.civil)
		if err != nil {
			return nil, fmt.Errorf("bad day %q: %w", day, err)
		}
		civilDay = parsed
	}
	from := civilDay.UTC()
	to := civilDay.AddDate(0, 0, 1).UTC()
	success := store.ResultSuccess

	scans, err := a.store.QueryScans(ctx, store.ScanFilter{
		Result: &success, From: &from, To: &to,
	})
	if err != nil {
		return nil, err
	}

	buckets := make([]HourBucket, 24)
	for i := range buckets {
		buckets[i].Hour = i
	}
	for _, s := range scans {
		h := s.Time.In(a.civil).Hour()
		if s.Direction == store.DirectionEntry {
			buckets[h].Entries++
		} else {
			buckets[h].Exits++
		}
	}
	return buckets, nil
}

// Daily returns per-civil-day entry/exit counts for the last `days`
// days, oldest first, with empty days included.
func (a *Analytics) Daily(ctx context.Context, days int) ([]DayCount, error) {
	if days <= 0 || days > 90 {
		days = 7
	}
	now := a.now()
	start := a.civilDayStart(now).AddDate(0, 0, -(days - 1))
	success := store.ResultSuccess

	scans, err := a.store.QueryScans(ctx, store.ScanFilter{
		Result: &success, From: &start,
	})
	if err != nil {
		return nil, err
	}

	byDate := make(map[string]*DayCount, days)
	out := make([]DayCount, 0, days)
	for i := 0; i < days; i++ {
		d := start.In(a.civil).AddDate(0, 0, i).Format("2006-01-02")
		out = append(out, DayCount{Date: d})
		byDate[d] = &out[len(out)-1]
	}
	for _, s := range scans {
		d := s.Time.In(a.civil).Format("2006-01-02")
		dc, ok := byDate[d]
		if !ok {
			continue
		}
		if s.Direction == store.DirectionEntry {
			dc.Entries++
		} else {
			dc.Exits++
		}
	}
	return out, nil
}

// TopActive ranks subjects by scan count over the last `days` days.
func (a *Analytics) TopActive(ctx context.Context, days, limit int) ([]store.SubjectActivity, error) {
	if days <= 0 {
		days = 7
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	since := a.now().AddDate(0, 0, -days)
	return a.store.TopSubjects(ctx, since, limit)
}

// Search applies the query filters to the scan log.
func (a *Analytics) Search(ctx context.Context, q SearchQuery) ([]ScanEvent, error) {
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	scans, err := a.store.QueryScans(ctx, store.ScanFilter{
		SubjectCodeLike: q.SubjectCode,
		Result:          q.Result,
		Direction:       q.Direction,
		From:            q.From,
		To:              q.To,
		Limit:           q.Limit,
	})
	if err != nil {
		return nil, err
	}
	return a.enrichAll(ctx, scans)
}

func (a *Analytics) civilDayStart(now time.Time) time.Time {
	c := now.In(a.civil)
	return time.Date(c.Year(), c.Month(), c.Day(), 0, 0, 0, 0, a.civil).UTC()
}

func (a *Analytics) enrichAll(ctx context.Context, scans []store.Scan) ([]ScanEvent, error) {
	users := make(map[uint64]*store.User)
	out := make([]ScanEvent, 0, len(scans))
	for _, s := range scans {
		ev := ScanEvent{Scan: s}
		if s.StudentID != nil {
			u, ok := users[*s.StudentID]
			if !ok {
				u, _ = a.store.GetUser(ctx, *s.StudentID)
				users[*s.StudentID] = u
			}
			if u != nil {
				ev.StudentName = u.Name
				ev.SubjectCode = u.SubjectCode
			}
		}
		out = append(out, ev)
	}
	return out, nil
}
