package geofence

import (
	"fmt"
	"math"
)

const earthRadiusKM = 6371.0088

// Fix is a GPS coordinate reported by a client device.
type Fix struct {
	Latitude  float64
	Longitude float64
}

// Valid reports whether the fix is inside the representable coordinate
// ranges. Anything outside is a structural error, not a policy denial.
func (f Fix) Valid() bool {
	return f.Latitude >= -90 && f.Latitude <= 90 &&
		f.Longitude >= -180 && f.Longitude <= 180
}

// Result is the detailed outcome of one evaluation.
type Result struct {
	Inside         bool    `json:"inside"`      // strictly inside the configured radius
	InsideBuffered bool    `json:"allowed"`     // inside radius + GPS-accuracy buffer
	DistanceKM     float64 `json:"distance_km"` // great-circle distance to the region center
	DistanceM      float64 `json:"distance_meters"`
	Message        string  `json:"message"`
}

// Evaluator decides whether a fix lies within the campus region. The
// policy is re-read from the store on every call, so an admin update
// takes effect immediately.
type Evaluator struct {
	policies     *PolicyStore
	bufferMeters float64
}

// NewEvaluator builds an evaluator with the given GPS-accuracy buffer.
// bufferMeters <= 0 selects the 50 m default.
func NewEvaluator(policies *PolicyStore, bufferMeters int) *Evaluator {
	buf := float64(bufferMeters)
	if buf <= 0 {
		buf = 50
	}
	return &Evaluator{policies: policies, bufferMeters: buf}
}

// Enabled reports whether geofencing is currently switched on.
func (e *Evaluator) Enabled() bool {
	return e.policies.Load().Enabled
}

// Policy returns the current persisted policy.
func (e *Evaluator) Policy() Policy {
	return e.policies.Load()
}

// Evaluate checks a fix against the current policy. The error return is
// non-nil only for structurally invalid coordinates.
func (e *Evaluator) Evaluate(fix Fix) (Result, error) {
	if !fix.Valid() {
		return Result{Message: "Invalid GPS coordinates"}, fmt.Errorf(
			"geofence: coordinates out of range (%.4f, %.4f)", fix.Latitude, fix.Longitude)
	}

	p := e.policies.Load()
	distKM := haversineKM(p.Latitude, p.Longitude, fix.Latitude, fix.Longitude)

	res := Result{
		Inside:     distKM <= p.RadiusKM,
		DistanceKM: round3(distKM),
		DistanceM:  round1(distKM * 1000),
	}
	res.InsideBuffered = distKM <= p.RadiusKM+e.bufferMeters/1000

	switch {
	case res.Inside:
		res.Message = "Location verified: Inside campus"
	case res.InsideBuffered:
		res.Message = fmt.Sprintf("Location verified: Near campus (%.1fm from center)", res.DistanceM)
	default:
		res.Message = fmt.Sprintf("Location denied: Outside campus (%.2f km away)", res.DistanceKM)
	}
	return res, nil
}

// haversineKM computes the great-circle distance between two points.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(a)))
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
