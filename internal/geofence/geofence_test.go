package geofence

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvaluator(t *testing.T, p Policy) *Evaluator {
	t.Helper()
	store := NewPolicyStore(filepath.Join(t.TempDir(), "location_settings.json"))
	require.NoError(t, store.Save(p))
	return NewEvaluator(store, 50)
}

func TestEvaluateInsideAndOutside(t *testing.T) {
	ev := testEvaluator(t, Policy{
		Label: "Campus", Latitude: 31.7768, Longitude: 77.0144,
		RadiusKM: 2.0, Enabled: true,
	})

	center, err := ev.Evaluate(Fix{Latitude: 31.7768, Longitude: 77.0144})
	require.NoError(t, err)
	assert.True(t, center.Inside)
	assert.True(t, center.InsideBuffered)
	assert.Equal(t, 0.0, center.DistanceKM)

	// (0,0) is thousands of kilometers away.
	far, err := ev.Evaluate(Fix{Latitude: 0, Longitude: 0})
	require.NoError(t, err)
	assert.False(t, far.Inside)
	assert.False(t, far.InsideBuffered)
	assert.Greater(t, far.DistanceKM, 1000.0)
	assert.Contains(t, far.Message, "Location denied")
}

func TestEvaluateBufferAbsorbsGPSError(t *testing.T) {
	// Radius 2 km; a point ~2.02 km out is outside the strict radius but
	// inside the 50 m buffer. One degree latitude is ~111.2 km.
	ev := testEvaluator(t, Policy{
		Latitude: 10, Longitude: 20, RadiusKM: 2.0, Enabled: true,
	})

	res, err := ev.Evaluate(Fix{Latitude: 10 + 2.02/111.2, Longitude: 20})
	require.NoError(t, err)
	assert.False(t, res.Inside)
	assert.True(t, res.InsideBuffered)
	assert.Contains(t, res.Message, "Near campus")
}

func TestEvaluateRejectsOutOfRangeCoordinates(t *testing.T) {
	ev := testEvaluator(t, DefaultPolicy())

	for _, fix := range []Fix{
		{Latitude: 90.1, Longitude: 0},
		{Latitude: -90.1, Longitude: 0},
		{Latitude: 0, Longitude: 180.1},
		{Latitude: 0, Longitude: -180.1},
	} {
		_, err := ev.Evaluate(fix)
		assert.Error(t, err, "fix %+v", fix)
	}

	// Exact poles and antimeridian are representable.
	for _, fix := range []Fix{
		{Latitude: 90, Longitude: 180},
		{Latitude: -90, Longitude: -180},
	} {
		_, err := ev.Evaluate(fix)
		assert.NoError(t, err, "fix %+v", fix)
	}
}

func TestDistanceSymmetricAcrossEquator(t *testing.T) {
	// A center on the equator sees mirrored latitudes at equal distance.
	ev := testEvaluator(t, Policy{Latitude: 0, Longitude: 50, RadiusKM: 2, Enabled: true})

	north, err := ev.Evaluate(Fix{Latitude: 1.5, Longitude: 50})
	require.NoError(t, err)
	south, err := ev.Evaluate(Fix{Latitude: -1.5, Longitude: 50})
	require.NoError(t, err)

	assert.InDelta(t, north.DistanceKM, south.DistanceKM, 0.001)
}

func TestDistanceTriangleInequality(t *testing.T) {
	a := [2]float64{31.7768, 77.0144}
	b := [2]float64{31.90, 77.10}
	c := [2]float64{32.05, 76.95}

	ab := haversineKM(a[0], a[1], b[0], b[1])
	bc := haversineKM(b[0], b[1], c[0], c[1])
	ac := haversineKM(a[0], a[1], c[0], c[1])

	assert.LessOrEqual(t, ac, ab+bc+1e-9)
}

func TestPolicyHotReload(t *testing.T) {
	store := NewPolicyStore(filepath.Join(t.TempDir(), "location_settings.json"))
	require.NoError(t, store.Save(Policy{Latitude: 10, Longitude: 20, RadiusKM: 2, Enabled: true}))
	ev := NewEvaluator(store, 50)

	fix := Fix{Latitude: 10.05, Longitude: 20} // ~5.6 km out
	res, err := ev.Evaluate(fix)
	require.NoError(t, err)
	assert.False(t, res.InsideBuffered)

	// Widen the radius; the next evaluation must see it without restart.
	require.NoError(t, store.Save(Policy{Latitude: 10, Longitude: 20, RadiusKM: 10, Enabled: true}))
	res, err = ev.Evaluate(fix)
	require.NoError(t, err)
	assert.True(t, res.Inside)
}

func TestPolicyStoreMissingFileReturnsDefaults(t *testing.T) {
	store := NewPolicyStore(filepath.Join(t.TempDir(), "nope", "missing.json"))
	p := store.Load()
	assert.Equal(t, DefaultPolicy(), p)
}

func TestPolicyStoreCorruptFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "location_settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	p := NewPolicyStore(path).Load()
	assert.Equal(t, DefaultPolicy(), p)
}

func TestHaversineKnownDistance(t *testing.T) {
	// Delhi to Mumbai is roughly 1150 km.
	d := haversineKM(28.6139, 77.2090, 19.0760, 72.8777)
	assert.InDelta(t, 1150, d, 25)
	assert.False(t, math.IsNaN(d))
}
