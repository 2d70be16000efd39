package core

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/signalsfoundry/airline-simulator/model"
)

var (
	jfk = model.Airport{Code: "JFK", Latitude: 40.6413, Longitude: -73.7781}
	lax = model.Airport{Code: "LAX", Latitude: 33.9416, Longitude: -118.4085}
	syd = model.Airport{Code: "SYD", Latitude: -33.9399, Longitude: 151.1753}
	per = model.Airport{Code: "PER", Latitude: -31.9385, Longitude: 115.9672}
	bos = model.Airport{Code: "BOS", Latitude: 42.3656, Longitude: -71.0096}
)

func TestPositionAtEndpointsExact(t *testing.T) {
	routes := []struct {
		name     string
		dep, arr model.Airport
	}{
		{"curved northern", jfk, lax},
		{"curved southern", syd, per},
		{"short straight", jfk, bos},
		{"reverse", lax, jfk},
		{"same airport", jfk, jfk},
	}
	for _, tc := range routes {
		t.Run(tc.name, func(t *testing.T) {
			lat, lon := PositionAt(tc.dep, tc.arr, 0)
			if lat != tc.dep.Latitude || lon != tc.dep.Longitude {
				t.Fatalf("t=0 position = (%v,%v), want (%v,%v)", lat, lon, tc.dep.Latitude, tc.dep.Longitude)
			}
			lat, lon = PositionAt(tc.dep, tc.arr, 100)
			if lat != tc.arr.Latitude || lon != tc.arr.Longitude {
				t.Fatalf("t=1 position = (%v,%v), want (%v,%v)", lat, lon, tc.arr.Latitude, tc.arr.Longitude)
			}
		})
	}
}

func TestPositionAtClampsProgress(t *testing.T) {
	lat, lon := PositionAt(jfk, lax, 150)
	if lat != lax.Latitude || lon != lax.Longitude {
		t.Fatalf("progress above 100 should clamp to arrival, got (%v,%v)", lat, lon)
	}
	lat, lon = PositionAt(jfk, lax, -10)
	if lat != jfk.Latitude || lon != jfk.Longitude {
		t.Fatalf("negative progress should clamp to departure, got (%v,%v)", lat, lon)
	}
}

func TestPathForShortChordIsStraight(t *testing.T) {
	p := PathFor(jfk, bos)
	midLat := (jfk.Latitude + bos.Latitude) / 2
	midLon := (jfk.Longitude + bos.Longitude) / 2
	if p.P1.Lat != midLat || p.P1.Lon != midLon {
		t.Fatalf("short route control point = %+v, want chord midpoint", p.P1)
	}
	half := p.At(0.5)
	if math.Abs(half.Lat-midLat) > 1e-9 || math.Abs(half.Lon-midLon) > 1e-9 {
		t.Fatalf("straight route midpoint = %+v", half)
	}
}

func TestPathForBiasesPoleward(t *testing.T) {
	north := PathFor(jfk, lax)
	if mid := (jfk.Latitude + lax.Latitude) / 2; north.P1.Lat <= mid {
		t.Fatalf("northern route control lat %v should be above chord midpoint %v", north.P1.Lat, mid)
	}
	south := PathFor(syd, per)
	if mid := (syd.Latitude + per.Latitude) / 2; south.P1.Lat >= mid {
		t.Fatalf("southern route control lat %v should be below chord midpoint %v", south.P1.Lat, mid)
	}
}

func TestPathForOffsetCapped(t *testing.T) {
	dep := model.Airport{Code: "A", Latitude: 0, Longitude: 0}
	arr := model.Airport{Code: "B", Latitude: 0, Longitude: 120}
	p := PathFor(dep, arr)
	if p.P1.Lat != maxCurveOffsetDeg || p.P1.Lon != 60 {
		t.Fatalf("control point = %+v, want (15, 60)", p.P1)
	}

	// 0.15 × chord below the cap.
	arr = model.Airport{Code: "C", Latitude: 0, Longitude: 40}
	p = PathFor(dep, arr)
	if math.Abs(p.P1.Lat-6) > 1e-9 {
		t.Fatalf("control offset = %v, want 6", p.P1.Lat)
	}
}

func TestHeadingCardinalDirections(t *testing.T) {
	origin := model.Airport{Code: "O", Latitude: 10, Longitude: 10}
	cases := []struct {
		name string
		arr  model.Airport
		want float64
	}{
		{"north", model.Airport{Latitude: 12, Longitude: 10}, 0},
		{"east", model.Airport{Latitude: 10, Longitude: 12}, 90},
		{"south", model.Airport{Latitude: 8, Longitude: 10}, 180},
		{"west", model.Airport{Latitude: 10, Longitude: 8}, 270},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, progress := range []float64{0, 50, 100} {
				got := HeadingAt(origin, tc.arr, progress)
				if math.Abs(got-tc.want) > 1e-9 {
					t.Fatalf("HeadingAt(%v) = %v, want %v", progress, got, tc.want)
				}
			}
		})
	}
}

func TestHeadingMatchesPositionTangent(t *testing.T) {
	p := PathFor(jfk, lax)
	const eps = 1e-6
	for _, tt := range []float64{0.05, 0.25, 0.5, 0.75, 0.95} {
		a := p.At(tt)
		b := p.At(tt + eps)
		want := normalizeBearing(math.Atan2(b.Lon-a.Lon, b.Lat-a.Lat) * 180 / math.Pi)
		got := p.HeadingAt(tt)
		if math.Abs(got-want) > 1e-3 {
			t.Fatalf("heading at t=%v = %v, finite difference gives %v", tt, got, want)
		}
		if got < 0 || got >= 360 {
			t.Fatalf("heading %v outside [0,360)", got)
		}
	}
}

func TestHeadingIsDeterministic(t *testing.T) {
	first := HeadingAt(jfk, lax, 42.5)
	for i := 0; i < 10; i++ {
		if got := HeadingAt(jfk, lax, 42.5); got != first {
			t.Fatalf("heading drifted: %v vs %v", got, first)
		}
	}
}

func TestHeadingAtRouteUndefined(t *testing.T) {
	if got := HeadingAtRoute(nil, &lax, 50); got != 0 {
		t.Fatalf("nil departure heading = %v, want 0", got)
	}
	if got := HeadingAtRoute(&jfk, nil, 50); got != 0 {
		t.Fatalf("nil arrival heading = %v, want 0", got)
	}
	if got := HeadingAtRoute(&jfk, &jfk, 50); got != 0 {
		t.Fatalf("degenerate route heading = %v, want 0", got)
	}
}

func TestPathSample(t *testing.T) {
	p := PathFor(jfk, lax)
	pts := p.Sample(10)
	if len(pts) != 11 {
		t.Fatalf("Sample(10) returned %d points", len(pts))
	}
	if pts[0] != p.P0 || pts[10] != p.P2 {
		t.Fatalf("sample endpoints %+v %+v", pts[0], pts[10])
	}
	if got := len(p.Sample(0)); got != 2 {
		t.Fatalf("Sample(0) returned %d points, want 2", got)
	}
}

func TestGreatCircleNM(t *testing.T) {
	got := GreatCircleNM(jfk, lax)
	if math.Abs(got-2145) > 15 {
		t.Fatalf("JFK-LAX great circle = %.1f nm, want ~2145", got)
	}
	if d := GreatCircleNM(jfk, jfk); d != 0 {
		t.Fatalf("zero-length distance = %v", d)
	}
}

func TestVerticalAndSpeedProfile(t *testing.T) {
	const cruise = 35000.0
	if got := AltitudeAt(0, cruise); got != 0 {
		t.Fatalf("altitude at departure = %v", got)
	}
	if got := AltitudeAt(2.5, cruise); got != cruise/2 {
		t.Fatalf("altitude mid-climb = %v", got)
	}
	if got := AltitudeAt(50, cruise); got != cruise {
		t.Fatalf("altitude at cruise = %v", got)
	}
	if got := AltitudeAt(100, cruise); got != 0 {
		t.Fatalf("altitude at arrival = %v", got)
	}
	if got := GroundSpeedAt(0, 450); math.Abs(got-270) > 1e-9 {
		t.Fatalf("takeoff speed = %v, want 270", got)
	}
	if got := GroundSpeedAt(50, 450); got != 450 {
		t.Fatalf("cruise speed = %v", got)
	}
	if got := GroundSpeedAt(100, 450); math.Abs(got-270) > 1e-9 {
		t.Fatalf("landing speed = %v, want 270", got)
	}
}

type countingAirports struct {
	airports map[string]model.Airport
	calls    int
}

func (c *countingAirports) Airport(code string) (model.Airport, error) {
	c.calls++
	a, ok := c.airports[code]
	if !ok {
		return model.Airport{}, fmt.Errorf("no airport %q", code)
	}
	return a, nil
}

func TestResolverCachesPaths(t *testing.T) {
	src := &countingAirports{airports: map[string]model.Airport{"JFK": jfk, "LAX": lax}}
	r := NewResolver(src, 8)

	first, err := r.Path("JFK", "LAX")
	if err != nil {
		t.Fatalf("Path error: %v", err)
	}
	calls := src.calls
	second, err := r.Path("JFK", "LAX")
	if err != nil {
		t.Fatalf("Path error: %v", err)
	}
	if second != first {
		t.Fatalf("cached path differs: %+v vs %+v", second, first)
	}
	if src.calls != calls {
		t.Fatalf("second lookup hit the source (%d calls, want %d)", src.calls, calls)
	}
}

func TestResolverUnknownAirport(t *testing.T) {
	r := NewResolver(&countingAirports{airports: map[string]model.Airport{"JFK": jfk}}, 8)
	_, err := r.Path("JFK", "XXX")
	if !errors.Is(err, ErrUnknownAirport) || !errors.Is(err, ErrTransient) {
		t.Fatalf("Path error = %v, want ErrUnknownAirport", err)
	}
	if _, err := r.Distance("XXX", "JFK"); !errors.Is(err, ErrUnknownAirport) {
		t.Fatalf("Distance error = %v, want ErrUnknownAirport", err)
	}
}
