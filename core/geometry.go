package core

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/signalsfoundry/airline-simulator/model"
)

// EarthRadiusNM is the mean Earth radius in nautical miles.
const EarthRadiusNM = 3440.065

const (
	// curveFactor scales the control-point offset by the chord length.
	curveFactor = 0.15
	// maxCurveOffsetDeg caps the control-point offset in degrees.
	maxCurveOffsetDeg = 15.0
	// minCurveChordDeg is the shortest chord that gets a curved path.
	minCurveChordDeg = 5.0
)

var (
	// ErrTransient classifies per-flight computation failures that are
	// retried on the next tick.
	ErrTransient = errors.New("transient compute error")
	// ErrUnknownAirport is returned when a route endpoint cannot be resolved.
	ErrUnknownAirport = fmt.Errorf("%w: unknown airport", ErrTransient)
)

// LatLon is a coordinate pair in degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Path is a quadratic Bézier curve in latitude/longitude space. P0 and P2 are
// the airports; P1 is the control point.
type Path struct {
	P0, P1, P2 LatLon
}

// PathFor builds the visual route between two airports. The control point is
// pushed off the chord midpoint perpendicular to the chord, toward the pole
// of the hemisphere the midpoint sits in. Short chords stay straight.
func PathFor(dep, arr model.Airport) Path {
	p0 := LatLon{Lat: dep.Latitude, Lon: dep.Longitude}
	p2 := LatLon{Lat: arr.Latitude, Lon: arr.Longitude}
	mid := LatLon{Lat: (p0.Lat + p2.Lat) / 2, Lon: (p0.Lon + p2.Lon) / 2}

	dLat := p2.Lat - p0.Lat
	dLon := p2.Lon - p0.Lon
	chord := math.Hypot(dLat, dLon)
	if chord < minCurveChordDeg {
		return Path{P0: p0, P1: mid, P2: p2}
	}

	offset := math.Min(chord*curveFactor, maxCurveOffsetDeg)
	// Unit normal to the chord.
	nLat, nLon := -dLon/chord, dLat/chord
	poleward := 1.0
	if mid.Lat < 0 {
		poleward = -1.0
	}
	if nLat*poleward < 0 || (nLat == 0 && nLon < 0) {
		nLat, nLon = -nLat, -nLon
	}
	return Path{
		P0: p0,
		P1: LatLon{Lat: mid.Lat + nLat*offset, Lon: mid.Lon + nLon*offset},
		P2: p2,
	}
}

// At evaluates the curve at t, clamped to [0,1]. The endpoints are returned
// exactly at t=0 and t=1.
func (p Path) At(t float64) LatLon {
	t = clamp(t, 0, 1)
	u := 1 - t
	return LatLon{
		Lat: u*u*p.P0.Lat + 2*u*t*p.P1.Lat + t*t*p.P2.Lat,
		Lon: u*u*p.P0.Lon + 2*u*t*p.P1.Lon + t*t*p.P2.Lon,
	}
}

// HeadingAt returns the compass bearing of the curve tangent at t, in [0,360).
// A degenerate tangent yields 0.
func (p Path) HeadingAt(t float64) float64 {
	t = clamp(t, 0, 1)
	u := 1 - t
	dLat := 2*u*(p.P1.Lat-p.P0.Lat) + 2*t*(p.P2.Lat-p.P1.Lat)
	dLon := 2*u*(p.P1.Lon-p.P0.Lon) + 2*t*(p.P2.Lon-p.P1.Lon)
	if dLat == 0 && dLon == 0 {
		return 0
	}
	return normalizeBearing(math.Atan2(dLon, dLat) * 180 / math.Pi)
}

// Sample returns n+1 evenly spaced points along the curve, endpoints
// included. n < 1 is treated as 1.
func (p Path) Sample(n int) []LatLon {
	if n < 1 {
		n = 1
	}
	out := make([]LatLon, 0, n+1)
	for i := 0; i <= n; i++ {
		out = append(out, p.At(float64(i)/float64(n)))
	}
	return out
}

// PositionAt returns the position along the route at progress percent.
func PositionAt(dep, arr model.Airport, progress float64) (lat, lon float64) {
	pt := PathFor(dep, arr).At(progress / 100)
	return pt.Lat, pt.Lon
}

// HeadingAt returns the compass bearing along the route at progress percent.
func HeadingAt(dep, arr model.Airport, progress float64) float64 {
	return PathFor(dep, arr).HeadingAt(progress / 100)
}

// HeadingAtRoute is HeadingAt for routes whose endpoints may be unresolved.
// A missing endpoint yields 0 rather than an error.
func HeadingAtRoute(dep, arr *model.Airport, progress float64) float64 {
	if dep == nil || arr == nil {
		return 0
	}
	return HeadingAt(*dep, *arr, progress)
}

// GreatCircleNM is the haversine distance between two airports.
func GreatCircleNM(dep, arr model.Airport) float64 {
	lat1 := dep.Latitude * math.Pi / 180
	lat2 := arr.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (arr.Longitude - dep.Longitude) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusNM * math.Asin(math.Min(1, math.Sqrt(a)))
}

// AltitudeAt is a simple vertical profile: linear climb across the departing
// band, cruise, then linear descent across the arriving band.
func AltitudeAt(progress, cruiseFt float64) float64 {
	progress = clamp(progress, 0, 100)
	switch {
	case progress < DepartingUntil:
		return cruiseFt * progress / DepartingUntil
	case progress < ArrivingFrom:
		return cruiseFt
	default:
		return cruiseFt * (100 - progress) / (100 - ArrivingFrom)
	}
}

// GroundSpeedAt ramps from 60% to 100% of cruise while departing and back
// down to 60% while arriving.
func GroundSpeedAt(progress, cruiseKts float64) float64 {
	progress = clamp(progress, 0, 100)
	switch {
	case progress < DepartingUntil:
		return cruiseKts * (0.6 + 0.4*progress/DepartingUntil)
	case progress < ArrivingFrom:
		return cruiseKts
	default:
		return cruiseKts * (0.6 + 0.4*(100-progress)/(100-ArrivingFrom))
	}
}

// AirportSource is the read side of the reference knowledge base.
type AirportSource interface {
	Airport(code string) (model.Airport, error)
}

// Resolver turns airport codes into paths, caching the control points.
type Resolver struct {
	airports AirportSource
	paths    *expirable.LRU[string, Path]
}

// NewResolver builds a Resolver over src holding at most size paths.
func NewResolver(src AirportSource, size int) *Resolver {
	if size <= 0 {
		size = 256
	}
	return &Resolver{
		airports: src,
		paths:    expirable.NewLRU[string, Path](size, nil, time.Hour),
	}
}

// Path resolves both endpoints and returns the route curve.
func (r *Resolver) Path(depCode, arrCode string) (Path, error) {
	key := depCode + ">" + arrCode
	if p, ok := r.paths.Get(key); ok {
		return p, nil
	}
	dep, err := r.airports.Airport(depCode)
	if err != nil {
		return Path{}, fmt.Errorf("%w %q: %v", ErrUnknownAirport, depCode, err)
	}
	arr, err := r.airports.Airport(arrCode)
	if err != nil {
		return Path{}, fmt.Errorf("%w %q: %v", ErrUnknownAirport, arrCode, err)
	}
	p := PathFor(dep, arr)
	r.paths.Add(key, p)
	return p, nil
}

// Distance resolves both endpoints and returns the great-circle distance.
func (r *Resolver) Distance(depCode, arrCode string) (float64, error) {
	dep, err := r.airports.Airport(depCode)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrUnknownAirport, depCode, err)
	}
	arr, err := r.airports.Airport(arrCode)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrUnknownAirport, arrCode, err)
	}
	return GreatCircleNM(dep, arr), nil
}

func normalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
