package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"cleanops/pkg/errutil"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func NewPoint(lat, lng float64) *Point {
	return &Point{Lat: lat, Lng: lng}
}

// PointOf returns nil unless both coordinates are present.
func PointOf(lat, lng *float64) *Point {
	if lat == nil || lng == nil {
		return nil
	}
	return &Point{Lat: *lat, Lng: *lng}
}

func (p Point) InRange() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) &&
		p.Lat >= -90 && p.Lat <= 90 &&
		p.Lng >= -180 && p.Lng <= 180
}

func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}

func (p Point) String() string {
	return fmt.Sprintf("(%s, %s)", strconv.FormatFloat(p.Lat, 'f', -1, 64), strconv.FormatFloat(p.Lng, 'f', -1, 64))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Distance is the Haversine great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)

	// rounding can push h just past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// ValidateCoordinates rejects coordinates outside [-90,90] x [-180,180].
func ValidateCoordinates(p Point) error {
	if !p.InRange() {
		return errutil.InvalidLocation(fmt.Sprintf("coordinates %s are out of range", p), nil,
			errutil.WithDetails(errutil.Detail{Field: "lat,lng", Message: "lat must be in [-90,90] and lng in [-180,180]"}))
	}
	return nil
}

type RadiusResult struct {
	Valid    bool    `json:"valid"`
	Distance float64 `json:"distance"`
	Message  string  `json:"message,omitempty"`
}

// ValidateRadius checks that client lies within radiusMeters of property.
// Out-of-range input is an error, a distance beyond the radius is not.
func ValidateRadius(property, client Point, radiusMeters float64) (RadiusResult, error) {
	if err := ValidateCoordinates(property); err != nil {
		return RadiusResult{}, err
	}
	if err := ValidateCoordinates(client); err != nil {
		return RadiusResult{}, err
	}

	d := Distance(property, client)
	if d > radiusMeters {
		return RadiusResult{
			Valid:    false,
			Distance: d,
			Message:  fmt.Sprintf("location is %.0fm from the property, allowed radius is %.0fm", d, radiusMeters),
		}, nil
	}

	return RadiusResult{Valid: true, Distance: d}, nil
}

// DecimalPlaces counts the fractional digits of v in its shortest
// round-tripping representation.
func DecimalPlaces(v float64) int {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return len(s) - i - 1
}

// CheckPrecision is a heuristic anti-spoofing gate: it rejects (0,0) and
// coordinates with fewer than minDecimals fractional digits. A genuine fix
// that happens to land on a coarse value is rejected too.
func CheckPrecision(p Point, minDecimals int) error {
	if p.IsZero() {
		return errutil.InvalidLocation("coordinates (0, 0) are not a plausible device fix", nil)
	}

	lat, lng := DecimalPlaces(p.Lat), DecimalPlaces(p.Lng)
	if lat < minDecimals || lng < minDecimals {
		return errutil.InvalidLocation(
			fmt.Sprintf("coordinates %s have %d decimal places, at least %d required", p, min(lat, lng), minDecimals), nil)
	}

	return nil
}
