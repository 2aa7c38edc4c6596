package conflict

import (
	"errors"
	"fmt"

	"cleanops/pkg/errutil"
	"cleanops/services/geo"
)

type Type string

const (
	MissingPhotos   Type = "missing_photos"
	GPSMismatch     Type = "gps_mismatch"
	GPSPrecisionLow Type = "gps_precision_low"
	GPSInvalid      Type = "gps_invalid"
	AccessDenied    Type = "access_denied"
)

// IsGPS reports whether t is one of the location conflicts.
func (t Type) IsGPS() bool {
	return t == GPSMismatch || t == GPSPrecisionLow || t == GPSInvalid
}

type Conflict struct {
	Type       Type     `json:"type"`
	Message    string   `json:"message"`
	Distance   *float64 `json:"distance,omitempty"`
	PhotoCount *int64   `json:"photo_count,omitempty"`
}

// Input is everything the detector looks at. Property and End are nil when
// the coordinates are unknown.
type Input struct {
	PhotoCount   int64
	AccessDenied bool
	Property     *geo.Point
	End          *geo.Point

	// Resolved conflict families are skipped.
	GPSResolved    bool
	PhotosResolved bool
}

type Options struct {
	RadiusMeters   float64
	MinDecimals    int
	CheckPrecision bool
}

type Detector struct {
	opts Options
}

func NewDetector(opts Options) *Detector {
	return &Detector{opts: opts}
}

// Detect returns every conflict for in, in a stable order. The result is
// empty, never nil, when the job may complete automatically.
func (d *Detector) Detect(in Input) []Conflict {
	out := make([]Conflict, 0, 3)

	if !in.PhotosResolved && in.PhotoCount <= 0 {
		n := in.PhotoCount
		out = append(out, Conflict{
			Type:       MissingPhotos,
			Message:    "no photos were uploaded for this job",
			PhotoCount: &n,
		})
	}

	if !in.GPSResolved {
		out = append(out, d.gps(in.Property, in.End)...)
	}

	if in.AccessDenied {
		out = append(out, Conflict{
			Type:    AccessDenied,
			Message: "cleaner reported that access to the property was denied",
		})
	}

	return out
}

func (d *Detector) gps(property, end *geo.Point) []Conflict {
	switch {
	case property == nil:
		return []Conflict{{Type: GPSInvalid, Message: "property has no coordinates on file"}}
	case end == nil:
		return []Conflict{{Type: GPSInvalid, Message: "no completion location was recorded"}}
	case !property.InRange() || !end.InRange():
		return []Conflict{{Type: GPSInvalid, Message: fmt.Sprintf("coordinates %s are out of range", end)}}
	}

	var out []Conflict
	if d.opts.CheckPrecision {
		if err := geo.CheckPrecision(*end, d.opts.MinDecimals); err != nil {
			out = append(out, Conflict{Type: GPSPrecisionLow, Message: precisionMessage(err)})
		}
	}

	res, _ := geo.ValidateRadius(*property, *end, d.opts.RadiusMeters)
	if !res.Valid {
		dist := res.Distance
		out = append(out, Conflict{Type: GPSMismatch, Message: res.Message, Distance: &dist})
	}

	return out
}

func precisionMessage(err error) string {
	var be errutil.BaseError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}

func Has(cs []Conflict, t Type) bool {
	for _, c := range cs {
		if c.Type == t {
			return true
		}
	}
	return false
}

func HasGPS(cs []Conflict) bool {
	for _, c := range cs {
		if c.Type.IsGPS() {
			return true
		}
	}
	return false
}

func Types(cs []Conflict) []Type {
	out := make([]Type, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Type)
	}
	return out
}

func TypeStrings(cs []Conflict) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, string(c.Type))
	}
	return out
}
