package tilemap

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseMarkersCSV parses the marker file format:
//
//	KIND,lat,lon,diameter,color[,rotation]
//
// A line holding a single token is a chain terminator: POLYEND ends the
// chain open, anything else closes it. Unknown colors fall back to orange.
// Any malformed line fails the whole parse.
func ParseMarkersCSV(text string) ([]Marker, error) {
	var markers []Marker
	for _, rec := range splitRecords(text) {
		m, err := parseMarkerLine(rec)
		if err != nil {
			return nil, err
		}
		markers = append(markers, m)
	}
	return markers, nil
}

func parseMarkerLine(rec record) (Marker, error) {
	items := strings.Split(rec.text, ",")
	for i := range items {
		items[i] = strings.TrimSpace(items[i])
	}

	if len(items) == 1 {
		return NewTerminator(!strings.EqualFold(items[0], PolyEnd.String())), nil
	}
	if len(items) < 5 || len(items) > 6 {
		return Marker{}, newParseError(rec.line, rec.text, fmt.Errorf("expected 5 or 6 fields, got %d", len(items)))
	}

	kind, err := ParseMarkerKind(items[0])
	if err != nil {
		return Marker{}, newParseError(rec.line, rec.text, err)
	}
	lat, err := strconv.ParseFloat(items[1], 64)
	if err != nil {
		return Marker{}, newParseError(rec.line, rec.text, err)
	}
	lon, err := strconv.ParseFloat(items[2], 64)
	if err != nil {
		return Marker{}, newParseError(rec.line, rec.text, err)
	}
	diameter, err := strconv.Atoi(items[3])
	if err != nil {
		return Marker{}, newParseError(rec.line, rec.text, err)
	}
	color, _ := ParseColor(items[4])

	pos := GeoPoint{Lat: lat, Lon: lon}
	if len(items) == 6 {
		rotation, err := strconv.Atoi(items[5])
		if err != nil {
			return Marker{}, newParseError(rec.line, rec.text, err)
		}
		return NewRotatedMarker(kind, pos, diameter, color, rotation), nil
	}
	return NewMarker(kind, pos, diameter, color), nil
}

// FormatMarkersCSV is the inverse of ParseMarkersCSV.
func FormatMarkersCSV(markers []Marker) string {
	var b strings.Builder
	for _, m := range markers {
		b.WriteString(m.Kind.String())
		if !m.Kind.IsTerminator() {
			fmt.Fprintf(&b, ",%s,%s,%d,%s",
				strconv.FormatFloat(m.Position.Lat, 'f', -1, 64),
				strconv.FormatFloat(m.Position.Lon, 'f', -1, 64),
				m.Diameter, m.Color)
			if m.Rotation != nil {
				fmt.Fprintf(&b, ",%d", *m.Rotation)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ChainError locates a malformed stanchion chain.
type ChainError struct {
	Index int // marker index of the first vertex, or of the stray terminator
	Err   error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("marker %d: %v", e.Index, e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// ValidateChains checks that every run of PolyVertex markers is followed by
// exactly one terminator before a non-vertex marker or the end of the list.
func ValidateChains(markers []Marker) error {
	start := -1
	for i, m := range markers {
		switch {
		case m.Kind == PolyVertex:
			if start < 0 {
				start = i
			}
		case m.Kind.IsTerminator():
			if start < 0 {
				return &ChainError{Index: i, Err: ErrStrayTerminator}
			}
			start = -1
		default:
			if start >= 0 {
				return &ChainError{Index: start, Err: ErrUnterminatedChain}
			}
		}
	}
	if start >= 0 {
		return &ChainError{Index: start, Err: ErrUnterminatedChain}
	}
	return nil
}

// Chain is one stanchion run resolved from a marker list.
type Chain struct {
	Vertices []GeoPoint
	Closed   bool
}

// Chains groups the vertex runs in markers. An unterminated trailing run is
// returned as an open chain.
func Chains(markers []Marker) []Chain {
	var chains []Chain
	var cur []GeoPoint
	for _, m := range markers {
		switch {
		case m.Kind == PolyVertex:
			cur = append(cur, m.Position)
		case m.Kind.IsTerminator():
			if len(cur) > 0 {
				chains = append(chains, Chain{Vertices: cur, Closed: m.Kind == PolyClose})
			}
			cur = nil
		}
	}
	if len(cur) > 0 {
		chains = append(chains, Chain{Vertices: cur})
	}
	return chains
}

// AVCCourse returns the obstacle layout published for the 2013 Sparkfun
// Autonomous Vehicle Competition: four barrels, the stanchion boundary, the
// hoop, the ramp and the start box.
func AVCCourse() []Marker {
	return []Marker{
		NewMarker(Circle, GeoPoint{40.0710390, -105.2299660}, 23, Red),
		NewMarker(Circle, GeoPoint{40.0709820, -105.2299570}, 23, Red),
		NewMarker(Circle, GeoPoint{40.0709009, -105.2299000}, 23, Red),
		NewMarker(Circle, GeoPoint{40.0708050, -105.2298690}, 23, Red),

		NewMarker(PolyVertex, GeoPoint{40.0712589, -105.2300260}, 12, Yellow),
		NewMarker(PolyVertex, GeoPoint{40.0707559, -105.2297179}, 12, Yellow),
		NewMarker(PolyVertex, GeoPoint{40.0709769, -105.2291910}, 12, Yellow),
		NewMarker(PolyVertex, GeoPoint{40.0713319, -105.2294660}, 12, Yellow),
		NewTerminator(true),

		NewRotatedMarker(Hoop, GeoPoint{40.0708299, -105.2295309}, 60, Green, 60),
		NewRotatedMarker(Rect, GeoPoint{40.0710810, -105.2291989}, 45, Blue, 60),
		NewMarker(Circle, GeoPoint{40.0713749, -105.2297889}, 30, White),
	}
}
