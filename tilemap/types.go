package tilemap

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// GeoPoint is a geographic location in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat" msgpack:"lat"`
	Lon float64 `json:"lon" msgpack:"lon"`
}

// WorldPoint is a location on the continuous world plane.
type WorldPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pixel is an integer pixel location at some zoom level.
type Pixel struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// MarkerKind identifies what a Marker represents
type MarkerKind int

const (
	Circle MarkerKind = iota
	Rect
	Hoop
	PolyVertex
	PolyClose
	PolyEnd
	GpsRef
)

var markerKindNames = [...]string{"CIRCLE", "RECT", "HOOP", "POLY", "POLYCLOSE", "POLYEND", "GPSREF"}

func (k MarkerKind) String() string {
	if k < 0 || int(k) >= len(markerKindNames) {
		return fmt.Sprintf("MarkerKind(%d)", int(k))
	}
	return markerKindNames[k]
}

// ParseMarkerKind parses the upper-case tag used in marker files.
func ParseMarkerKind(s string) (MarkerKind, error) {
	for i, name := range markerKindNames {
		if strings.EqualFold(name, s) {
			return MarkerKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown marker kind %q", s)
}

// IsTerminator reports whether k ends a stanchion chain.
func (k MarkerKind) IsTerminator() bool {
	return k == PolyClose || k == PolyEnd
}

// HasRotation reports whether markers of kind k carry a facing angle.
func (k MarkerKind) HasRotation() bool {
	return k == Rect || k == Hoop
}

// ColorTag is the lower-case name of a marker color.
type ColorTag string

const (
	Red     ColorTag = "red"
	Yellow  ColorTag = "yellow"
	Green   ColorTag = "green"
	Blue    ColorTag = "blue"
	Orange  ColorTag = "orange"
	Magenta ColorTag = "magenta"
	Cyan    ColorTag = "cyan"
	Gray    ColorTag = "gray"
	White   ColorTag = "white"
	Black   ColorTag = "black"
)

var knownColors = map[ColorTag]bool{
	Red: true, Yellow: true, Green: true, Blue: true, Orange: true,
	Magenta: true, Cyan: true, Gray: true, White: true, Black: true,
}

// ParseColor resolves a color name; unknown names fall back to Orange.
func ParseColor(s string) (ColorTag, bool) {
	c := ColorTag(strings.ToLower(strings.TrimSpace(s)))
	if knownColors[c] {
		return c, true
	}
	return Orange, false
}

// Marker is a physical obstacle or a stanchion chain entry. Terminators
// (PolyClose, PolyEnd) carry no position or diameter.
type Marker struct {
	Kind     MarkerKind `json:"kind" msgpack:"kind"`
	Position GeoPoint   `json:"position" msgpack:"position"`
	Diameter int        `json:"diameter" msgpack:"diameter"` // inches
	Color    ColorTag   `json:"color" msgpack:"color"`
	Rotation *int       `json:"rotation,omitempty" msgpack:"rotation,omitempty"` // degrees, Rect and Hoop only
}

// NewMarker creates a marker without rotation.
func NewMarker(kind MarkerKind, pos GeoPoint, diameter int, color ColorTag) Marker {
	return Marker{Kind: kind, Position: pos, Diameter: diameter, Color: color}
}

// NewRotatedMarker creates a Rect or Hoop marker with a facing angle.
func NewRotatedMarker(kind MarkerKind, pos GeoPoint, diameter int, color ColorTag, rotation int) Marker {
	m := NewMarker(kind, pos, diameter, color)
	m.Rotation = &rotation
	return m
}

// NewTerminator returns a PolyClose marker when closed is true, PolyEnd
// otherwise.
func NewTerminator(closed bool) Marker {
	if closed {
		return Marker{Kind: PolyClose}
	}
	return Marker{Kind: PolyEnd}
}

// Waypoint is one stop of the vehicle's route.
type Waypoint struct {
	Position     GeoPoint `json:"position" msgpack:"position"`
	SpeedLabel   string   `json:"speed_label" msgpack:"speed_label"`
	Heading      uint16   `json:"heading" msgpack:"heading"` // 0-359
	AvoidBarrels bool     `json:"avoid_barrels" msgpack:"avoid_barrels"`
	JumpRamp     bool     `json:"jump_ramp" msgpack:"jump_ramp"`
	RaiseFlag    bool     `json:"raise_flag" msgpack:"raise_flag"`
}

// MaxHeading is the largest heading a waypoint may carry.
const MaxHeading = 359

// Validate reports whether the waypoint's heading fits the compass.
func (w Waypoint) Validate() error {
	if w.Heading > MaxHeading {
		return fmt.Errorf("%w: %d", ErrInvalidHeading, w.Heading)
	}
	return nil
}

// GpsReference marks a surveyed benchmark. Position is where it was placed on
// the map; True is the externally surveyed location.
type GpsReference struct {
	Position GeoPoint `json:"position" msgpack:"position"`
	True     GeoPoint `json:"true" msgpack:"true"`
}

// DeltaLat returns the fixed-point latitude calibration offset (true - marked).
func (g GpsReference) DeltaLat() int32 {
	return ToFixed(g.True.Lat - g.Position.Lat)
}

// DeltaLon returns the fixed-point longitude calibration offset (true - marked).
func (g GpsReference) DeltaLon() int32 {
	return ToFixed(g.True.Lon - g.Position.Lon)
}

// Marker returns the GpsRef marker view of the reference.
func (g GpsReference) Marker() Marker {
	return NewMarker(GpsRef, g.Position, gpsRefDiameter, Orange)
}

// Diameters (inches) used for hit testing entities that have no explicit size.
const (
	waypointDiameter = 25
	gpsRefDiameter   = 20
	carDiameter      = 30
)

// EntityKind tags the variants of the spatial entity union.
type EntityKind int

const (
	EntityWaypoint EntityKind = iota
	EntityMarker
	EntityGpsRef
	EntityCar
)

func (k EntityKind) String() string {
	switch k {
	case EntityWaypoint:
		return "waypoint"
	case EntityMarker:
		return "marker"
	case EntityGpsRef:
		return "gpsref"
	case EntityCar:
		return "car"
	default:
		return "unknown"
	}
}

// EntityRef addresses an entity in a Session. Index is meaningful for
// waypoints and markers only.
type EntityRef struct {
	Kind  EntityKind `json:"kind"`
	Index int        `json:"index"`
}

// Entity is the capability shared by everything placed on a map.
type Entity interface {
	Location() GeoPoint
	HitDiameter() int
}

func (m Marker) Location() GeoPoint { return m.Position }
func (m Marker) HitDiameter() int   { return m.Diameter }

func (w Waypoint) Location() GeoPoint { return w.Position }
func (w Waypoint) HitDiameter() int   { return waypointDiameter }

func (g GpsReference) Location() GeoPoint { return g.Position }
func (g GpsReference) HitDiameter() int   { return gpsRefDiameter }

// selects reports whether the map pixel px at zoom lies within e's on-screen
// radius.
func selects(frame MapFrame, e Entity, px Pixel, zoom int) bool {
	loc, err := frame.ToMapPixel(e.Location(), zoom)
	if err != nil {
		return false
	}
	dx := float64(loc.X - px.X)
	dy := float64(loc.Y - px.Y)
	return int(math.Sqrt(dx*dx+dy*dy)) < e.HitDiameter()/scaleFactor(zoom)
}

// Fallback records a speed label or code that was not found in the speed
// table and what was used instead.
type Fallback struct {
	Waypoint int    `json:"waypoint"`
	Label    string `json:"label,omitempty"`
	Code     int    `json:"code"`
	Used     string `json:"used"`
}

// CarStatus is a snapshot of the simulated car published every tick.
type CarStatus struct {
	State         SimState  `json:"state"`
	Position      GeoPoint  `json:"position"`
	Heading       float64   `json:"heading"`
	Speed         float64   `json:"speed"`
	FeetPerSecond float64   `json:"feet_per_second"`
	Target        int       `json:"target"` // 0-based waypoint index
	Reached       bool      `json:"reached"`
	Finished      bool      `json:"finished"` // the route was completed
	Tick          int       `json:"tick"`
	Timestamp     time.Time `json:"timestamp"`
}
