package tilemap

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// AVCMapName is the map name that is pre-seeded with the AVC course markers.
const AVCMapName = "AVC"

// Session owns every entity placed on one open map. All methods are safe for
// concurrent use; the simulator advances the car through the same lock the
// editing methods take, so a tick never overlaps an edit.
type Session struct {
	mu        sync.RWMutex
	frame     MapFrame
	markers   []Marker
	waypoints []Waypoint
	gpsRef    *GpsReference
	car       *Car
	table     *SpeedCodeTable
	carParams CarParams
	logger    zerolog.Logger
}

// NewSession creates an empty session for frame. A nil table selects
// DefaultSpeedTable. A map named AVC starts with the AVC course markers.
func NewSession(frame MapFrame, table *SpeedCodeTable) *Session {
	if table == nil {
		table = DefaultSpeedTable()
	}
	s := &Session{
		frame:     frame,
		table:     table,
		carParams: DefaultCarParams(),
		logger:    zerolog.Nop(),
	}
	if frame.Name == AVCMapName {
		s.markers = AVCCourse()
	}
	return s
}

// SetLogger sets the logger used for fallbacks and load reports.
func (s *Session) SetLogger(logger zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger.With().Str("map", s.frame.Name).Logger()
}

// SetCarParams sets the constants used for cars placed from now on.
func (s *Session) SetCarParams(p CarParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carParams = p
	if s.car != nil {
		s.car.Params = p
	}
	return nil
}

// Frame returns the map frame.
func (s *Session) Frame() MapFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame
}

// SetDeclination updates the magnetic declination carried by the map.
func (s *Session) SetDeclination(deg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame.Declination = deg
}

// Markers returns a copy of the marker list.
func (s *Session) Markers() []Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Marker(nil), s.markers...)
}

// Waypoints returns a copy of the waypoint list.
func (s *Session) Waypoints() []Waypoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Waypoint(nil), s.waypoints...)
}

// GpsReference returns a copy of the reference, if one is placed.
func (s *Session) GpsReference() (GpsReference, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gpsRef == nil {
		return GpsReference{}, false
	}
	return *s.gpsRef, true
}

// Car returns a copy of the simulated car, if one is placed.
func (s *Session) Car() (Car, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.car == nil {
		return Car{}, false
	}
	return *s.car, true
}

// SpeedTable returns the session's speed code table.
func (s *Session) SpeedTable() *SpeedCodeTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// SetSpeedTable replaces the speed table. Codes packed with the old table
// would no longer mean the same thing, so every waypoint is removed.
func (s *Session) SetSpeedTable(t *SpeedCodeTable) error {
	if t == nil {
		return ErrEmptySpeedTable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = t
	if n := len(s.waypoints); n > 0 {
		s.logger.Info().Int("removed", n).Msg("Speed table changed, waypoints cleared")
	}
	s.waypoints = nil
	return nil
}

// AddMarker appends m and returns its index.
func (s *Session) AddMarker(m Marker) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers = append(s.markers, m)
	return len(s.markers) - 1
}

// MoveMarker relocates marker i.
func (s *Session) MoveMarker(i int, pos GeoPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.markers) || s.markers[i].Kind.IsTerminator() {
		return ErrIndexOutOfRange
	}
	s.markers[i].Position = pos
	return nil
}

// RotateMarker sets the facing angle of a Rect or Hoop marker.
func (s *Session) RotateMarker(i int, deg int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.markers) {
		return ErrIndexOutOfRange
	}
	if !s.markers[i].Kind.HasRotation() {
		return fmt.Errorf("%w: %s markers have no rotation", ErrInvalidState, s.markers[i].Kind)
	}
	deg = ((deg % 360) + 360) % 360
	s.markers[i].Rotation = &deg
	return nil
}

// DeleteMarker removes marker i. Later markers shift down by one.
func (s *Session) DeleteMarker(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.markers) {
		return ErrIndexOutOfRange
	}
	s.markers = append(s.markers[:i], s.markers[i+1:]...)
	return nil
}

// ClearMarkers removes every marker.
func (s *Session) ClearMarkers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers = nil
}

// AddWaypoint appends a waypoint at pos using the default speed label and
// returns its index.
func (s *Session) AddWaypoint(pos GeoPoint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waypoints = append(s.waypoints, Waypoint{Position: pos, SpeedLabel: s.table.Default()})
	return len(s.waypoints) - 1
}

// InsertWaypoint inserts w before index i. i may equal the current length.
func (s *Session) InsertWaypoint(i int, w Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i > len(s.waypoints) {
		return ErrIndexOutOfRange
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if w.SpeedLabel == "" {
		w.SpeedLabel = s.table.Default()
	}
	s.waypoints = append(s.waypoints, Waypoint{})
	copy(s.waypoints[i+1:], s.waypoints[i:])
	s.waypoints[i] = w
	return nil
}

// MoveWaypoint relocates waypoint i.
func (s *Session) MoveWaypoint(i int, pos GeoPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.waypoints) {
		return ErrIndexOutOfRange
	}
	s.waypoints[i].Position = pos
	return nil
}

// UpdateWaypoint replaces the attributes of waypoint i. The heading must be
// 0-359 and the label must be in the speed table.
func (s *Session) UpdateWaypoint(i int, w Waypoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.waypoints) {
		return ErrIndexOutOfRange
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if _, ok := s.table.Code(w.SpeedLabel); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSpeedLabel, w.SpeedLabel)
	}
	s.waypoints[i] = w
	return nil
}

// DeleteWaypoint removes waypoint i. Later waypoints shift down by one.
func (s *Session) DeleteWaypoint(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.waypoints) {
		return ErrIndexOutOfRange
	}
	s.waypoints = append(s.waypoints[:i], s.waypoints[i+1:]...)
	return nil
}

// ClearWaypoints removes every waypoint.
func (s *Session) ClearWaypoints() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waypoints = nil
}

// SetGpsReference places the GPS reference, replacing any previous one.
func (s *Session) SetGpsReference(marked, surveyed GeoPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gpsRef = &GpsReference{Position: marked, True: surveyed}
}

// MoveGpsReference relocates the marked position of the reference.
func (s *Session) MoveGpsReference(pos GeoPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gpsRef == nil {
		return fmt.Errorf("%w: no GPS reference", ErrInvalidState)
	}
	s.gpsRef.Position = pos
	return nil
}

// ClearGpsReference removes the GPS reference.
func (s *Session) ClearGpsReference() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gpsRef = nil
}

// PlaceCar puts a new car at pos facing heading, replacing any previous one.
func (s *Session) PlaceCar(pos GeoPoint, heading float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.car = NewCar(pos, heading, s.carParams)
}

// RotateCar sets the car's heading and reset heading.
func (s *Session) RotateCar(deg float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.car == nil {
		return ErrNoCar
	}
	s.car.SetHeading(deg)
	return nil
}

// MoveCar relocates the car and saves the location as its reset position.
func (s *Session) MoveCar(pos GeoPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.car == nil {
		return ErrNoCar
	}
	s.car.Position = pos
	s.car.ResetPosition = pos
	return nil
}

// RemoveCar removes the simulated car.
func (s *Session) RemoveCar() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.car = nil
}

// HitTest returns the entity drawn under map pixel px at zoom. Waypoints
// are tested first, then markers in list order, then the GPS reference and
// finally the car; the first hit wins.
func (s *Session) HitTest(px Pixel, zoom int) (EntityRef, bool) {
	if !ValidZoom(zoom) {
		return EntityRef{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, w := range s.waypoints {
		if selects(s.frame, w, px, zoom) {
			return EntityRef{Kind: EntityWaypoint, Index: i}, true
		}
	}
	for i, m := range s.markers {
		if m.Kind.IsTerminator() {
			continue
		}
		if selects(s.frame, m, px, zoom) {
			return EntityRef{Kind: EntityMarker, Index: i}, true
		}
	}
	if s.gpsRef != nil && selects(s.frame, *s.gpsRef, px, zoom) {
		return EntityRef{Kind: EntityGpsRef}, true
	}
	if s.car != nil && selects(s.frame, s.car, px, zoom) {
		return EntityRef{Kind: EntityCar}, true
	}
	return EntityRef{}, false
}

// LoadMarkers replaces the marker list with the parsed text. On error the
// current markers are left untouched.
func (s *Session) LoadMarkers(text string) error {
	markers, err := ParseMarkersCSV(text)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ValidateChains(markers); err != nil {
		s.logger.Warn().Err(err).Msg("Loaded markers contain a malformed chain")
	}
	s.markers = markers
	return nil
}

// MarkersCSV returns the marker list in file form.
func (s *Session) MarkersCSV() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FormatMarkersCSV(s.markers)
}

// LoadWaypoints replaces the waypoint list with the parsed text. Speed codes
// missing from the table are returned as fallbacks. On error the current
// waypoints are left untouched.
func (s *Session) LoadWaypoints(text string) ([]Fallback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waypoints, fallbacks, err := ParseWaypointsCSV(text, s.table)
	if err != nil {
		return nil, err
	}
	for _, fb := range fallbacks {
		s.logger.Warn().
			Int("waypoint", fb.Waypoint).
			Int("code", fb.Code).
			Str("label", fb.Used).
			Msg("Speed code not in table, using default label")
	}
	s.waypoints = waypoints
	return fallbacks, nil
}

// WaypointsCSV returns the waypoint list in file form.
func (s *Session) WaypointsCSV() (string, []Fallback) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, fallbacks := FormatWaypointsCSV(s.waypoints, s.table)
	for _, fb := range fallbacks {
		s.logger.Warn().Int("waypoint", fb.Waypoint).Str("label", fb.Label).Msg("Speed label not in table, saving code 0")
	}
	return text, fallbacks
}

// EncodeUpload encodes the session's navigation payload for the car.
func (s *Session) EncodeUpload() (Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return EncodeUpload(s.frame.Declination, s.gpsRef, s.waypoints, s.table, s.logger)
}

// Leg is the distance between two consecutive waypoints.
type Leg struct {
	From int     `json:"from"`
	To   int     `json:"to"`
	Feet float64 `json:"feet"`
}

// Report summarizes the waypoint route.
type Report struct {
	Legs      []Leg   `json:"legs"`
	TotalFeet float64 `json:"total_feet"`
}

// String renders the report one leg per line with 1-based waypoint numbers.
func (r Report) String() string {
	var b strings.Builder
	for _, l := range r.Legs {
		fmt.Fprintf(&b, "Distance from waypoint %d to waypoint %d is %.1f feet\n", l.From+1, l.To+1, l.Feet)
	}
	fmt.Fprintf(&b, "total distance %.1f feet\n", r.TotalFeet)
	return b.String()
}

// WaypointReport measures every leg of the route.
func (s *Session) WaypointReport() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var r Report
	for i := 1; i < len(s.waypoints); i++ {
		feet := DistanceFeet(s.waypoints[i-1].Position, s.waypoints[i].Position)
		r.Legs = append(r.Legs, Leg{From: i - 1, To: i, Feet: feet})
		r.TotalFeet += feet
	}
	return r
}

// withCar runs fn with exclusive access to the car and the live waypoint
// list. fn must not retain waypoints.
func (s *Session) withCar(fn func(car *Car, waypoints []Waypoint) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.car == nil {
		return ErrNoCar
	}
	return fn(s.car, s.waypoints)
}
