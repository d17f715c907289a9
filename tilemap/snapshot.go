package tilemap

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// SnapshotVersion is the current on-disk snapshot format.
const SnapshotVersion = 1

// Snapshot is the persisted form of a Session.
type Snapshot struct {
	Version      int           `msgpack:"version"`
	Frame        MapFrame      `msgpack:"frame"`
	Markers      []Marker      `msgpack:"markers"`
	Waypoints    []Waypoint    `msgpack:"waypoints"`
	GpsRef       *GpsReference `msgpack:"gps_ref,omitempty"`
	Car          *Car          `msgpack:"car,omitempty"`
	Speeds       []SpeedEntry  `msgpack:"speeds"`
	SpeedDefault string        `msgpack:"speed_default"`
}

// Snapshot captures the full session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Version:      SnapshotVersion,
		Frame:        s.frame,
		Markers:      append([]Marker(nil), s.markers...),
		Waypoints:    append([]Waypoint(nil), s.waypoints...),
		Speeds:       s.table.Entries(),
		SpeedDefault: s.table.Default(),
	}
	if s.gpsRef != nil {
		ref := *s.gpsRef
		snap.GpsRef = &ref
	}
	if s.car != nil {
		car := *s.car
		snap.Car = &car
	}
	return snap
}

// Restore replaces the session state with snap.
func (s *Session) Restore(snap Snapshot) error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}
	table, err := NewSpeedTable(snap.Speeds, snap.SpeedDefault)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = snap.Frame
	s.markers = snap.Markers
	s.waypoints = snap.Waypoints
	s.gpsRef = snap.GpsRef
	s.car = snap.Car
	if s.car != nil && s.car.Params.Validate() != nil {
		s.car.Params = s.carParams
	}
	s.table = table
	return nil
}

// MarshalSnapshot encodes snap with msgpack.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	return msgpack.Marshal(snap)
}

// UnmarshalSnapshot decodes a msgpack snapshot.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var snap Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}
	return snap, nil
}

// SessionFromSnapshot builds a new session from snap.
func SessionFromSnapshot(snap Snapshot) (*Session, error) {
	s := NewSession(snap.Frame, nil)
	if err := s.Restore(snap); err != nil {
		return nil, err
	}
	return s, nil
}
