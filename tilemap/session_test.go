package tilemap

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionAVC(t *testing.T) {
	s := NewSession(MapFrame{Name: AVCMapName, Center: GeoPoint{Lat: 40.071, Lon: -105.2295}}, nil)
	assert.Equal(t, AVCCourse(), s.Markers())
	assert.Equal(t, "Slow", s.SpeedTable().Default())

	other := NewSession(MapFrame{Name: "park"}, nil)
	assert.Empty(t, other.Markers())
}

func TestSessionWaypointEditing(t *testing.T) {
	s := NewSession(MapFrame{Name: "test"}, nil)
	a := GeoPoint{Lat: 40, Lon: -105}
	b := GeoPoint{Lat: 40.001, Lon: -105}

	assert.Equal(t, 0, s.AddWaypoint(a))
	assert.Equal(t, 1, s.AddWaypoint(b))
	require.NoError(t, s.InsertWaypoint(1, Waypoint{Position: GeoPoint{Lat: 40.0005, Lon: -105}}))

	wps := s.Waypoints()
	require.Len(t, wps, 3)
	assert.Equal(t, "Slow", wps[1].SpeedLabel)
	assert.Equal(t, b, wps[2].Position)

	w := wps[1]
	w.SpeedLabel = "Warp"
	assert.True(t, errors.Is(s.UpdateWaypoint(1, w), ErrUnknownSpeedLabel))
	w.SpeedLabel = "Fast"
	w.Heading = 180
	require.NoError(t, s.UpdateWaypoint(1, w))
	assert.Equal(t, "Fast", s.Waypoints()[1].SpeedLabel)

	w.Heading = 360
	assert.True(t, errors.Is(s.UpdateWaypoint(1, w), ErrInvalidHeading))
	assert.Equal(t, uint16(180), s.Waypoints()[1].Heading)
	assert.True(t, errors.Is(s.InsertWaypoint(0, Waypoint{Heading: 600}), ErrInvalidHeading))
	assert.Len(t, s.Waypoints(), 3)

	require.NoError(t, s.MoveWaypoint(0, b))
	assert.Equal(t, b, s.Waypoints()[0].Position)

	require.NoError(t, s.DeleteWaypoint(0))
	assert.Len(t, s.Waypoints(), 2)
	assert.True(t, errors.Is(s.DeleteWaypoint(5), ErrIndexOutOfRange))
	assert.True(t, errors.Is(s.InsertWaypoint(3, Waypoint{}), ErrIndexOutOfRange))
	assert.True(t, errors.Is(s.MoveWaypoint(-1, a), ErrIndexOutOfRange))

	// the returned slice is a copy
	s.Waypoints()[0].SpeedLabel = "Stop"
	assert.Equal(t, "Fast", s.Waypoints()[0].SpeedLabel)

	s.ClearWaypoints()
	assert.Empty(t, s.Waypoints())
}

func TestSessionMarkerEditing(t *testing.T) {
	s := NewSession(MapFrame{Name: "test"}, nil)
	pos := GeoPoint{Lat: 40, Lon: -105}

	i := s.AddMarker(NewMarker(Rect, pos, 45, Blue))
	j := s.AddMarker(NewMarker(Circle, pos, 23, Red))
	k := s.AddMarker(NewTerminator(true))

	require.NoError(t, s.RotateMarker(i, -30))
	assert.Equal(t, 330, *s.Markers()[i].Rotation)
	assert.True(t, errors.Is(s.RotateMarker(j, 10), ErrInvalidState))

	moved := GeoPoint{Lat: 40.1, Lon: -105}
	require.NoError(t, s.MoveMarker(j, moved))
	assert.Equal(t, moved, s.Markers()[j].Position)
	assert.True(t, errors.Is(s.MoveMarker(k, moved), ErrIndexOutOfRange))

	require.NoError(t, s.DeleteMarker(i))
	assert.Equal(t, Circle, s.Markers()[0].Kind)

	s.ClearMarkers()
	assert.Empty(t, s.Markers())
}

func TestSessionSetSpeedTableClearsWaypoints(t *testing.T) {
	s := NewSession(MapFrame{Name: "test"}, nil)
	s.AddWaypoint(GeoPoint{Lat: 40, Lon: -105})

	table, err := NewSpeedTable([]SpeedEntry{{Label: "Go", Code: 1}}, "Go")
	require.NoError(t, err)
	require.NoError(t, s.SetSpeedTable(table))
	assert.Empty(t, s.Waypoints())
	assert.Equal(t, "Go", s.SpeedTable().Default())

	assert.True(t, errors.Is(s.SetSpeedTable(nil), ErrEmptySpeedTable))
}

func TestSessionLoadMarkersKeepsStateOnError(t *testing.T) {
	s := NewSession(MapFrame{Name: AVCMapName}, nil)
	before := s.Markers()

	err := s.LoadMarkers("CIRCLE,40,-105,23,red\nCIRCLE,40\n")
	assert.True(t, errors.Is(err, ErrParse))
	assert.Equal(t, before, s.Markers())

	// a malformed chain is loaded anyway
	require.NoError(t, s.LoadMarkers("POLY,40,-105,12,yellow\n"))
	assert.Len(t, s.Markers(), 1)
}

func TestSessionLoadWaypoints(t *testing.T) {
	s := NewSession(MapFrame{Name: "test"}, nil)
	s.AddWaypoint(GeoPoint{Lat: 1, Lon: 1})

	_, err := s.LoadWaypoints("40,-105\n")
	assert.True(t, errors.Is(err, ErrParse))
	assert.Len(t, s.Waypoints(), 1)

	fallbacks, err := s.LoadWaypoints("40.0,-105.0,34209\n40.1,-105.0,12\n")
	require.NoError(t, err)
	require.Len(t, s.Waypoints(), 2)
	assert.Equal(t, "Slow", s.Waypoints()[0].SpeedLabel)
	assert.True(t, s.Waypoints()[0].AvoidBarrels)
	assert.Equal(t, []Fallback{{Waypoint: 1, Code: 12, Used: "Slow"}}, fallbacks)

	text, _ := s.WaypointsCSV()
	assert.Equal(t, "40.0000000,-105.0000000,34209\n40.1000000,-105.0000000,1\n", text)
}

func TestSessionGpsReference(t *testing.T) {
	s := NewSession(MapFrame{Name: "test"}, nil)
	_, ok := s.GpsReference()
	assert.False(t, ok)
	assert.True(t, errors.Is(s.MoveGpsReference(GeoPoint{}), ErrInvalidState))

	marked := GeoPoint{Lat: 40, Lon: -105}
	s.SetGpsReference(marked, GeoPoint{Lat: 40.0001, Lon: -105})
	ref, ok := s.GpsReference()
	require.True(t, ok)
	assert.Equal(t, marked, ref.Position)
	assert.Equal(t, int32(1000), ref.DeltaLat())

	require.NoError(t, s.MoveGpsReference(GeoPoint{Lat: 40.0001, Lon: -105}))
	ref, _ = s.GpsReference()
	assert.Equal(t, int32(0), ref.DeltaLat())

	s.ClearGpsReference()
	_, ok = s.GpsReference()
	assert.False(t, ok)
}

func TestSessionCar(t *testing.T) {
	s := NewSession(MapFrame{Name: "test"}, nil)
	assert.True(t, errors.Is(s.RotateCar(10), ErrNoCar))
	assert.True(t, errors.Is(s.MoveCar(GeoPoint{}), ErrNoCar))

	params := DefaultCarParams()
	params.MaxSteer = 45
	require.NoError(t, s.SetCarParams(params))
	bad := params
	bad.MaxSteer = 95
	assert.Error(t, s.SetCarParams(bad))

	s.PlaceCar(GeoPoint{Lat: 40, Lon: -105}, 10)
	require.NoError(t, s.RotateCar(-10))
	moved := GeoPoint{Lat: 40.001, Lon: -105}
	require.NoError(t, s.MoveCar(moved))

	car, ok := s.Car()
	require.True(t, ok)
	assert.Equal(t, 350.0, car.Heading)
	assert.Equal(t, 350.0, car.ResetHeading)
	assert.Equal(t, moved, car.ResetPosition)
	assert.Equal(t, 45.0, car.Params.MaxSteer)

	s.RemoveCar()
	_, ok = s.Car()
	assert.False(t, ok)
}

func TestSessionHitTest(t *testing.T) {
	frame := MapFrame{Name: "test", Center: GeoPoint{Lat: 40, Lon: -105}}
	s := NewSession(frame, nil)

	spot := GeoPoint{Lat: 40.0001, Lon: -105.0001}
	s.AddMarker(NewMarker(Circle, spot, 23, Red))
	s.AddWaypoint(spot)
	s.PlaceCar(GeoPoint{Lat: 39.9999, Lon: -104.9999}, 0)

	px, err := frame.ToMapPixel(spot, MaxZoom)
	require.NoError(t, err)

	// waypoints win over markers at the same place
	ref, ok := s.HitTest(px, MaxZoom)
	require.True(t, ok)
	assert.Equal(t, EntityRef{Kind: EntityWaypoint, Index: 0}, ref)

	require.NoError(t, s.DeleteWaypoint(0))
	ref, ok = s.HitTest(px, MaxZoom)
	require.True(t, ok)
	assert.Equal(t, EntityRef{Kind: EntityMarker, Index: 0}, ref)

	carPx, err := frame.ToMapPixel(GeoPoint{Lat: 39.9999, Lon: -104.9999}, MaxZoom)
	require.NoError(t, err)
	ref, ok = s.HitTest(carPx, MaxZoom)
	require.True(t, ok)
	assert.Equal(t, EntityCar, ref.Kind)

	_, ok = s.HitTest(Pixel{X: 0, Y: 0}, MaxZoom)
	assert.False(t, ok)
	_, ok = s.HitTest(px, 3)
	assert.False(t, ok)
}

func TestSessionWaypointReport(t *testing.T) {
	s := NewSession(MapFrame{Name: "test"}, nil)
	start := GeoPoint{Lat: 40, Lon: -105}
	s.AddWaypoint(start)
	s.AddWaypoint(feetNorth(start, 100))
	s.AddWaypoint(feetNorth(start, 150))

	report := s.WaypointReport()
	require.Len(t, report.Legs, 2)
	assert.InDelta(t, 100, report.Legs[0].Feet, 0.01)
	assert.InDelta(t, 50, report.Legs[1].Feet, 0.01)
	assert.InDelta(t, 150, report.TotalFeet, 0.01)

	text := report.String()
	assert.True(t, strings.HasPrefix(text, "Distance from waypoint 1 to waypoint 2 is 100.0 feet\n"), text)
	assert.Contains(t, text, "total distance 150.0 feet")
}

func TestSessionEncodeUpload(t *testing.T) {
	s := NewSession(MapFrame{Name: "test", Declination: 8.5}, nil)
	up, err := s.EncodeUpload()
	require.NoError(t, err)
	assert.Equal(t, []string{"z\n\r", "@0909\n\r", "!\n\r"}, up.Lines)

	s.AddWaypoint(GeoPoint{Lat: 40, Lon: -105})
	up, err = s.EncodeUpload()
	require.NoError(t, err)
	assert.Equal(t, []string{"z\n\r", "@0909\n\r", "$0017D78400C16A4580000157\n\r", "!\n\r"}, up.Lines)
}
