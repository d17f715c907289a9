package tilemap

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// feetNorth returns the point d feet due north of p.
func feetNorth(p GeoPoint, d float64) GeoPoint {
	return GeoPoint{Lat: p.Lat + d/feetPerKm/earthRadiusKm*180/3.141592653589793, Lon: p.Lon}
}

// feetEast returns the point d feet due east of p.
func feetEast(p GeoPoint, d float64) GeoPoint {
	k := earthRadiusKm * 0.7660444431 // cos(40 deg)
	return GeoPoint{Lat: p.Lat, Lon: p.Lon + d/feetPerKm/k*180/3.141592653589793}
}

func createTestSession(route ...GeoPoint) *Session {
	s := NewSession(MapFrame{Name: "test", Center: GeoPoint{Lat: 40, Lon: -105}}, nil)
	for _, p := range route {
		s.AddWaypoint(p)
	}
	return s
}

func TestNewSimulatorRejectsBadInterval(t *testing.T) {
	_, err := NewSimulator(createTestSession(), SimOptions{TickInterval: -time.Second})
	if !errors.Is(err, ErrInvalidTickInterval) {
		t.Errorf("Expected ErrInvalidTickInterval, got %v", err)
	}
}

func TestSimulatorStartPreconditions(t *testing.T) {
	start := GeoPoint{Lat: 40, Lon: -105}

	sim, _ := NewSimulator(createTestSession(), SimOptions{Manual: true})
	if err := sim.Start(); !errors.Is(err, ErrNoWaypoints) {
		t.Errorf("Expected ErrNoWaypoints, got %v", err)
	}

	sim, _ = NewSimulator(createTestSession(start), SimOptions{Manual: true})
	if err := sim.Start(); !errors.Is(err, ErrNoCar) {
		t.Errorf("Expected ErrNoCar, got %v", err)
	}

	session := createTestSession(start)
	session.PlaceCar(start, 0)
	sim, _ = NewSimulator(session, SimOptions{Manual: true})
	if err := sim.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sim.Start(); !errors.Is(err, ErrSimulatorAlreadyRunning) {
		t.Errorf("Expected ErrSimulatorAlreadyRunning, got %v", err)
	}
	if sim.State() != SimRunning {
		t.Errorf("Expected state running, got %s", sim.State())
	}
}

func TestSimulatorStraightRoute(t *testing.T) {
	frame := MapFrame{Name: AVCMapName, Center: GeoPoint{Lat: 40.071, Lon: -105.2295}}
	start := frame.Center
	end := feetNorth(start, 30)
	session := NewSession(frame, nil)
	session.AddWaypoint(start)
	session.AddWaypoint(end)
	session.PlaceCar(start, 0)

	// the car constants are tuned for the map drawn at zoom 21
	px, err := frame.ToMapPixel(start, MaxZoom)
	if err != nil {
		t.Fatalf("ToMapPixel failed: %v", err)
	}
	if px != (Pixel{X: 4096, Y: 4096}) {
		t.Fatalf("Expected the car at the map center, got %v", px)
	}

	sim, err := NewSimulator(session, SimOptions{Manual: true})
	if err != nil {
		t.Fatalf("NewSimulator failed: %v", err)
	}
	var statuses []CarStatus
	sim.AddCallback(func(st CarStatus) {
		statuses = append(statuses, st)
	})
	if err := sim.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	finishedAt := -1
	var st CarStatus
	for i := 0; i < 1000; i++ {
		st, err = sim.Step()
		if err != nil {
			t.Fatalf("Step %d failed: %v", i, err)
		}
		if st.Finished && finishedAt < 0 {
			finishedAt = st.Tick
		}
		if st.State == SimIdle {
			break
		}
	}

	if finishedAt < 52 || finishedAt > 54 {
		t.Errorf("Expected the route to finish after 53 ticks, finished at %d", finishedAt)
	}
	if st.State != SimIdle {
		t.Errorf("Expected the car to coast to a stop, state %s", st.State)
	}
	if st.Speed != 0 {
		t.Errorf("Expected speed 0 at the end, got %g", st.Speed)
	}
	if got := sim.TargetWaypoint(); got != 1 {
		t.Errorf("Expected target waypoint 1, got %d", got)
	}
	if len(statuses) != st.Tick {
		t.Errorf("Expected one callback per tick, got %d for %d ticks", len(statuses), st.Tick)
	}
	if DistanceFeet(st.Position, end) > 15 {
		t.Errorf("Car stopped %.1f feet from the last waypoint", DistanceFeet(st.Position, end))
	}

	// timestamps advance by the tick interval
	d := statuses[1].Timestamp.Sub(statuses[0].Timestamp)
	if d != DefaultSimTick {
		t.Errorf("Expected timestamps %v apart, got %v", DefaultSimTick, d)
	}
}

func TestSimulatorTurningRoute(t *testing.T) {
	start := GeoPoint{Lat: 40, Lon: -105}
	east := feetEast(start, 30)
	back := feetNorth(east, 30)

	session := createTestSession(start, east, back)
	session.PlaceCar(start, 0)
	sim, _ := NewSimulator(session, SimOptions{Manual: true})
	if err := sim.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	var st CarStatus
	var err error
	for i := 0; i < 5000 && !st.Finished; i++ {
		st, err = sim.Step()
		if err != nil {
			t.Fatalf("Step %d failed: %v", i, err)
		}
	}
	if !st.Finished {
		t.Fatalf("Route not finished after %d ticks", st.Tick)
	}
	if st.Target != 2 {
		t.Errorf("Expected final target 2, got %d", st.Target)
	}
}

func TestSimulatorStopAndReset(t *testing.T) {
	start := GeoPoint{Lat: 40, Lon: -105}
	session := createTestSession(start, feetNorth(start, 300))
	session.PlaceCar(start, 0)
	sim, _ := NewSimulator(session, SimOptions{Manual: true})

	if err := sim.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		sim.Step()
	}
	sim.Stop()
	if sim.State() != SimStopping {
		t.Errorf("Expected stopping, got %s", sim.State())
	}

	st, _ := sim.Step()
	if st.State != SimStopping {
		t.Errorf("Expected the car to coast while stopping, got %s", st.State)
	}
	for i := 0; i < 100 && st.State != SimIdle; i++ {
		st, _ = sim.Step()
	}
	if st.State != SimIdle || st.Speed != 0 {
		t.Errorf("Expected idle at rest, got %s at %g", st.State, st.Speed)
	}

	if err := sim.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	car, _ := session.Car()
	if car.Position != start || car.Speed != 0 || car.WayIndex != 1 {
		t.Errorf("Reset did not restore the car: %+v", car)
	}
	if sim.Status().Tick != 0 {
		t.Errorf("Expected tick count reset, got %d", sim.Status().Tick)
	}
}

func TestSimulatorTicker(t *testing.T) {
	start := GeoPoint{Lat: 40, Lon: -105}
	session := createTestSession(start, feetNorth(start, 30))
	session.PlaceCar(start, 0)
	sim, _ := NewSimulator(session, SimOptions{TickInterval: time.Millisecond})

	var once sync.Once
	done := make(chan struct{})
	sim.AddCallback(func(st CarStatus) {
		if st.State == SimIdle {
			once.Do(func() { close(done) })
		}
	})
	if err := sim.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Simulation did not finish")
	}
	if !sim.Status().Finished {
		t.Error("Expected the route to be finished")
	}
}
