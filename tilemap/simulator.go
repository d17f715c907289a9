package tilemap

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SimState is the simulator's run state.
type SimState int

const (
	// SimIdle means the car is stationary and no ticks are scheduled.
	SimIdle SimState = iota
	// SimRunning means the car is driving the route.
	SimRunning
	// SimStopping means the run was stopped and the car is coasting to a halt.
	SimStopping
	// SimFinished means the last waypoint was reached and the car is coasting
	// to a halt.
	SimFinished
)

func (s SimState) String() string {
	switch s {
	case SimIdle:
		return "idle"
	case SimRunning:
		return "running"
	case SimStopping:
		return "stopping"
	case SimFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SimState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DefaultSimTick is the animation tick of the simulator (about 50 Hz).
const DefaultSimTick = 20 * time.Millisecond

// SimOptions configures a Simulator.
type SimOptions struct {
	TickInterval time.Duration
	// Manual disables the internal ticker; the caller advances the car with
	// Step.
	Manual bool
	Logger *zerolog.Logger
}

// Simulator drives the session's car along its waypoints.
type Simulator struct {
	mu       sync.Mutex
	session  *Session
	interval time.Duration
	manual   bool
	logger   zerolog.Logger

	state    SimState
	run      bool // drive toward the next waypoint
	reached  bool // last tick reached its target
	finished bool
	ticks    int
	epoch    time.Time // simulated time of tick 0
	last     CarStatus

	active    bool // ticker goroutine is live
	gen       int
	cancel    context.CancelFunc
	callbacks []func(CarStatus)
}

// NewSimulator creates a simulator for session.
func NewSimulator(session *Session, opts SimOptions) (*Simulator, error) {
	if opts.TickInterval == 0 {
		opts.TickInterval = DefaultSimTick
	}
	if opts.TickInterval < 0 {
		return nil, ErrInvalidTickInterval
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Simulator{
		session:   session,
		interval:  opts.TickInterval,
		manual:    opts.Manual,
		logger:    logger.With().Str("component", "simulator").Logger(),
		epoch:     time.Now(),
		callbacks: make([]func(CarStatus), 0),
	}, nil
}

// AddCallback registers fn to receive the car status after every tick.
func (s *Simulator) AddCallback(fn func(CarStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// Start begins driving the route. It needs a placed car and at least one
// waypoint. Starting while the car is still coasting resumes the run.
func (s *Simulator) Start() error {
	if len(s.session.Waypoints()) == 0 {
		return ErrNoWaypoints
	}
	if _, ok := s.session.Car(); !ok {
		return ErrNoCar
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run {
		return ErrSimulatorAlreadyRunning
	}
	s.run = true
	s.finished = false
	if s.state == SimIdle {
		s.ticks = 0
		s.epoch = time.Now()
	}
	s.state = SimRunning
	s.logger.Info().Msg("Simulation started")

	if !s.manual && !s.active {
		s.startTicker()
	}
	return nil
}

// startTicker launches the tick goroutine. Caller holds s.mu.
func (s *Simulator) startTicker() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.active = true
	go s.loop(ctx, s.gen, time.NewTicker(s.interval))
}

// Stop ends the run. The car coasts to a halt on the following ticks; Stop
// does not wait for that.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.run {
		return
	}
	s.run = false
	s.state = SimStopping
	s.logger.Info().Msg("Simulation stopped")
}

// Reset halts the simulation and returns the car to its saved pose.
func (s *Simulator) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.active = false
	s.run = false
	s.reached = false
	s.finished = false
	s.ticks = 0
	s.state = SimIdle

	err := s.session.withCar(func(car *Car, _ []Waypoint) error {
		car.Reset()
		s.last = s.status(car)
		return nil
	})
	s.logger.Info().Msg("Simulation reset")
	return err
}

// State returns the current run state.
func (s *Simulator) State() SimState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the status published by the most recent tick.
func (s *Simulator) Status() CarStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.last
	st.State = s.state
	return st
}

// TargetWaypoint returns the 0-based index of the waypoint being driven to.
func (s *Simulator) TargetWaypoint() int {
	car, ok := s.session.Car()
	if !ok {
		return -1
	}
	return car.WayIndex - 1
}

// Step runs one tick synchronously and returns the resulting status.
func (s *Simulator) Step() (CarStatus, error) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	st, _, err := s.tick(gen)
	return st, err
}

func (s *Simulator) loop(ctx context.Context, gen int, ticker *time.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, more, err := s.tick(gen)
			if err != nil {
				s.logger.Error().Err(err).Msg("Simulation tick failed")
			}
			if !more {
				return
			}
		}
	}
}

// tick advances the car once. more reports whether further ticks are
// needed; when it is false the tick goroutine of generation gen has been
// retired.
func (s *Simulator) tick(gen int) (status CarStatus, more bool, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return CarStatus{}, false, nil
	}

	err = s.session.withCar(func(car *Car, waypoints []Waypoint) error {
		route := make([]GeoPoint, len(waypoints)+1)
		route[0] = car.Position
		for i, w := range waypoints {
			route[i+1] = w.Position
		}

		if len(waypoints) == 0 && s.run {
			s.run = false
			s.state = SimStopping
		}
		if car.WayIndex < 1 {
			car.WayIndex = 1
		}
		if car.WayIndex > len(route)-1 {
			car.WayIndex = max(1, len(route)-1)
		}

		if s.reached && s.run {
			car.WayIndex++
			if car.WayIndex >= len(route) {
				car.WayIndex = len(route) - 1
				s.run = false
				s.finished = true
				s.state = SimFinished
				s.logger.Info().Int("ticks", s.ticks).Msg("Last waypoint reached")
			}
		}

		target, prev := car.Position, car.Position
		if len(route) > 1 {
			target, prev = route[car.WayIndex], route[car.WayIndex-1]
		}
		from := car.Position
		reached, err := car.Step(target, prev, s.run)
		if err != nil {
			return err
		}
		s.reached = reached
		s.ticks++

		if !s.run && car.Speed == 0 {
			s.state = SimIdle
		}
		s.last = s.status(car)
		s.last.FeetPerSecond = DistanceFeet(from, car.Position) * float64(time.Second) / float64(s.interval)
		return nil
	})
	if err != nil {
		s.run = false
		s.state = SimIdle
	}

	more = s.state != SimIdle
	if !more && gen == s.gen && s.active {
		s.active = false
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
	}
	status = s.last
	status.State = s.state
	callbacks := slices.Clone(s.callbacks)
	s.mu.Unlock()

	if err == nil {
		for _, cb := range callbacks {
			cb(status)
		}
	}
	return status, more, err
}

// status builds a CarStatus from car. Caller holds s.mu.
func (s *Simulator) status(car *Car) CarStatus {
	return CarStatus{
		State:     s.state,
		Position:  car.Position,
		Heading:   car.Heading,
		Speed:     car.Speed,
		Target:    car.WayIndex - 1,
		Reached:   s.reached,
		Finished:  s.finished,
		Tick:      s.ticks,
		Timestamp: s.epoch.Add(time.Duration(s.ticks) * s.interval),
	}
}
