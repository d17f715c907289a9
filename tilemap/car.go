package tilemap

import (
	"fmt"
	"math"
)

// CarParams holds the calibration constants of the simulated car. All
// lengths and speeds are in world-plane units per tick.
type CarParams struct {
	Length          float64 `json:"length" msgpack:"length" mapstructure:"length"`
	InterceptRadius float64 `json:"intercept_radius" msgpack:"intercept_radius" mapstructure:"intercept_radius"`
	WaypointRadius  float64 `json:"waypoint_radius" msgpack:"waypoint_radius" mapstructure:"waypoint_radius"`
	Accel           float64 `json:"accel" msgpack:"accel" mapstructure:"accel"`
	Decel           float64 `json:"decel" msgpack:"decel" mapstructure:"decel"`
	MaxSpeed        float64 `json:"max_speed" msgpack:"max_speed" mapstructure:"max_speed"`
	MaxSteer        float64 `json:"max_steer" msgpack:"max_steer" mapstructure:"max_steer"` // degrees
}

const defaultCarLength = 0.0000057419

// DefaultCarParams returns the constants tuned for a 1/10 scale car drawn at
// the maximum zoom.
func DefaultCarParams() CarParams {
	return CarParams{
		Length:          defaultCarLength,
		InterceptRadius: 0.0000305325,
		WaypointRadius:  0.0000305325,
		Accel:           defaultCarLength / 150,
		Decel:           defaultCarLength / 150,
		MaxSpeed:        defaultCarLength / 4,
		MaxSteer:        30,
	}
}

// Validate checks that every constant is usable.
func (p CarParams) Validate() error {
	if p.Length <= 0 || p.InterceptRadius <= 0 || p.WaypointRadius <= 0 ||
		p.Accel <= 0 || p.Decel <= 0 || p.MaxSpeed <= 0 {
		return ErrInvalidCarParams
	}
	if p.MaxSteer <= 0 || p.MaxSteer >= 90 {
		return ErrInvalidMaxSteer
	}
	return nil
}

// Car is the simulated vehicle. WayIndex is the index into the per-tick
// list [car position, waypoint 0, waypoint 1, ...] of the point being
// driven to, so it starts at 1.
type Car struct {
	Position      GeoPoint  `json:"position" msgpack:"position"`
	Heading       float64   `json:"heading" msgpack:"heading"` // degrees, 0 is north
	Speed         float64   `json:"speed" msgpack:"speed"`
	ResetPosition GeoPoint  `json:"reset_position" msgpack:"reset_position"`
	ResetHeading  float64   `json:"reset_heading" msgpack:"reset_heading"`
	WayIndex      int       `json:"way_index" msgpack:"way_index"`
	Params        CarParams `json:"params" msgpack:"params"`
}

// NewCar places a car at pos facing heading. The pose is also saved as the
// reset pose.
func NewCar(pos GeoPoint, heading float64, params CarParams) *Car {
	heading = normalizeAngle(heading)
	return &Car{
		Position:      pos,
		Heading:       heading,
		ResetPosition: pos,
		ResetHeading:  heading,
		WayIndex:      1,
		Params:        params,
	}
}

func (c *Car) Location() GeoPoint { return c.Position }
func (c *Car) HitDiameter() int   { return carDiameter }

// Reset returns the car to its saved pose, stopped, heading for the first
// waypoint.
func (c *Car) Reset() {
	c.Position = c.ResetPosition
	c.Heading = c.ResetHeading
	c.Speed = 0
	c.WayIndex = 1
}

// SetHeading turns the car in place and saves the new heading as the reset
// heading.
func (c *Car) SetHeading(deg float64) {
	c.Heading = normalizeAngle(deg)
	c.ResetHeading = c.Heading
}

// Step advances the car by one tick along the segment prev->target and
// reports whether the target has been reached. Speed ramps up while running
// and decays otherwise.
func (c *Car) Step(target, prev GeoPoint, running bool) (bool, error) {
	if c.Speed < 0 || math.IsNaN(c.Speed) {
		return false, fmt.Errorf("%w: negative speed %v", ErrInvalidState, c.Speed)
	}
	p := c.Params

	a := GeoToWorld(prev)
	b := GeoToWorld(target)
	pos := GeoToWorld(c.Position)

	seg := math.Hypot(b.X-a.X, b.Y-a.Y)
	steer := 0.0
	if seg > 0 {
		aim := intersect(a, b, pos, p.InterceptRadius)
		steer = clamp(angleDiff(angleTo(pos, aim), c.Heading), -p.MaxSteer, p.MaxSteer)
	}

	if steer == 0 {
		h := degreesToRadians(c.Heading)
		pos.X += math.Sin(h) * c.Speed
		pos.Y -= math.Cos(h) * c.Speed
	} else {
		radius := p.Length / math.Tan(degreesToRadians(math.Abs(steer)))
		pRad := c.Heading
		if steer > 0 {
			pRad = normalizeAngle(c.Heading + 180)
		}
		pRad = degreesToRadians(pRad)
		pivot := WorldPoint{X: pos.X - math.Cos(pRad)*radius, Y: pos.Y - math.Sin(pRad)*radius}

		turn := c.Speed / (2 * math.Pi * radius) * 360
		if steer < 0 {
			turn = -turn
		}
		pos = rotatePoint(pos, pivot, turn)
		c.Heading = normalizeAngle(c.Heading + turn)
	}
	c.Position = WorldToGeo(pos)

	if running {
		c.Speed = math.Min(p.MaxSpeed, c.Speed+p.Accel)
	} else {
		c.Speed = math.Max(0, c.Speed-p.Decel)
	}

	return remainingDistance(a, b, pos) < p.WaypointRadius, nil
}

// intersect returns the point where the line a->b leaves a circle of radius r
// around c, heading toward b. When the line misses the circle the point on
// the line closest to c is returned instead.
func intersect(a, b, c WorldPoint, r float64) WorldPoint {
	lab := math.Hypot(b.X-a.X, b.Y-a.Y)
	dvx := (b.X - a.X) / lab
	dvy := (b.Y - a.Y) / lab

	t := dvx*(c.X-a.X) + dvy*(c.Y-a.Y)
	e := WorldPoint{X: t*dvx + a.X, Y: t*dvy + a.Y}
	lec := math.Hypot(e.X-c.X, e.Y-c.Y)
	if lec < r {
		dt := math.Sqrt(r*r - lec*lec)
		return WorldPoint{X: (t+dt)*dvx + a.X, Y: (t+dt)*dvy + a.Y}
	}
	return e
}

// remainingDistance is the distance left to b measured along a->b from the
// projection of c. A zero-length segment is already reached.
func remainingDistance(a, b, c WorldPoint) float64 {
	lab := math.Hypot(b.X-a.X, b.Y-a.Y)
	if lab == 0 {
		return 0
	}
	t := ((b.X-a.X)*(c.X-a.X) + (b.Y-a.Y)*(c.Y-a.Y)) / lab
	return lab - t
}

// angleTo returns the compass bearing from p to q on the world plane, where
// y grows southward.
func angleTo(p, q WorldPoint) float64 {
	return normalizeAngle(radiansToDegrees(math.Atan2(q.X-p.X, p.Y-q.Y)))
}

// angleDiff returns to-from normalized into (-180, 180].
func angleDiff(to, from float64) float64 {
	d := normalizeAngle(to - from)
	if d > 180 {
		d -= 360
	}
	return d
}

// normalizeAngle maps deg into [0, 360).
func normalizeAngle(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

func rotatePoint(p, center WorldPoint, deg float64) WorldPoint {
	rad := degreesToRadians(deg)
	cos, sin := math.Cos(rad), math.Sin(rad)
	dx, dy := p.X-center.X, p.Y-center.Y
	return WorldPoint{
		X: cos*dx - sin*dy + center.X,
		Y: sin*dx + cos*dy + center.Y,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
