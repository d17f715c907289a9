package tilemap

import (
	"math"
	"strings"

	"github.com/rs/zerolog"
)

// LineEnd terminates every upload and bump protocol line.
const LineEnd = "\n\r"

const fixedScale = 10_000_000.0

// Packed waypoint field layout.
const (
	packAvoid     = 0x8000
	packJump      = 0x4000
	packFlag      = 0x2000
	packHeadShift = 4
	packHeadMask  = 0x1FF
	packCodeMask  = 0x0F
)

// ToFixed converts degrees to the signed fixed-point form sent to the car
// (1e-7 degree units).
func ToFixed(deg float64) int32 {
	return int32(math.Round(deg * fixedScale))
}

// FromFixed is the inverse of ToFixed.
func FromFixed(v int32) float64 {
	return float64(v) / fixedScale
}

// HexWriter builds one protocol line. Every hex digit written is added to a
// running checksum that starts at zero for each line.
type HexWriter struct {
	buf   strings.Builder
	check byte
}

// NewHexWriter starts a line with the given prefix character(s).
func NewHexWriter(prefix string) *HexWriter {
	w := &HexWriter{}
	w.buf.WriteString(prefix)
	return w
}

// Hex appends the low digits*4 bits of val, most significant nibble first.
// Negative values are written in two's complement.
func (w *HexWriter) Hex(val int64, digits int) *HexWriter {
	for i := digits - 1; i >= 0; i-- {
		d := byte((val >> (uint(i) * 4)) & 0x0F)
		w.check += d
		w.buf.WriteByte(hexDigits[d])
	}
	return w
}

// Checksum returns the nibble sum accumulated so far.
func (w *HexWriter) Checksum() byte {
	return w.check
}

// Line appends the checksum and line terminator and returns the line.
func (w *HexWriter) Line() string {
	check := w.check
	w.Hex(int64(check), 2)
	w.buf.WriteString(LineEnd)
	return w.buf.String()
}

const hexDigits = "0123456789ABCDEF"

// PackWaypoint builds the 16-bit waypoint field from its parts. Heading is
// masked to 9 bits and code to 4 bits.
func PackWaypoint(avoid, jump, flag bool, heading uint16, code int) uint16 {
	v := uint16(code) & packCodeMask
	v |= (heading & packHeadMask) << packHeadShift
	if avoid {
		v |= packAvoid
	}
	if jump {
		v |= packJump
	}
	if flag {
		v |= packFlag
	}
	return v
}

// UnpackWaypoint splits a packed waypoint field.
func UnpackWaypoint(v uint16) (avoid, jump, flag bool, heading uint16, code int) {
	avoid = v&packAvoid != 0
	jump = v&packJump != 0
	flag = v&packFlag != 0
	heading = (v >> packHeadShift) & packHeadMask
	code = int(v & packCodeMask)
	return
}

// packWaypoint looks up w's speed code in table. A label missing from the
// table packs as code 0 and is reported through the returned Fallback.
func packWaypoint(idx int, w Waypoint, table *SpeedCodeTable) (uint16, *Fallback) {
	code, ok := table.Code(w.SpeedLabel)
	var fb *Fallback
	if !ok {
		fb = &Fallback{Waypoint: idx, Label: w.SpeedLabel, Code: 0}
		if l, found := table.Label(0); found {
			fb.Used = l
		}
	}
	return PackWaypoint(w.AvoidBarrels, w.JumpRamp, w.RaiseFlag, w.Heading, code), fb
}

// Upload is the encoded payload for one map.
type Upload struct {
	Lines     []string
	Fallbacks []Fallback
}

// EncodeUpload serializes declination, GPS reference and waypoints into the
// line sequence z, @, [#], $..., !. An empty route still sends the header
// and terminator, which clears the route stored on the car.
func EncodeUpload(declination float64, ref *GpsReference, waypoints []Waypoint, table *SpeedCodeTable, logger zerolog.Logger) (Upload, error) {
	if len(waypoints) > 0xFF {
		return Upload{}, ErrIndexOutOfRange
	}
	if table == nil {
		table = DefaultSpeedTable()
	}

	var up Upload
	up.Lines = append(up.Lines, "z"+LineEnd)
	up.Lines = append(up.Lines, NewHexWriter("@").Hex(int64(math.Round(declination)), 2).Line())

	if ref != nil {
		up.Lines = append(up.Lines, NewHexWriter("#").
			Hex(int64(ref.DeltaLat()), 8).
			Hex(int64(ref.DeltaLon()), 8).
			Hex(int64(ToFixed(ref.Position.Lat)), 8).
			Hex(int64(ToFixed(ref.Position.Lon)), 8).
			Hex(int64(ToFixed(ref.True.Lat)), 8).
			Hex(int64(ToFixed(ref.True.Lon)), 8).
			Line())
	}

	for i, w := range waypoints {
		packed, fb := packWaypoint(i, w, table)
		if fb != nil {
			logger.Warn().
				Int("waypoint", i).
				Str("label", fb.Label).
				Msg("Speed label not in table, sending code 0")
			up.Fallbacks = append(up.Fallbacks, *fb)
		}
		up.Lines = append(up.Lines, encodeWaypointLine(i, w, packed))
	}

	up.Lines = append(up.Lines, "!"+LineEnd)
	return up, nil
}

func encodeWaypointLine(idx int, w Waypoint, packed uint16) string {
	return NewHexWriter("$").
		Hex(int64(idx), 2).
		Hex(int64(ToFixed(w.Position.Lat)), 8).
		Hex(int64(ToFixed(w.Position.Lon)), 8).
		Hex(int64(packed), 4).
		Line()
}
