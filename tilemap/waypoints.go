package tilemap

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatWaypointsCSV writes one "lat,lon,packed" line per waypoint with the
// packed field in decimal. Labels missing from table are packed as code 0
// and reported.
func FormatWaypointsCSV(waypoints []Waypoint, table *SpeedCodeTable) (string, []Fallback) {
	var b strings.Builder
	var fallbacks []Fallback
	for i, w := range waypoints {
		packed, fb := packWaypoint(i, w, table)
		if fb != nil {
			fallbacks = append(fallbacks, *fb)
		}
		fmt.Fprintf(&b, "%s,%s,%d\n",
			strconv.FormatFloat(w.Position.Lat, 'f', 7, 64),
			strconv.FormatFloat(w.Position.Lon, 'f', 7, 64),
			packed)
	}
	return b.String(), fallbacks
}

// ParseWaypointsCSV is the inverse of FormatWaypointsCSV. A speed code with
// no label in table resolves to the table's default label and is reported
// as a Fallback.
func ParseWaypointsCSV(text string, table *SpeedCodeTable) ([]Waypoint, []Fallback, error) {
	var waypoints []Waypoint
	var fallbacks []Fallback
	for _, rec := range splitRecords(text) {
		items := strings.Split(rec.text, ",")
		if len(items) != 3 {
			return nil, nil, newParseError(rec.line, rec.text, fmt.Errorf("expected 3 fields, got %d", len(items)))
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(items[0]), 64)
		if err != nil {
			return nil, nil, newParseError(rec.line, rec.text, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(items[1]), 64)
		if err != nil {
			return nil, nil, newParseError(rec.line, rec.text, err)
		}
		cmd, err := strconv.ParseUint(strings.TrimSpace(items[2]), 10, 16)
		if err != nil {
			return nil, nil, newParseError(rec.line, rec.text, err)
		}

		avoid, jump, flag, heading, code := UnpackWaypoint(uint16(cmd))
		if heading > MaxHeading {
			return nil, nil, newParseError(rec.line, rec.text, fmt.Errorf("%w: %d", ErrInvalidHeading, heading))
		}
		label, ok := table.Label(code)
		if !ok {
			label = table.Default()
			fallbacks = append(fallbacks, Fallback{Waypoint: len(waypoints), Code: code, Used: label})
		}
		waypoints = append(waypoints, Waypoint{
			Position:     GeoPoint{Lat: lat, Lon: lon},
			SpeedLabel:   label,
			Heading:      heading,
			AvoidBarrels: avoid,
			JumpRamp:     jump,
			RaiseFlag:    flag,
		})
	}
	return waypoints, fallbacks, nil
}
