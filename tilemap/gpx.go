package tilemap

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"time"
)

// GPX represents the root GPX document structure
type GPX struct {
	XMLName xml.Name `xml:"gpx"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`
	Xmlns   string   `xml:"xmlns,attr"`
	Routes  []Route  `xml:"rte"`
	Tracks  []Track  `xml:"trk"`
}

// Track represents a GPX track
type Track struct {
	Name         string       `xml:"name"`
	TrackSegment TrackSegment `xml:"trkseg"`
}

// TrackSegment represents a segment of a GPX track
type TrackSegment struct {
	TrackPoints []GPXPoint `xml:"trkpt"`
}

// Route represents a GPX route
type Route struct {
	Name        string     `xml:"name"`
	RoutePoints []GPXPoint `xml:"rtept"`
}

// GPXPoint is a route or track point
type GPXPoint struct {
	Lat    float64    `xml:"lat,attr"`
	Lon    float64    `xml:"lon,attr"`
	Time   *time.Time `xml:"time,omitempty"`
	Course *float64   `xml:"course,omitempty"`
	Name   string     `xml:"name,omitempty"`
	Desc   string     `xml:"desc,omitempty"`
}

const gpxCreator = "go-gps-tilemap"

func newGPX() *GPX {
	return &GPX{
		Version: "1.1",
		Creator: gpxCreator,
		Xmlns:   "http://www.topografix.com/GPX/1/1",
	}
}

func encodeGPX(w io.Writer, gpx *GPX) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("failed to write XML header: %v", err)
	}
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")
	if err := encoder.Encode(gpx); err != nil {
		return fmt.Errorf("failed to encode GPX data: %v", err)
	}
	return nil
}

// WriteGPXRoute writes waypoints as a single GPX route named name. The
// speed label goes in each point's description.
func WriteGPXRoute(w io.Writer, name string, waypoints []Waypoint) error {
	route := Route{Name: name, RoutePoints: make([]GPXPoint, len(waypoints))}
	for i, wp := range waypoints {
		heading := float64(wp.Heading)
		route.RoutePoints[i] = GPXPoint{
			Lat:    wp.Position.Lat,
			Lon:    wp.Position.Lon,
			Course: &heading,
			Name:   fmt.Sprintf("WP%02d", i+1),
			Desc:   wp.SpeedLabel,
		}
	}
	gpx := newGPX()
	gpx.Routes = []Route{route}
	return encodeGPX(w, gpx)
}

// ReadGPXRoute reads waypoints from the first route of a GPX document, or
// from the first track when it has no routes. Points without a description
// in table get the default speed label.
func ReadGPXRoute(r io.Reader, table *SpeedCodeTable) ([]Waypoint, error) {
	var gpx GPX
	if err := xml.NewDecoder(r).Decode(&gpx); err != nil {
		return nil, fmt.Errorf("failed to parse GPX: %w", err)
	}

	var points []GPXPoint
	if len(gpx.Routes) > 0 && len(gpx.Routes[0].RoutePoints) > 0 {
		points = gpx.Routes[0].RoutePoints
	} else if len(gpx.Tracks) > 0 {
		points = gpx.Tracks[0].TrackSegment.TrackPoints
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no route or track points", ErrNoWaypoints)
	}

	waypoints := make([]Waypoint, len(points))
	for i, p := range points {
		label := p.Desc
		if _, ok := table.Code(label); !ok {
			label = table.Default()
		}
		var heading uint16
		if p.Course != nil {
			heading = uint16(normalizeAngle(*p.Course))
		}
		waypoints[i] = Waypoint{
			Position:   GeoPoint{Lat: p.Lat, Lon: p.Lon},
			SpeedLabel: label,
			Heading:    heading,
		}
	}
	return waypoints, nil
}

// GPXWriter records a simulated drive as a GPX track file
type GPXWriter struct {
	filename string
	gpx      *GPX
	file     *os.File
}

// NewGPXWriter creates a new GPX track writer
func NewGPXWriter(filename, trackName string) (*GPXWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create GPX file %s: %v", filename, err)
	}

	gpx := newGPX()
	gpx.Tracks = []Track{{Name: trackName}}

	return &GPXWriter{
		filename: filename,
		gpx:      gpx,
		file:     file,
	}, nil
}

// AddStatus appends the car position in st as a track point
func (w *GPXWriter) AddStatus(st CarStatus) {
	ts := st.Timestamp.UTC()
	course := st.Heading
	seg := &w.gpx.Tracks[0].TrackSegment
	seg.TrackPoints = append(seg.TrackPoints, GPXPoint{
		Lat:    st.Position.Lat,
		Lon:    st.Position.Lon,
		Time:   &ts,
		Course: &course,
	})
}

// PointCount returns the number of track points recorded
func (w *GPXWriter) PointCount() int {
	return len(w.gpx.Tracks[0].TrackSegment.TrackPoints)
}

// Close writes the track and closes the file
func (w *GPXWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := encodeGPX(w.file, w.gpx)
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}
