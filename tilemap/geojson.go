package tilemap

import (
	"encoding/json"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
)

// Projection selects the coordinate system used for geometry export.
type Projection int

const (
	// WGS84 exports longitude/latitude degrees (EPSG:4326).
	WGS84 Projection = iota
	// WebMercator exports metres (EPSG:3857).
	WebMercator
)

func (p Projection) xy(g GeoPoint) (float64, float64) {
	if p == WebMercator {
		return ToWebMercator(g)
	}
	return g.Lon, g.Lat
}

// ChainLineString converts a stanchion chain to a LineString. A closed chain
// repeats its first vertex at the end.
func ChainLineString(c Chain, proj Projection) (geom.LineString, error) {
	if len(c.Vertices) == 0 {
		return geom.LineString{}, nil
	}
	coords := make([]float64, 0, (len(c.Vertices)+1)*2)
	for _, v := range c.Vertices {
		x, y := proj.xy(v)
		coords = append(coords, x, y)
	}
	if c.Closed && len(c.Vertices) > 2 {
		coords = append(coords, coords[0], coords[1])
	}
	ls, err := geom.NewLineString(geom.NewSequence(coords, geom.DimXY))
	if err != nil {
		return geom.LineString{}, fmt.Errorf("%w: chain: %w", ErrInvalidState, err)
	}
	return ls, nil
}

// RouteLineString converts the waypoint route to a LineString.
func RouteLineString(waypoints []Waypoint, proj Projection) (geom.LineString, error) {
	if len(waypoints) == 0 {
		return geom.LineString{}, nil
	}
	coords := make([]float64, 0, len(waypoints)*2)
	for _, w := range waypoints {
		x, y := proj.xy(w.Position)
		coords = append(coords, x, y)
	}
	ls, err := geom.NewLineString(geom.NewSequence(coords, geom.DimXY))
	if err != nil {
		return geom.LineString{}, fmt.Errorf("%w: route: %w", ErrInvalidState, err)
	}
	return ls, nil
}

func pointGeometry(p GeoPoint, proj Projection) (geom.Geometry, error) {
	x, y := proj.xy(p)
	pt, err := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: x, Y: y}, Type: geom.DimXY})
	if err != nil {
		return geom.Geometry{}, err
	}
	return pt.AsGeometry(), nil
}

// Feature is a GeoJSON feature.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   geom.Geometry  `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

func newFeature(g geom.Geometry, props map[string]any) Feature {
	return Feature{Type: "Feature", Geometry: g, Properties: props}
}

// Features builds a GeoJSON feature collection of everything placed on the
// map: markers as points, stanchion chains and the route as line strings,
// waypoints, the GPS reference and the car as points.
func (s *Session) Features(proj Projection) (FeatureCollection, error) {
	markers := s.Markers()
	waypoints := s.Waypoints()
	fc := FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}

	addPoint := func(p GeoPoint, props map[string]any) error {
		g, err := pointGeometry(p, proj)
		if err != nil {
			return fmt.Errorf("%s: %w", props["entity"], err)
		}
		fc.Features = append(fc.Features, newFeature(g, props))
		return nil
	}

	for i, m := range markers {
		if m.Kind == PolyVertex || m.Kind.IsTerminator() {
			continue
		}
		props := map[string]any{
			"entity":   EntityMarker.String(),
			"index":    i,
			"kind":     m.Kind.String(),
			"diameter": m.Diameter,
			"color":    string(m.Color),
		}
		if m.Rotation != nil {
			props["rotation"] = *m.Rotation
		}
		if err := addPoint(m.Position, props); err != nil {
			return FeatureCollection{}, err
		}
	}

	for i, c := range Chains(markers) {
		ls, err := ChainLineString(c, proj)
		if err != nil {
			return FeatureCollection{}, err
		}
		fc.Features = append(fc.Features, newFeature(ls.AsGeometry(), map[string]any{
			"entity": "chain",
			"index":  i,
			"closed": c.Closed,
		}))
	}

	if len(waypoints) > 1 {
		ls, err := RouteLineString(waypoints, proj)
		if err != nil {
			return FeatureCollection{}, err
		}
		fc.Features = append(fc.Features, newFeature(ls.AsGeometry(), map[string]any{
			"entity": "route",
		}))
	}
	for i, w := range waypoints {
		err := addPoint(w.Position, map[string]any{
			"entity":  EntityWaypoint.String(),
			"index":   i,
			"speed":   w.SpeedLabel,
			"heading": w.Heading,
			"avoid":   w.AvoidBarrels,
			"jump":    w.JumpRamp,
			"flag":    w.RaiseFlag,
		})
		if err != nil {
			return FeatureCollection{}, err
		}
	}

	if ref, ok := s.GpsReference(); ok {
		err := addPoint(ref.Position, map[string]any{
			"entity":   EntityGpsRef.String(),
			"true_lat": ref.True.Lat,
			"true_lon": ref.True.Lon,
		})
		if err != nil {
			return FeatureCollection{}, err
		}
	}
	if car, ok := s.Car(); ok {
		err := addPoint(car.Position, map[string]any{
			"entity":  EntityCar.String(),
			"heading": car.Heading,
		})
		if err != nil {
			return FeatureCollection{}, err
		}
	}
	return fc, nil
}

// GeoJSON encodes the session's feature collection.
func (s *Session) GeoJSON(proj Projection) ([]byte, error) {
	fc, err := s.Features(proj)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fc)
}

// ChainsWKT returns every stanchion chain as WKT.
func (s *Session) ChainsWKT(proj Projection) ([]string, error) {
	chains := Chains(s.Markers())
	out := make([]string, len(chains))
	for i, c := range chains {
		ls, err := ChainLineString(c, proj)
		if err != nil {
			return nil, err
		}
		out[i] = ls.AsText()
	}
	return out, nil
}
