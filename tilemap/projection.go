package tilemap

import (
	"math"

	"github.com/wroge/wgs84"
)

/*
 * Locations can be expressed in three forms:
 *
 *   Geographic   latitude/longitude in decimal degrees (GeoPoint)
 *   World        continuous Web-Mercator plane, 256x256 units for the whole
 *                globe, independent of zoom (WorldPoint)
 *   Pixel        integer pixels at a zoom level, world * 2^zoom (Pixel)
 */

const (
	tileSize           = 256
	pixelsPerLonDegree = tileSize / 360.0
	pixelsPerLonRadian = tileSize / (2.0 * math.Pi)
	originX            = tileSize / 2.0
	originY            = tileSize / 2.0

	// BaseZoom and MaxZoom bound the zoom levels a map is rendered at.
	BaseZoom = 19
	MaxZoom  = 21

	earthRadiusKm = 6371.0
	feetPerKm     = 3280.84
)

// zoomDimensions holds the square map image size for each zoom level,
// starting at BaseZoom.
var zoomDimensions = [...]int{2048, 4096, 8192}

// ValidZoom reports whether zoom is one of the supported levels.
func ValidZoom(zoom int) bool {
	return zoom >= BaseZoom && zoom <= MaxZoom
}

// ZoomDimension returns the pixel width (and height) of a map image at zoom.
func ZoomDimension(zoom int) (int, error) {
	if !ValidZoom(zoom) {
		return 0, ErrInvalidZoom
	}
	return zoomDimensions[zoom-BaseZoom], nil
}

// scaleFactor converts marker diameters in inches into on-screen pixels.
func scaleFactor(zoom int) int {
	return 22 - zoom
}

func degreesToRadians(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}

func radiansToDegrees(rad float64) float64 {
	return rad / (math.Pi / 180.0)
}

// LonToWorldX maps a longitude onto the world plane.
func LonToWorldX(lon float64) float64 {
	return originX + lon*pixelsPerLonDegree
}

// LatToWorldY maps a latitude onto the world plane.
func LatToWorldY(lat float64) float64 {
	sinY := math.Sin(degreesToRadians(lat))
	return originY - 0.5*math.Log((1.0+sinY)/(1.0-sinY))*pixelsPerLonRadian
}

// WorldXToLon is the inverse of LonToWorldX.
func WorldXToLon(worldX float64) float64 {
	return (worldX - originX) / pixelsPerLonDegree
}

// WorldYToLat is the inverse of LatToWorldY.
func WorldYToLat(worldY float64) float64 {
	latRadians := (worldY - originY) / -pixelsPerLonRadian
	return radiansToDegrees(2.0*math.Atan(math.Exp(latRadians)) - math.Pi/2)
}

// GeoToWorld converts a geographic point to world coordinates.
func GeoToWorld(p GeoPoint) WorldPoint {
	return WorldPoint{X: LonToWorldX(p.Lon), Y: LatToWorldY(p.Lat)}
}

// WorldToGeo converts world coordinates back to a geographic point.
func WorldToGeo(w WorldPoint) GeoPoint {
	return GeoPoint{Lat: WorldYToLat(w.Y), Lon: WorldXToLon(w.X)}
}

// GeoToPixel converts a geographic point to absolute pixels at zoom. The
// scaled world coordinate is truncated toward zero.
func GeoToPixel(p GeoPoint, zoom int) Pixel {
	numTiles := float64(int64(1) << zoom)
	w := GeoToWorld(p)
	return Pixel{X: int(w.X * numTiles), Y: int(w.Y * numTiles)}
}

// PixelToGeo converts absolute pixels at zoom to a geographic point.
func PixelToGeo(px Pixel, zoom int) GeoPoint {
	numTiles := float64(int64(1) << zoom)
	return WorldToGeo(WorldPoint{X: float64(px.X) / numTiles, Y: float64(px.Y) / numTiles})
}

// DistanceKm returns the great circle distance between two points using the
// Haversine formula.
func DistanceKm(a, b GeoPoint) float64 {
	lat1 := degreesToRadians(a.Lat)
	lat2 := degreesToRadians(b.Lat)
	deltaLat := degreesToRadians(b.Lat - a.Lat)
	deltaLon := degreesToRadians(b.Lon - a.Lon)

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// DistanceFeet returns the great circle distance in feet.
func DistanceFeet(a, b GeoPoint) float64 {
	return DistanceKm(a, b) * feetPerKm
}

// ToWebMercator returns the EPSG:3857 coordinates of p in metres.
func ToWebMercator(p GeoPoint) (x, y float64) {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ = f(p.Lon, p.Lat, 0)
	return x, y
}

// MapFrame describes one map: its name, the geographic center of the map
// image and the magnetic declination at that location.
type MapFrame struct {
	Name        string   `json:"name" msgpack:"name"`
	Center      GeoPoint `json:"center" msgpack:"center"`
	Declination float64  `json:"declination" msgpack:"declination"`
}

// UpperLeft returns the absolute pixel of the map image's upper-left corner
// at zoom.
func (f MapFrame) UpperLeft(zoom int) (Pixel, error) {
	dim, err := ZoomDimension(zoom)
	if err != nil {
		return Pixel{}, err
	}
	c := GeoToPixel(f.Center, zoom)
	return Pixel{X: c.X - dim/2, Y: c.Y - dim/2}, nil
}

// ToMapPixel converts p to pixels relative to the map image at zoom.
func (f MapFrame) ToMapPixel(p GeoPoint, zoom int) (Pixel, error) {
	ul, err := f.UpperLeft(zoom)
	if err != nil {
		return Pixel{}, err
	}
	px := GeoToPixel(p, zoom)
	return Pixel{X: px.X - ul.X, Y: px.Y - ul.Y}, nil
}

// FromMapPixel converts a pixel relative to the map image at zoom into a
// geographic point.
func (f MapFrame) FromMapPixel(px Pixel, zoom int) (GeoPoint, error) {
	ul, err := f.UpperLeft(zoom)
	if err != nil {
		return GeoPoint{}, err
	}
	return PixelToGeo(Pixel{X: ul.X + px.X, Y: ul.Y + px.Y}, zoom), nil
}
