package tilemap

import (
	"fmt"
	"sync"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// wmm caches the last location and field in package state.
var wmmMu sync.Mutex

// MagneticDeclination returns the World Magnetic Model declination at p on
// date t, in degrees east positive. When t falls outside the model's
// validity window the extrapolated value is still returned together with an
// error wrapping ErrDeclinationModel.
func MagneticDeclination(p GeoPoint, t time.Time) (float64, error) {
	wmmMu.Lock()
	defer wmmMu.Unlock()

	loc := egm96.NewLocationGeodetic(p.Lat, p.Lon, 0)
	field, err := wmm.CalculateWMMMagneticField(loc, t)
	if err != nil {
		return field.D(), fmt.Errorf("%w: %w", ErrDeclinationModel, err)
	}
	return field.D(), nil
}

// NewMapFrame builds a map frame centered on center with the declination
// the magnetic model predicts there on date t.
func NewMapFrame(name string, center GeoPoint, t time.Time) MapFrame {
	decl, _ := MagneticDeclination(center, t)
	return MapFrame{Name: name, Center: center, Declination: decl}
}
