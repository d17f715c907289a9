package tilemap

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration options for the map tools
type Config struct {
	MapName     string   // Name of the map (AVC pre-seeds the course markers)
	Latitude    float64  // Map center latitude
	Longitude   float64  // Map center longitude
	Declination *float64 // Declination override in degrees, east positive; nil uses the magnetic model
	Zoom        int      // Zoom level used for pixel conversions (19-21)

	StoreDir    string // Directory holding map snapshots
	StoreDriver string // "file" or "sqlite"

	SerialPort string        // Serial port device (e.g., /dev/ttyUSB0, COM1)
	BaudRate   int           // Serial baud rate
	UploadTick time.Duration // Interval between uploaded lines
	StartDelay int           // Ticks to wait after opening the port

	SimTick time.Duration // Simulator animation tick
	Car     CarParams

	LogLevel string // zerolog level name
	LogFile  string // Rotated log file, empty for console only
	Listen   string // Web server listen address
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		MapName:     AVCMapName,
		Latitude:    40.071000, // Sparkfun, Boulder CO
		Longitude:   -105.229500,
		Zoom:        MaxZoom,
		StoreDir:    "./maps",
		StoreDriver: "file",
		BaudRate:    115200,
		UploadTick:  DefaultUploadTick,
		StartDelay:  DefaultStartDelay,
		SimTick:     DefaultSimTick,
		Car:         DefaultCarParams(),
		LogLevel:    "info",
		Listen:      ":8080",
	}
}

// Validate checks if the configuration is valid and returns an error if not
func (c *Config) Validate() error {
	if c.Latitude <= -85 || c.Latitude >= 85 {
		return ErrInvalidLatitude
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return ErrInvalidLongitude
	}
	if !ValidZoom(c.Zoom) {
		return ErrInvalidZoom
	}
	if c.BaudRate <= 0 {
		return ErrInvalidBaudRate
	}
	if c.UploadTick <= 0 || c.SimTick <= 0 {
		return ErrInvalidTickInterval
	}
	if c.StartDelay < 0 {
		return ErrInvalidStartDelay
	}
	if c.StoreDriver != "file" && c.StoreDriver != "sqlite" {
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	return c.Car.Validate()
}

// Frame returns the map frame described by the configuration. Without an
// override the declination comes from the magnetic model for today.
func (c *Config) Frame() MapFrame {
	frame := NewMapFrame(c.MapName, GeoPoint{Lat: c.Latitude, Lon: c.Longitude}, time.Now())
	if c.Declination != nil {
		frame.Declination = *c.Declination
	}
	return frame
}

// LoadConfig reads a JSON, YAML or TOML configuration file on top of the
// defaults. The format is chosen from the file extension.
func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()
	v := viper.New()

	v.SetDefault("map.name", def.MapName)
	v.SetDefault("map.latitude", def.Latitude)
	v.SetDefault("map.longitude", def.Longitude)
	v.SetDefault("map.zoom", def.Zoom)

	v.SetDefault("store.dir", def.StoreDir)
	v.SetDefault("store.driver", def.StoreDriver)

	v.SetDefault("serial.port", def.SerialPort)
	v.SetDefault("serial.baud", def.BaudRate)
	v.SetDefault("serial.tick", def.UploadTick)
	v.SetDefault("serial.startDelay", def.StartDelay)

	v.SetDefault("sim.tick", def.SimTick)
	v.SetDefault("sim.car.length", def.Car.Length)
	v.SetDefault("sim.car.interceptRadius", def.Car.InterceptRadius)
	v.SetDefault("sim.car.waypointRadius", def.Car.WaypointRadius)
	v.SetDefault("sim.car.accel", def.Car.Accel)
	v.SetDefault("sim.car.decel", def.Car.Decel)
	v.SetDefault("sim.car.maxSpeed", def.Car.MaxSpeed)
	v.SetDefault("sim.car.maxSteer", def.Car.MaxSteer)

	v.SetDefault("log.level", def.LogLevel)
	v.SetDefault("log.file", def.LogFile)
	v.SetDefault("web.listen", def.Listen)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := Config{
		MapName:     v.GetString("map.name"),
		Latitude:    v.GetFloat64("map.latitude"),
		Longitude:   v.GetFloat64("map.longitude"),
		Zoom:        v.GetInt("map.zoom"),
		StoreDir:    v.GetString("store.dir"),
		StoreDriver: v.GetString("store.driver"),
		SerialPort:  v.GetString("serial.port"),
		BaudRate:    v.GetInt("serial.baud"),
		UploadTick:  v.GetDuration("serial.tick"),
		StartDelay:  v.GetInt("serial.startDelay"),
		SimTick:     v.GetDuration("sim.tick"),
		Car: CarParams{
			Length:          v.GetFloat64("sim.car.length"),
			InterceptRadius: v.GetFloat64("sim.car.interceptRadius"),
			WaypointRadius:  v.GetFloat64("sim.car.waypointRadius"),
			Accel:           v.GetFloat64("sim.car.accel"),
			Decel:           v.GetFloat64("sim.car.decel"),
			MaxSpeed:        v.GetFloat64("sim.car.maxSpeed"),
			MaxSteer:        v.GetFloat64("sim.car.maxSteer"),
		},
		LogLevel: v.GetString("log.level"),
		LogFile:  v.GetString("log.file"),
		Listen:   v.GetString("web.listen"),
	}
	if v.IsSet("map.declination") {
		decl := v.GetFloat64("map.declination")
		cfg.Declination = &decl
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
