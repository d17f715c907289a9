package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Bucknalla/go-gps-tilemap/logging"
	"github.com/Bucknalla/go-gps-tilemap/store"
	"github.com/Bucknalla/go-gps-tilemap/tilemap"
	"github.com/Bucknalla/go-gps-tilemap/transport"
)

// Version information - populated at build time via ldflags
var (
	Version   = "dev"     // Will be set to git tag if available, otherwise "dev"
	Commit    = "unknown" // Will be set to git commit hash
	BuildDate = "unknown" // Will be set to build timestamp
)

// options collects everything the command line asks for beyond Config.
type options struct {
	importMarkers   string
	importWaypoints string
	importGPX       string
	speedsFile      string
	car             string

	exportMarkers   string
	exportWaypoints string
	exportGPX       string
	geojson         string
	mercator        bool
	report          bool
	save            bool

	simulate bool
	maxTicks int
	gpxTrack string
	nmea     string

	upload bool
	bump   string
	dryRun bool
	ports  bool
}

func main() {
	cfg := tilemap.DefaultConfig()
	var opts options
	var showVersion bool
	var configFile string

	// Define command line flags
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
	flag.StringVar(&configFile, "config", "", "Configuration file (YAML, JSON or TOML); flags override its values")
	flag.StringVar(&cfg.MapName, "map", cfg.MapName, "Map name (AVC pre-seeds the course markers)")
	flag.Float64Var(&cfg.Latitude, "lat", cfg.Latitude, "Map center latitude (decimal degrees)")
	flag.Float64Var(&cfg.Longitude, "lon", cfg.Longitude, "Map center longitude (decimal degrees)")
	flag.Func("decl", "Magnetic declination override in degrees, east positive (default: World Magnetic Model)", func(v string) error {
		decl, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		cfg.Declination = &decl
		return nil
	})
	flag.IntVar(&cfg.Zoom, "zoom", cfg.Zoom, "Map zoom level (19-21)")
	flag.StringVar(&cfg.StoreDir, "store", cfg.StoreDir, "Directory holding saved maps")
	flag.StringVar(&cfg.StoreDriver, "store-driver", cfg.StoreDriver, "Map store driver: file or sqlite")
	flag.StringVar(&cfg.SerialPort, "serial", cfg.SerialPort, "Serial port of the car controller (e.g., /dev/ttyUSB0, COM1)")
	flag.IntVar(&cfg.BaudRate, "baud", cfg.BaudRate, "Serial port baud rate")
	flag.DurationVar(&cfg.UploadTick, "upload-tick", cfg.UploadTick, "Interval between uploaded lines")
	flag.IntVar(&cfg.StartDelay, "start-delay", cfg.StartDelay, "Ticks to wait after opening the port before sending")
	flag.DurationVar(&cfg.SimTick, "sim-tick", cfg.SimTick, "Simulated time per tick")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also log to this rotated file")

	flag.StringVar(&opts.importMarkers, "import-markers", "", "Replace the map's markers with this CSV file")
	flag.StringVar(&opts.importWaypoints, "import-waypoints", "", "Replace the route with this waypoint CSV file")
	flag.StringVar(&opts.importGPX, "import-gpx", "", "Replace the route with the first route or track of this GPX file")
	flag.StringVar(&opts.speedsFile, "speeds", "", "Speed code table (YAML); clears the route")
	flag.StringVar(&opts.car, "car", "", "Place the car at lat,lon,heading")
	flag.StringVar(&opts.exportMarkers, "export-markers", "", "Write the markers as CSV to this file (- for stdout)")
	flag.StringVar(&opts.exportWaypoints, "export-waypoints", "", "Write the route as waypoint CSV to this file (- for stdout)")
	flag.StringVar(&opts.exportGPX, "export-gpx", "", "Write the route as a GPX route to this file (- for stdout)")
	flag.StringVar(&opts.geojson, "geojson", "", "Write markers, chains and route as GeoJSON to this file (- for stdout)")
	flag.BoolVar(&opts.mercator, "mercator", false, "Export GeoJSON in Web Mercator metres instead of degrees")
	flag.BoolVar(&opts.report, "report", false, "Print the distance of every route leg")
	flag.BoolVar(&opts.save, "save", false, "Save the map to the store after applying the other options")
	flag.BoolVar(&opts.simulate, "simulate", false, "Drive the car around the route without a display")
	flag.IntVar(&opts.maxTicks, "max-ticks", 100000, "Give up the simulation after this many ticks")
	flag.StringVar(&opts.gpxTrack, "gpx-track", "", "Record the simulated drive as a GPX track to this file")
	flag.StringVar(&opts.nmea, "nmea", "", "Write the simulated drive as NMEA sentences to this file (- for stdout)")
	flag.BoolVar(&opts.upload, "upload", false, "Upload the route to the car")
	flag.StringVar(&opts.bump, "bump", "", "Compile this bump program and upload it to the car")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "Print uploaded lines to stdout instead of opening the serial port")
	flag.BoolVar(&opts.ports, "ports", false, "List serial ports and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nGPS Tile Map\n")
		fmt.Fprintf(os.Stderr, "Plans autonomous vehicle routes over an aerial map, simulates the drive and uploads the route to the car.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	// Handle version flag
	if showVersion {
		if Version != "dev" {
			fmt.Printf("v%s\n", Version)
		} else {
			fmt.Printf("%s\n", Commit)
		}
		os.Exit(0)
	}

	if configFile != "" {
		fileCfg, err := tilemap.LoadConfig(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		cfg = overrideConfig(fileCfg, cfg, setFlags())
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFile)
	defer logger.Close()

	if err := run(context.Background(), cfg, opts, os.Stdout, logger); err != nil {
		logger.Error().Err(err).Msg("Failed")
		logger.Close()
		os.Exit(1)
	}
}

// setFlags returns the names of the flags given on the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

// overrideConfig returns base with the fields whose flags were set taken
// from flags.
func overrideConfig(base, flags tilemap.Config, set map[string]bool) tilemap.Config {
	if set["map"] {
		base.MapName = flags.MapName
	}
	if set["lat"] {
		base.Latitude = flags.Latitude
	}
	if set["lon"] {
		base.Longitude = flags.Longitude
	}
	if set["decl"] {
		base.Declination = flags.Declination
	}
	if set["zoom"] {
		base.Zoom = flags.Zoom
	}
	if set["store"] {
		base.StoreDir = flags.StoreDir
	}
	if set["store-driver"] {
		base.StoreDriver = flags.StoreDriver
	}
	if set["serial"] {
		base.SerialPort = flags.SerialPort
	}
	if set["baud"] {
		base.BaudRate = flags.BaudRate
	}
	if set["upload-tick"] {
		base.UploadTick = flags.UploadTick
	}
	if set["start-delay"] {
		base.StartDelay = flags.StartDelay
	}
	if set["sim-tick"] {
		base.SimTick = flags.SimTick
	}
	if set["log-level"] {
		base.LogLevel = flags.LogLevel
	}
	if set["log-file"] {
		base.LogFile = flags.LogFile
	}
	return base
}

func run(ctx context.Context, cfg tilemap.Config, opts options, stdout io.Writer, logger *logging.Logger) error {
	if opts.ports {
		ports, err := transport.Ports()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Fprintln(stdout, p)
		}
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	st, err := store.Open(cfg.StoreDriver, cfg.StoreDir)
	if err != nil {
		return err
	}
	defer st.Close()

	session, err := store.LoadSession(ctx, st, cfg.Frame())
	if err != nil {
		return err
	}
	session.SetLogger(logger.Logger)
	if cfg.Declination != nil {
		session.SetDeclination(*cfg.Declination)
	}
	if err := session.SetCarParams(cfg.Car); err != nil {
		return err
	}

	if err := applyImports(session, opts); err != nil {
		return err
	}

	if opts.car != "" {
		pos, heading, err := parseCar(opts.car)
		if err != nil {
			return err
		}
		session.PlaceCar(pos, heading)
	}

	if err := applyExports(session, opts, stdout); err != nil {
		return err
	}

	if opts.report {
		fmt.Fprint(stdout, session.WaypointReport().String())
	}

	if opts.simulate {
		if err := simulate(session, cfg, opts, stdout, logger); err != nil {
			return err
		}
	}

	if opts.upload || opts.bump != "" {
		lines, err := uploadLines(session, opts)
		if err != nil {
			return err
		}
		var link tilemap.Transport
		if opts.dryRun {
			link = transport.NewWriter(stdout)
		} else {
			if cfg.SerialPort == "" {
				return fmt.Errorf("a serial port is required to upload (use -serial or -dry-run)")
			}
			link = transport.NewSerial(cfg.SerialPort, cfg.BaudRate)
		}
		if err := upload(ctx, link, lines, cfg, opts.dryRun, logger); err != nil {
			return err
		}
	}

	if opts.save {
		if err := st.Save(ctx, session.Snapshot()); err != nil {
			return err
		}
		logger.Info().Str("map", session.Frame().Name).Str("store", cfg.StoreDir).Msg("Map saved")
	}
	return nil
}

func applyImports(session *tilemap.Session, opts options) error {
	if opts.speedsFile != "" {
		data, err := os.ReadFile(opts.speedsFile)
		if err != nil {
			return err
		}
		table, err := tilemap.LoadSpeedTableYAML(data)
		if err != nil {
			return err
		}
		if err := session.SetSpeedTable(table); err != nil {
			return err
		}
	}

	if opts.importMarkers != "" {
		data, err := os.ReadFile(opts.importMarkers)
		if err != nil {
			return err
		}
		if err := session.LoadMarkers(string(data)); err != nil {
			return fmt.Errorf("%s: %w", opts.importMarkers, err)
		}
	}

	if opts.importWaypoints != "" {
		data, err := os.ReadFile(opts.importWaypoints)
		if err != nil {
			return err
		}
		if _, err := session.LoadWaypoints(string(data)); err != nil {
			return fmt.Errorf("%s: %w", opts.importWaypoints, err)
		}
	}

	if opts.importGPX != "" {
		f, err := os.Open(opts.importGPX)
		if err != nil {
			return err
		}
		wps, err := tilemap.ReadGPXRoute(f, session.SpeedTable())
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", opts.importGPX, err)
		}
		session.ClearWaypoints()
		for i, w := range wps {
			if err := session.InsertWaypoint(i, w); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyExports(session *tilemap.Session, opts options, stdout io.Writer) error {
	if opts.exportMarkers != "" {
		if err := writeOutput(opts.exportMarkers, stdout, func(w io.Writer) error {
			_, err := io.WriteString(w, session.MarkersCSV())
			return err
		}); err != nil {
			return err
		}
	}
	if opts.exportWaypoints != "" {
		if err := writeOutput(opts.exportWaypoints, stdout, func(w io.Writer) error {
			text, _ := session.WaypointsCSV()
			_, err := io.WriteString(w, text)
			return err
		}); err != nil {
			return err
		}
	}
	if opts.exportGPX != "" {
		if err := writeOutput(opts.exportGPX, stdout, func(w io.Writer) error {
			return tilemap.WriteGPXRoute(w, session.Frame().Name, session.Waypoints())
		}); err != nil {
			return err
		}
	}
	if opts.geojson != "" {
		proj := tilemap.WGS84
		if opts.mercator {
			proj = tilemap.WebMercator
		}
		data, err := session.GeoJSON(proj)
		if err != nil {
			return err
		}
		if err := writeOutput(opts.geojson, stdout, func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// writeOutput runs fn against stdout when name is "-", or against the
// named file otherwise.
func writeOutput(name string, stdout io.Writer, fn func(io.Writer) error) error {
	if name == "-" {
		return fn(stdout)
	}
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// parseCar reads "lat,lon,heading".
func parseCar(s string) (tilemap.GeoPoint, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return tilemap.GeoPoint{}, 0, fmt.Errorf("car must be lat,lon,heading: %q", s)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return tilemap.GeoPoint{}, 0, fmt.Errorf("car must be lat,lon,heading: %q", s)
		}
		vals[i] = v
	}
	return tilemap.GeoPoint{Lat: vals[0], Lon: vals[1]}, vals[2], nil
}

// simulate drives the route headless, one tick at a time, until the car
// stops or maxTicks is reached.
func simulate(session *tilemap.Session, cfg tilemap.Config, opts options, stdout io.Writer, logger *logging.Logger) error {
	sim, err := tilemap.NewSimulator(session, tilemap.SimOptions{
		TickInterval: cfg.SimTick,
		Manual:       true,
		Logger:       &logger.Logger,
	})
	if err != nil {
		return err
	}

	var track *tilemap.GPXWriter
	if opts.gpxTrack != "" {
		track, err = tilemap.NewGPXWriter(opts.gpxTrack, session.Frame().Name)
		if err != nil {
			return err
		}
		sim.AddCallback(track.AddStatus)
	}

	var feed *tilemap.NMEAWriter
	if opts.nmea != "" {
		out := stdout
		if opts.nmea != "-" {
			f, err := os.Create(opts.nmea)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		feed = tilemap.NewNMEAWriter(out, session.Frame().Declination)
		sim.AddCallback(feed.AddStatus)
	}

	if err := sim.Start(); err != nil {
		return err
	}
	var st tilemap.CarStatus
	for i := 0; i < opts.maxTicks; i++ {
		st, err = sim.Step()
		if err != nil {
			break
		}
		if st.State == tilemap.SimIdle {
			break
		}
	}
	if track != nil {
		if cerr := track.Close(); err == nil {
			err = cerr
		}
		logger.Info().Str("file", opts.gpxTrack).Int("points", track.PointCount()).Msg("GPX track written")
	}
	if err != nil {
		return err
	}
	if feed != nil {
		if err := feed.Err(); err != nil {
			return fmt.Errorf("failed to write NMEA output: %w", err)
		}
		logger.Info().Str("file", opts.nmea).Int("sentences", feed.Count()).Msg("NMEA feed written")
	}

	logger.Info().
		Int("ticks", st.Tick).
		Bool("finished", st.Finished).
		Int("target", st.Target).
		Dur("elapsed", time.Duration(st.Tick)*cfg.SimTick).
		Msg("Simulation ended")
	if !st.Finished {
		return fmt.Errorf("route not completed after %d ticks", st.Tick)
	}
	return nil
}

// uploadLines assembles the route and bump program lines requested.
func uploadLines(session *tilemap.Session, opts options) ([]string, error) {
	var lines []string
	if opts.upload {
		up, err := session.EncodeUpload()
		if err != nil {
			return nil, err
		}
		lines = append(lines, up.Lines...)
	}
	if opts.bump != "" {
		data, err := os.ReadFile(opts.bump)
		if err != nil {
			return nil, err
		}
		cmds, err := tilemap.CompileBump(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", opts.bump, err)
		}
		if len(cmds) == 0 {
			return nil, fmt.Errorf("%s: no bump commands", opts.bump)
		}
		lines = append(lines, tilemap.BumpLines(cmds)...)
	}
	return lines, nil
}

func upload(ctx context.Context, link tilemap.Transport, lines []string, cfg tilemap.Config, dryRun bool, logger *logging.Logger) error {
	uopts := tilemap.UploaderOptions{
		TickInterval: cfg.UploadTick,
		StartDelay:   cfg.StartDelay,
		Logger:       &logger.Logger,
	}
	if dryRun {
		uopts.Manual = true
	}
	up, err := tilemap.NewUploader(link, uopts)
	if err != nil {
		return err
	}
	up.AddCallback(func(r tilemap.UploadResult) {
		logger.Debug().Int("sent", r.Sent).Int("total", r.Total).Stringer("state", r.State).Msg("Upload progress")
	})
	if err := up.Begin(lines); err != nil {
		return err
	}

	var res tilemap.UploadResult
	if dryRun {
		for res = up.Step(); !res.State.Done(); res = up.Step() {
		}
	} else {
		res, err = up.Wait(ctx)
		if err != nil {
			up.Cancel()
			return err
		}
	}
	if res.Err != nil {
		return fmt.Errorf("upload %s after %d of %d lines: %w", res.State, res.Sent, res.Total, res.Err)
	}
	if res.State != tilemap.UploadComplete {
		return fmt.Errorf("upload %s after %d of %d lines", res.State, res.Sent, res.Total)
	}
	return nil
}
