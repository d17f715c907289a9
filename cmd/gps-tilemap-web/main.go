package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Bucknalla/go-gps-tilemap/logging"
	"github.com/Bucknalla/go-gps-tilemap/store"
	"github.com/Bucknalla/go-gps-tilemap/tilemap"
	"github.com/Bucknalla/go-gps-tilemap/transport"
	"github.com/Bucknalla/go-gps-tilemap/web"
)

// Version information - populated at build time via ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	var configFile, listen string
	var dryRun, showVersion bool

	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
	flag.StringVar(&configFile, "config", "", "Configuration file (YAML, JSON or TOML)")
	flag.StringVar(&listen, "listen", "", "Listen address, overrides web.listen")
	flag.BoolVar(&dryRun, "dry-run", false, "Log uploaded lines instead of opening the serial port")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nGPS Tile Map Web Server\n")
		fmt.Fprintf(os.Stderr, "Serves a map session over HTTP with live simulation and upload progress.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		if Version != "dev" {
			fmt.Printf("v%s (%s, %s)\n", Version, Commit, BuildDate)
		} else {
			fmt.Printf("%s\n", Commit)
		}
		os.Exit(0)
	}

	cfg := tilemap.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = tilemap.LoadConfig(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
	if listen != "" {
		cfg.Listen = listen
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFile)
	defer logger.Close()

	st, err := store.Open(cfg.StoreDriver, cfg.StoreDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open map store")
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := store.LoadSession(ctx, st, cfg.Frame())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load map")
	}
	session.SetLogger(logger.Logger)
	if cfg.Declination != nil {
		session.SetDeclination(*cfg.Declination)
	}
	logger.Info().Float64("declination", session.Frame().Declination).Msg("Map loaded")
	if err := session.SetCarParams(cfg.Car); err != nil {
		logger.Fatal().Err(err).Msg("Invalid car parameters")
	}

	newTransport := func() tilemap.Transport {
		return transport.NewSerial(cfg.SerialPort, cfg.BaudRate)
	}
	if dryRun {
		newTransport = func() tilemap.Transport {
			return transport.NewWriter(logger.With().Str("component", "dry-run").Logger())
		}
	} else if cfg.SerialPort == "" {
		newTransport = nil
		logger.Warn().Msg("No serial port configured, uploads are disabled")
	}

	server, err := web.NewServer(web.Options{
		Session:   session,
		Store:     st,
		Transport: newTransport,
		SimTick:   cfg.SimTick,
		Upload: tilemap.UploaderOptions{
			TickInterval: cfg.UploadTick,
			StartDelay:   cfg.StartDelay,
		},
		Logger: logger.Logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create server")
	}

	if err := server.ListenAndServe(ctx, cfg.Listen); err != nil {
		logger.Error().Err(err).Msg("Server failed")
	}
}
