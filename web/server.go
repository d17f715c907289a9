// Package web serves a map session over HTTP and streams car and upload
// progress to websocket clients.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Bucknalla/go-gps-tilemap/store"
	"github.com/Bucknalla/go-gps-tilemap/tilemap"
)

// Message is the envelope pushed to websocket clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Options configures a Server.
type Options struct {
	Session *tilemap.Session
	Store   store.Store
	// Transport returns the link used for each upload. Uploads are refused
	// when it is nil.
	Transport func() tilemap.Transport
	SimTick   time.Duration
	Upload    tilemap.UploaderOptions
	Logger    zerolog.Logger
}

type uploadJob struct {
	ID        string             `json:"id"`
	Started   time.Time          `json:"started"`
	Fallbacks []tilemap.Fallback `json:"fallbacks,omitempty"`
	uploader  *tilemap.Uploader
}

// Server exposes the session, simulator and uploader.
type Server struct {
	session   *tilemap.Session
	simulator *tilemap.Simulator
	store     store.Store
	transport func() tilemap.Transport
	uploadOpt tilemap.UploaderOptions
	logger    zerolog.Logger

	mu     sync.Mutex
	upload *uploadJob

	upgrader  websocket.Upgrader
	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan Message
}

// NewServer creates a server around opts.Session.
func NewServer(opts Options) (*Server, error) {
	if opts.Session == nil {
		return nil, errors.New("web: nil session")
	}
	logger := opts.Logger.With().Str("component", "web").Logger()
	sim, err := tilemap.NewSimulator(opts.Session, tilemap.SimOptions{
		TickInterval: opts.SimTick,
		Logger:       &opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	s := &Server{
		session:   opts.Session,
		simulator: sim,
		store:     opts.Store,
		transport: opts.Transport,
		uploadOpt: opts.Upload,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
	}
	if s.uploadOpt.Logger == nil {
		s.uploadOpt.Logger = &opts.Logger
	}
	sim.AddCallback(func(st tilemap.CarStatus) {
		s.publish("car_status", st)
	})
	return s, nil
}

// Simulator returns the simulator driving the session's car.
func (s *Server) Simulator() *tilemap.Simulator {
	return s.simulator
}

// publish queues msg for websocket clients, dropping it when the queue is
// full.
func (s *Server) publish(kind string, data any) {
	select {
	case s.broadcast <- Message{Type: kind, Data: data}:
	default:
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")

	api.HandleFunc("/maps", s.handleListMaps).Methods("GET")
	api.HandleFunc("/maps", s.handleSaveMap).Methods("POST")
	api.HandleFunc("/maps/{name}", s.handleLoadMap).Methods("GET")
	api.HandleFunc("/maps/{name}", s.handleDeleteMap).Methods("DELETE")

	api.HandleFunc("/markers", s.handleGetMarkers).Methods("GET")
	api.HandleFunc("/markers", s.handleAddMarker).Methods("POST")
	api.HandleFunc("/markers", s.handleClearMarkers).Methods("DELETE")
	api.HandleFunc("/markers.csv", s.handleGetMarkersCSV).Methods("GET")
	api.HandleFunc("/markers.csv", s.handlePutMarkersCSV).Methods("PUT")
	api.HandleFunc("/markers/{index:[0-9]+}", s.handleUpdateMarker).Methods("PUT")
	api.HandleFunc("/markers/{index:[0-9]+}", s.handleDeleteMarker).Methods("DELETE")

	api.HandleFunc("/waypoints", s.handleGetWaypoints).Methods("GET")
	api.HandleFunc("/waypoints", s.handleAddWaypoint).Methods("POST")
	api.HandleFunc("/waypoints", s.handleClearWaypoints).Methods("DELETE")
	api.HandleFunc("/waypoints.csv", s.handleGetWaypointsCSV).Methods("GET")
	api.HandleFunc("/waypoints.csv", s.handlePutWaypointsCSV).Methods("PUT")
	api.HandleFunc("/waypoints/{index:[0-9]+}", s.handleUpdateWaypoint).Methods("PUT")
	api.HandleFunc("/waypoints/{index:[0-9]+}", s.handleDeleteWaypoint).Methods("DELETE")

	api.HandleFunc("/gpsref", s.handleSetGpsRef).Methods("PUT")
	api.HandleFunc("/gpsref", s.handleClearGpsRef).Methods("DELETE")
	api.HandleFunc("/car", s.handlePlaceCar).Methods("PUT")
	api.HandleFunc("/car", s.handleRemoveCar).Methods("DELETE")
	api.HandleFunc("/hit", s.handleHitTest).Methods("GET")

	api.HandleFunc("/sim/start", s.handleStartSimulator).Methods("POST")
	api.HandleFunc("/sim/stop", s.handleStopSimulator).Methods("POST")
	api.HandleFunc("/sim/reset", s.handleResetSimulator).Methods("POST")

	api.HandleFunc("/upload", s.handleStartUpload).Methods("POST")
	api.HandleFunc("/upload", s.handleGetUpload).Methods("GET")
	api.HandleFunc("/upload", s.handleCancelUpload).Methods("DELETE")

	api.HandleFunc("/report", s.handleReport).Methods("GET")
	api.HandleFunc("/geojson", s.handleGeoJSON).Methods("GET")
	api.HandleFunc("/ws", s.handleWebSocket)

	r.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.broadcastToClients(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		s.logger.Info().Str("addr", addr).Msg("Starting map server")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// the first write happens before registration so it never races the
	// broadcaster
	if err := conn.WriteJSON(Message{Type: "car_status", Data: s.simulator.Status()}); err != nil {
		return
	}
	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	// Keep connection alive and handle client messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.removeClient(conn)
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("WebSocket client disconnected")
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, conn)
}

func (s *Server) broadcastToClients(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.broadcast:
			s.clientsMu.Lock()
			for client := range s.clients {
				if err := client.WriteJSON(msg); err != nil {
					client.Close()
					delete(s.clients, client)
				}
			}
			s.clientsMu.Unlock()
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/csv")
	io.WriteString(w, text)
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tilemap.ErrSimulatorAlreadyRunning),
		errors.Is(err, tilemap.ErrUploadInProgress):
		return http.StatusConflict
	case errors.Is(err, tilemap.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, tilemap.ErrParse),
		errors.Is(err, tilemap.ErrIndexOutOfRange),
		errors.Is(err, tilemap.ErrInvalidState),
		errors.Is(err, tilemap.ErrNoWaypoints),
		errors.Is(err, tilemap.ErrNoCar),
		errors.Is(err, tilemap.ErrUnknownSpeedLabel),
		errors.Is(err, tilemap.ErrInvalidHeading),
		errors.Is(err, tilemap.ErrInvalidLatitude),
		errors.Is(err, tilemap.ErrInvalidLongitude),
		errors.Is(err, tilemap.ErrInvalidZoom),
		errors.Is(err, store.ErrInvalidName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", tilemap.ErrParse, err)
	}
	return nil
}

func pathIndex(r *http.Request) int {
	i, _ := strconv.Atoi(mux.Vars(r)["index"])
	return i
}

type statusResponse struct {
	Map       tilemap.MapFrame     `json:"map"`
	Markers   int                  `json:"markers"`
	Waypoints int                  `json:"waypoints"`
	Car       tilemap.CarStatus    `json:"car"`
	Target    int                  `json:"target"`
	Upload    *uploadStatus        `json:"upload,omitempty"`
	Speeds    []tilemap.SpeedEntry `json:"speeds"`
}

type uploadStatus struct {
	*uploadJob
	Result tilemap.UploadResult `json:"result"`
	Error  string               `json:"error,omitempty"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Map:       s.session.Frame(),
		Markers:   len(s.session.Markers()),
		Waypoints: len(s.session.Waypoints()),
		Car:       s.simulator.Status(),
		Target:    s.simulator.TargetWaypoint(),
		Upload:    s.currentUpload(),
		Speeds:    s.session.SpeedTable().Entries(),
	})
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no map store configured"})
		return false
	}
	return true
}

func (s *Server) handleListMaps(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	maps, err := s.store.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maps)
}

func (s *Server) handleSaveMap(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	snap := s.session.Snapshot()
	if err := s.store.Save(r.Context(), snap); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info().Str("map", snap.Frame.Name).Msg("Map saved")
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "name": snap.Frame.Name})
}

func (s *Server) handleLoadMap(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	name := mux.Vars(r)["name"]
	snap, err := s.store.Load(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.simulator.Reset(); err != nil && !errors.Is(err, tilemap.ErrNoCar) {
		s.writeError(w, err)
		return
	}
	if err := s.session.Restore(snap); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info().Str("map", name).Msg("Map loaded")
	s.publish("map", s.session.Frame())
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "name": name})
}

func (s *Server) handleDeleteMap(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	if err := s.store.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMarkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Markers())
}

type markerRequest struct {
	Kind     string           `json:"kind"`
	Position tilemap.GeoPoint `json:"position"`
	Diameter int              `json:"diameter"`
	Color    string           `json:"color"`
	Rotation *int             `json:"rotation"`
}

func (s *Server) handleAddMarker(w http.ResponseWriter, r *http.Request) {
	var req markerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	kind, err := tilemap.ParseMarkerKind(req.Kind)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", tilemap.ErrParse, err))
		return
	}
	color, _ := tilemap.ParseColor(req.Color)
	var m tilemap.Marker
	switch {
	case kind.IsTerminator():
		m = tilemap.NewTerminator(kind == tilemap.PolyClose)
	case kind.HasRotation() && req.Rotation != nil:
		m = tilemap.NewRotatedMarker(kind, req.Position, req.Diameter, color, *req.Rotation)
	default:
		m = tilemap.NewMarker(kind, req.Position, req.Diameter, color)
	}
	index := s.session.AddMarker(m)
	writeJSON(w, http.StatusCreated, map[string]int{"index": index})
}

type moveRequest struct {
	Position *tilemap.GeoPoint `json:"position"`
	Rotation *float64          `json:"rotation"`
}

func (s *Server) handleUpdateMarker(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	i := pathIndex(r)
	if i >= len(s.session.Markers()) {
		s.writeError(w, fmt.Errorf("%w: marker %d", tilemap.ErrIndexOutOfRange, i))
		return
	}
	if req.Position != nil {
		if err := s.session.MoveMarker(i, *req.Position); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if req.Rotation != nil {
		if err := s.session.RotateMarker(i, int(*req.Rotation)); err != nil {
			s.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.session.Markers()[i])
}

func (s *Server) handleDeleteMarker(w http.ResponseWriter, r *http.Request) {
	if err := s.session.DeleteMarker(pathIndex(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearMarkers(w http.ResponseWriter, r *http.Request) {
	s.session.ClearMarkers()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMarkersCSV(w http.ResponseWriter, r *http.Request) {
	writeText(w, s.session.MarkersCSV())
}

func (s *Server) handlePutMarkersCSV(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.session.LoadMarkers(string(body)); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"markers": len(s.session.Markers())})
}

func (s *Server) handleGetWaypoints(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Waypoints())
}

func (s *Server) handleAddWaypoint(w http.ResponseWriter, r *http.Request) {
	var pos tilemap.GeoPoint
	if err := decodeBody(r, &pos); err != nil {
		s.writeError(w, err)
		return
	}
	index := s.session.AddWaypoint(pos)
	writeJSON(w, http.StatusCreated, map[string]int{"index": index})
}

func (s *Server) handleUpdateWaypoint(w http.ResponseWriter, r *http.Request) {
	i := pathIndex(r)
	wps := s.session.Waypoints()
	if i >= len(wps) {
		s.writeError(w, fmt.Errorf("%w: waypoint %d", tilemap.ErrIndexOutOfRange, i))
		return
	}
	wp := wps[i]
	if err := decodeBody(r, &wp); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.session.UpdateWaypoint(i, wp); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wp)
}

func (s *Server) handleDeleteWaypoint(w http.ResponseWriter, r *http.Request) {
	if err := s.session.DeleteWaypoint(pathIndex(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearWaypoints(w http.ResponseWriter, r *http.Request) {
	s.session.ClearWaypoints()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetWaypointsCSV(w http.ResponseWriter, r *http.Request) {
	text, _ := s.session.WaypointsCSV()
	writeText(w, text)
}

func (s *Server) handlePutWaypointsCSV(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	fallbacks, err := s.session.LoadWaypoints(string(body))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"waypoints": len(s.session.Waypoints()),
		"fallbacks": fallbacks,
	})
}

type gpsRefRequest struct {
	Marked   tilemap.GeoPoint `json:"marked"`
	Surveyed tilemap.GeoPoint `json:"surveyed"`
}

func (s *Server) handleSetGpsRef(w http.ResponseWriter, r *http.Request) {
	var req gpsRefRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.session.SetGpsReference(req.Marked, req.Surveyed)
	ref, _ := s.session.GpsReference()
	writeJSON(w, http.StatusOK, map[string]any{
		"reference": ref,
		"delta_lat": ref.DeltaLat(),
		"delta_lon": ref.DeltaLon(),
	})
}

func (s *Server) handleClearGpsRef(w http.ResponseWriter, r *http.Request) {
	s.session.ClearGpsReference()
	w.WriteHeader(http.StatusNoContent)
}

type carRequest struct {
	Position tilemap.GeoPoint `json:"position"`
	Heading  float64          `json:"heading"`
}

func (s *Server) handlePlaceCar(w http.ResponseWriter, r *http.Request) {
	var req carRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if s.simulator.State() != tilemap.SimIdle {
		s.writeError(w, tilemap.ErrSimulatorAlreadyRunning)
		return
	}
	s.session.PlaceCar(req.Position, req.Heading)
	car, _ := s.session.Car()
	writeJSON(w, http.StatusOK, car)
}

func (s *Server) handleRemoveCar(w http.ResponseWriter, r *http.Request) {
	if err := s.simulator.Reset(); err != nil && !errors.Is(err, tilemap.ErrNoCar) {
		s.writeError(w, err)
		return
	}
	s.session.RemoveCar()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHitTest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, errX := strconv.Atoi(q.Get("x"))
	y, errY := strconv.Atoi(q.Get("y"))
	zoom, errZ := strconv.Atoi(q.Get("zoom"))
	if errX != nil || errY != nil || errZ != nil {
		s.writeError(w, fmt.Errorf("%w: x, y and zoom must be integers", tilemap.ErrParse))
		return
	}
	if !tilemap.ValidZoom(zoom) {
		s.writeError(w, fmt.Errorf("%w: %d", tilemap.ErrInvalidZoom, zoom))
		return
	}
	ref, ok := s.session.HitTest(tilemap.Pixel{X: x, Y: y}, zoom)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"hit": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hit":   true,
		"kind":  ref.Kind.String(),
		"index": ref.Index,
	})
}

func (s *Server) handleStartSimulator(w http.ResponseWriter, r *http.Request) {
	if err := s.simulator.Start(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStopSimulator(w http.ResponseWriter, r *http.Request) {
	s.simulator.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleResetSimulator(w http.ResponseWriter, r *http.Request) {
	if err := s.simulator.Reset(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.simulator.Status())
}

func (s *Server) currentUpload() *uploadStatus {
	s.mu.Lock()
	job := s.upload
	s.mu.Unlock()
	if job == nil {
		return nil
	}
	res := job.uploader.Result()
	st := &uploadStatus{uploadJob: job, Result: res}
	if res.Err != nil {
		st.Error = res.Err.Error()
	}
	return st
}

func (s *Server) handleStartUpload(w http.ResponseWriter, r *http.Request) {
	if s.transport == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no upload transport configured"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upload != nil && !s.upload.uploader.Result().State.Done() {
		s.writeError(w, tilemap.ErrUploadInProgress)
		return
	}

	upload, err := s.session.EncodeUpload()
	if err != nil {
		s.writeError(w, err)
		return
	}
	up, err := tilemap.NewUploader(s.transport(), s.uploadOpt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	job := &uploadJob{
		ID:        uuid.NewString(),
		Started:   time.Now(),
		Fallbacks: upload.Fallbacks,
		uploader:  up,
	}
	up.AddCallback(func(res tilemap.UploadResult) {
		s.publish("upload", map[string]any{"id": job.ID, "result": res})
	})
	if err := up.Begin(upload.Lines); err != nil {
		s.writeError(w, err)
		return
	}
	s.upload = job
	s.logger.Info().Str("upload", job.ID).Int("lines", len(upload.Lines)).Msg("Upload started")
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	st := s.currentUpload()
	if st == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no upload"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCancelUpload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	job := s.upload
	s.mu.Unlock()
	if job == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no upload"})
		return
	}
	job.uploader.Cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "id": job.ID})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report := s.session.WaypointReport()
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, report.String())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	proj := tilemap.WGS84
	if r.URL.Query().Get("proj") == "3857" {
		proj = tilemap.WebMercator
	}
	data, err := s.session.GeoJSON(proj)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(data)
}
