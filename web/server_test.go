package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bucknalla/go-gps-tilemap/store"
	"github.com/Bucknalla/go-gps-tilemap/tilemap"
)

type recordingTransport struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingTransport) Connect() error    { return nil }
func (r *recordingTransport) Disconnect() error { return nil }

func (r *recordingTransport) SendLine(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	return nil
}

func (r *recordingTransport) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func createTestServer(t *testing.T, modify func(*Options)) (*Server, http.Handler) {
	t.Helper()
	opts := Options{
		Session: tilemap.NewSession(tilemap.MapFrame{Name: "test", Center: tilemap.GeoPoint{Lat: 40, Lon: -105}}, nil),
		SimTick: time.Millisecond,
		Logger:  zerolog.Nop(),
	}
	if modify != nil {
		modify(&opts)
	}
	srv, err := NewServer(opts)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Simulator().Reset() })
	return srv, srv.Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestNewServerRequiresSession(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	_, h := createTestServer(t, nil)
	rec := do(h, "GET", "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st struct {
		Map struct {
			Name string `json:"name"`
		} `json:"map"`
		Waypoints int `json:"waypoints"`
		Car       struct {
			State string `json:"state"`
		} `json:"car"`
		Speeds []tilemap.SpeedEntry `json:"speeds"`
	}
	decode(t, rec, &st)
	assert.Equal(t, "test", st.Map.Name)
	assert.Equal(t, "idle", st.Car.State)
	assert.Len(t, st.Speeds, 4)

	assert.Equal(t, http.StatusNoContent, do(h, "GET", "/favicon.ico", "").Code)
}

func TestWaypointRoutes(t *testing.T) {
	_, h := createTestServer(t, nil)

	rec := do(h, "POST", "/api/waypoints", `{"lat":40,"lon":-105}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]int
	decode(t, rec, &created)
	assert.Equal(t, 0, created["index"])

	rec = do(h, "PUT", "/api/waypoints/0", `{"speed_label":"Fast","heading":90}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(h, "PUT", "/api/waypoints/0", `{"speed_label":"Warp"}`).Code)
	rec = do(h, "PUT", "/api/waypoints/0", `{"heading":600}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "heading")
	assert.Equal(t, http.StatusBadRequest, do(h, "PUT", "/api/waypoints/3", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, "POST", "/api/waypoints", `{"lat":`).Code)

	rec = do(h, "GET", "/api/waypoints.csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "40.0000000,-105.0000000,1443\n", rec.Body.String())

	rec = do(h, "PUT", "/api/waypoints.csv", "40.0,-105.0,9\n40.1,-105.0,1\n")
	require.Equal(t, http.StatusOK, rec.Code)
	var loaded struct {
		Waypoints int                `json:"waypoints"`
		Fallbacks []tilemap.Fallback `json:"fallbacks"`
	}
	decode(t, rec, &loaded)
	assert.Equal(t, 2, loaded.Waypoints)
	assert.Equal(t, []tilemap.Fallback{{Waypoint: 0, Code: 9, Used: "Slow"}}, loaded.Fallbacks)

	assert.Equal(t, http.StatusBadRequest, do(h, "PUT", "/api/waypoints.csv", "40.0,-105.0\n").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, "PUT", "/api/waypoints.csv", "40.0,-105.0,5761\n").Code)

	assert.Equal(t, http.StatusNoContent, do(h, "DELETE", "/api/waypoints/1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, "DELETE", "/api/waypoints/1", "").Code)
	assert.Equal(t, http.StatusNoContent, do(h, "DELETE", "/api/waypoints", "").Code)

	var wps []tilemap.Waypoint
	decode(t, do(h, "GET", "/api/waypoints", ""), &wps)
	assert.Empty(t, wps)
}

func TestMarkerRoutes(t *testing.T) {
	_, h := createTestServer(t, nil)

	csv := tilemap.FormatMarkersCSV(tilemap.AVCCourse())
	rec := do(h, "PUT", "/api/markers.csv", csv)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, csv, do(h, "GET", "/api/markers.csv", "").Body.String())

	rec = do(h, "POST", "/api/markers", `{"kind":"RECT","position":{"lat":40,"lon":-105},"diameter":45,"color":"blue","rotation":30}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]int
	decode(t, rec, &created)
	assert.Equal(t, 12, created["index"])

	rec = do(h, "PUT", "/api/markers/12", `{"rotation":-30}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var m tilemap.Marker
	decode(t, rec, &m)
	require.NotNil(t, m.Rotation)
	assert.Equal(t, 330, *m.Rotation)

	// barrels have no rotation
	assert.Equal(t, http.StatusBadRequest, do(h, "PUT", "/api/markers/0", `{"rotation":10}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, "PUT", "/api/markers/99", `{"rotation":10}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, "POST", "/api/markers", `{"kind":"TRIANGLE"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, "PUT", "/api/markers.csv", "CIRCLE,40\n").Code)

	assert.Equal(t, http.StatusNoContent, do(h, "DELETE", "/api/markers/0", "").Code)
	var markers []tilemap.Marker
	decode(t, do(h, "GET", "/api/markers", ""), &markers)
	assert.Len(t, markers, 12)

	assert.Equal(t, http.StatusNoContent, do(h, "DELETE", "/api/markers", "").Code)
	decode(t, do(h, "GET", "/api/markers", ""), &markers)
	assert.Empty(t, markers)
}

func TestGpsRefAndHitTest(t *testing.T) {
	srv, h := createTestServer(t, nil)

	rec := do(h, "PUT", "/api/gpsref", `{"marked":{"lat":40,"lon":-105},"surveyed":{"lat":40.0001,"lon":-105}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var ref struct {
		DeltaLat int32 `json:"delta_lat"`
		DeltaLon int32 `json:"delta_lon"`
	}
	decode(t, rec, &ref)
	assert.Equal(t, int32(1000), ref.DeltaLat)
	assert.Equal(t, int32(0), ref.DeltaLon)

	srv.session.AddWaypoint(tilemap.GeoPoint{Lat: 40, Lon: -105})

	var hit struct {
		Hit   bool   `json:"hit"`
		Kind  string `json:"kind"`
		Index int    `json:"index"`
	}
	decode(t, do(h, "GET", "/api/hit?x=4096&y=4096&zoom=21", ""), &hit)
	assert.True(t, hit.Hit)
	assert.Equal(t, "waypoint", hit.Kind)

	decode(t, do(h, "GET", "/api/hit?x=0&y=0&zoom=21", ""), &hit)
	assert.False(t, hit.Hit)

	assert.Equal(t, http.StatusBadRequest, do(h, "GET", "/api/hit?x=1&y=1&zoom=3", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, "GET", "/api/hit?x=a&y=1&zoom=21", "").Code)

	assert.Equal(t, http.StatusNoContent, do(h, "DELETE", "/api/gpsref", "").Code)
	_, ok := srv.session.GpsReference()
	assert.False(t, ok)
}

func TestSimulatorRoutes(t *testing.T) {
	srv, h := createTestServer(t, nil)

	rec := do(h, "POST", "/api/sim/start", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	srv.session.AddWaypoint(tilemap.GeoPoint{Lat: 40, Lon: -105})
	srv.session.AddWaypoint(tilemap.GeoPoint{Lat: 40.01, Lon: -105})
	assert.Equal(t, http.StatusBadRequest, do(h, "POST", "/api/sim/start", "").Code)

	rec = do(h, "PUT", "/api/car", `{"position":{"lat":40,"lon":-105},"heading":0}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, do(h, "POST", "/api/sim/start", "").Code)
	assert.Equal(t, http.StatusConflict, do(h, "POST", "/api/sim/start", "").Code)
	assert.Equal(t, http.StatusConflict, do(h, "PUT", "/api/car", `{"position":{"lat":40,"lon":-105}}`).Code)

	assert.Equal(t, http.StatusOK, do(h, "POST", "/api/sim/stop", "").Code)
	require.Equal(t, http.StatusOK, do(h, "POST", "/api/sim/reset", "").Code)
	assert.Equal(t, tilemap.SimIdle, srv.Simulator().State())

	car, ok := srv.session.Car()
	require.True(t, ok)
	assert.Equal(t, tilemap.GeoPoint{Lat: 40, Lon: -105}, car.Position)

	assert.Equal(t, http.StatusNoContent, do(h, "DELETE", "/api/car", "").Code)
	_, ok = srv.session.Car()
	assert.False(t, ok)
}

func TestUploadRoutes(t *testing.T) {
	_, h := createTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(h, "POST", "/api/upload", "").Code)

	link := &recordingTransport{}
	srv, h := createTestServer(t, func(o *Options) {
		o.Transport = func() tilemap.Transport { return link }
		o.Upload = tilemap.UploaderOptions{TickInterval: time.Millisecond}
	})

	assert.Equal(t, http.StatusNotFound, do(h, "GET", "/api/upload", "").Code)

	srv.session.SetDeclination(8.5)
	srv.session.AddWaypoint(tilemap.GeoPoint{Lat: 40, Lon: -105})
	rec := do(h, "POST", "/api/upload", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var job struct {
		ID string `json:"id"`
	}
	decode(t, rec, &job)
	assert.NotEmpty(t, job.ID)

	require.Eventually(t, func() bool {
		var st struct {
			Result struct {
				State string `json:"state"`
			} `json:"result"`
		}
		decode(t, do(h, "GET", "/api/upload", ""), &st)
		return st.Result.State == "complete"
	}, 5*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"z\n\r", "@0909\n\r", "$0017D78400C16A4580000157\n\r", "!\n\r"}, link.sent())
}

func TestUploadEmptyRoute(t *testing.T) {
	link := &recordingTransport{}
	srv, h := createTestServer(t, func(o *Options) {
		o.Transport = func() tilemap.Transport { return link }
		o.Upload = tilemap.UploaderOptions{TickInterval: time.Millisecond}
	})
	srv.session.SetDeclination(8.5)

	require.Equal(t, http.StatusAccepted, do(h, "POST", "/api/upload", "").Code)
	require.Eventually(t, func() bool {
		return srv.currentUpload().Result.State == tilemap.UploadComplete
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"z\n\r", "@0909\n\r", "!\n\r"}, link.sent())
}

func TestUploadInProgress(t *testing.T) {
	srv, h := createTestServer(t, func(o *Options) {
		o.Transport = func() tilemap.Transport { return &recordingTransport{} }
		o.Upload = tilemap.UploaderOptions{TickInterval: time.Millisecond, StartDelay: 100000}
	})
	srv.session.AddWaypoint(tilemap.GeoPoint{Lat: 40, Lon: -105})

	require.Equal(t, http.StatusAccepted, do(h, "POST", "/api/upload", "").Code)
	assert.Equal(t, http.StatusConflict, do(h, "POST", "/api/upload", "").Code)
	assert.Equal(t, http.StatusAccepted, do(h, "DELETE", "/api/upload", "").Code)

	require.Eventually(t, func() bool {
		return srv.currentUpload().Result.State == tilemap.UploadCancelled
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, http.StatusAccepted, do(h, "POST", "/api/upload", "").Code)
	do(h, "DELETE", "/api/upload", "")
}

func TestMapRoutes(t *testing.T) {
	_, h := createTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(h, "GET", "/api/maps", "").Code)

	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	srv, h := createTestServer(t, func(o *Options) { o.Store = st })

	srv.session.AddWaypoint(tilemap.GeoPoint{Lat: 40, Lon: -105})
	require.Equal(t, http.StatusOK, do(h, "POST", "/api/maps", "").Code)

	var maps []store.MapInfo
	decode(t, do(h, "GET", "/api/maps", ""), &maps)
	require.Len(t, maps, 1)
	assert.Equal(t, "test", maps[0].Name)
	assert.Equal(t, 1, maps[0].Waypoints)

	srv.session.ClearWaypoints()
	require.Equal(t, http.StatusOK, do(h, "GET", "/api/maps/test", "").Code)
	assert.Len(t, srv.session.Waypoints(), 1)

	assert.Equal(t, http.StatusNotFound, do(h, "GET", "/api/maps/missing", "").Code)
	assert.Equal(t, http.StatusNoContent, do(h, "DELETE", "/api/maps/test", "").Code)
	assert.Equal(t, http.StatusNotFound, do(h, "DELETE", "/api/maps/test", "").Code)
}

func TestReportAndGeoJSON(t *testing.T) {
	srv, h := createTestServer(t, nil)
	srv.session.AddWaypoint(tilemap.GeoPoint{Lat: 40, Lon: -105})
	srv.session.AddWaypoint(tilemap.GeoPoint{Lat: 40.001, Lon: -105})

	var report tilemap.Report
	decode(t, do(h, "GET", "/api/report", ""), &report)
	require.Len(t, report.Legs, 1)
	assert.InDelta(t, 364.8, report.TotalFeet, 0.5)

	rec := do(h, "GET", "/api/report?format=text", "")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Distance from waypoint 1 to waypoint 2 is"))

	rec = do(h, "GET", "/api/geojson?proj=3857", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	var fc struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	decode(t, rec, &fc)
	assert.Equal(t, "FeatureCollection", fc.Type)
	assert.Len(t, fc.Features, 3)
}

func TestWebSocket(t *testing.T) {
	srv, h := createTestServer(t, nil)
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.broadcastToClients(ctx)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "car_status", msg.Type)

	require.Eventually(t, func() bool {
		srv.clientsMu.Lock()
		defer srv.clientsMu.Unlock()
		return len(srv.clients) == 1
	}, 5*time.Second, 5*time.Millisecond)

	srv.publish("map", srv.session.Frame())
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "map", msg.Type)
	data, ok := msg.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "test", data["name"])
}

func TestListenAndServe(t *testing.T) {
	srv, _ := createTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Server did not shut down")
	}

	err := srv.ListenAndServe(context.Background(), "not-an-address")
	assert.Error(t, err)
}
