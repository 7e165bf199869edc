package restserver

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/powermeter/internal/dashboard"
	"github.com/chrissnell/powermeter/internal/database"
	"github.com/chrissnell/powermeter/internal/export"
	"github.com/chrissnell/powermeter/internal/ingest"
	"github.com/chrissnell/powermeter/internal/observability"
	"github.com/chrissnell/powermeter/internal/storage"
	"github.com/chrissnell/powermeter/internal/storage/gormstore"
	"github.com/chrissnell/powermeter/internal/storage/live"
	"github.com/chrissnell/powermeter/internal/types"
	"github.com/chrissnell/powermeter/pkg/config"
)

const (
	serviceKey = "service-secret"
	payload    = `{"voltage_1":230,"current_1":1,"power_1":230,"energy_1":10,"power_factor_1":0.9,` +
		`"voltage_2":231,"current_2":2,"power_2":462,"energy_2":20,"power_factor_2":0.95,` +
		`"voltage_3":229,"current_3":3,"power_3":687,"energy_3":5,"power_factor_3":1}`
)

type testServer struct {
	srv   *httptest.Server
	store *gormstore.Store
	hub   *live.Hub
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := database.CreateSQLiteConnection(filepath.Join(t.TempDir(), "powermeter.db"))
	require.NoError(t, err)
	store, err := gormstore.New(ctx, db, database.DialectSQLite, gormstore.Options{})
	require.NoError(t, err)

	hub := live.NewHub(nil)
	t.Cleanup(hub.Close)
	store.SetPublisher(hub)

	ts := &testServer{store: store, hub: hub}

	var baseURL string
	endpoint := func() (config.StoreData, error) {
		return config.StoreData{BaseURL: baseURL, ServiceKey: serviceKey}, nil
	}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	health := storage.NewHealthManager()
	health.UpdateHealth("sqlite", store.CheckHealth(ctx))

	var wg sync.WaitGroup
	ctrl, err := NewController(ctx, &wg, config.RESTServerData{}, Dependencies{
		Store:    store,
		Live:     hub,
		Health:   health,
		Ingest:   ingest.NewHandler(ingest.NewRelay(endpoint, nil), metrics),
		Endpoint: endpoint,
		Metrics:  metrics,
		Gatherer: prometheus.NewRegistry(),
	}, nil)
	require.NoError(t, err)

	ts.srv = httptest.NewServer(ctrl.Handler())
	t.Cleanup(ts.srv.Close)
	baseURL = ts.srv.URL

	tok, err := store.IssueToken(ctx, "alice")
	require.NoError(t, err)
	ts.token = tok.Token
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, auth, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestIngestionRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, ingest.FunctionPath, ts.token, payload)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool                  `json:"success"`
		Data    []types.SensorReading `json:"data"`
	}
	decode(t, resp, &body)
	assert.True(t, body.Success)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "alice", body.Data[0].UserID)
	assert.Equal(t, 230.0, body.Data[0].Voltage1)

	latest, err := ts.store.LatestReading(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, body.Data[0].ID, latest.ID)
}

func TestIngestionRejectsUnknownToken(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, ingest.FunctionPath, "not-a-token", payload)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "Failed to insert data: Unauthorized", body["error"])

	rows, err := ts.store.RecentReadings(context.Background(), storage.AllUsers(), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStoreSurface(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		apikey string
		token  string
		body   string
		status int
	}{
		{"inserts", serviceKey, ts.token, payload, http.StatusCreated},
		{"wrong apikey", "nope", ts.token, payload, http.StatusUnauthorized},
		{"unknown token", serviceKey, "nope", payload, http.StatusUnauthorized},
		{"missing field", serviceKey, ts.token, `{"voltage_1":1}`, http.StatusBadRequest},
		{"non-numeric field", serviceKey, ts.token, strings.Replace(payload, `"voltage_1":230`, `"voltage_1":"high"`, 1), http.StatusBadRequest},
		{"unknown field", serviceKey, ts.token, strings.Replace(payload, `{`, `{"extra":1,`, 1), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, ts.srv.URL+ingest.StoreInsertPath, strings.NewReader(tt.body))
			require.NoError(t, err)
			req.Header.Set("apikey", tt.apikey)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestIngestionPreflight(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodOptions, ingest.FunctionPath, "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Empty(t, b)
}

func TestDashboard(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/dashboard", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/v1/dashboard", ts.token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var empty dashboard.Frame
	decode(t, resp, &empty)
	assert.Nil(t, empty.Reading)
	assert.Equal(t, "--", empty.Display.EstimatedBill)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, ingest.FunctionPath, ts.token, payload).StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/v1/dashboard", ts.token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var frame dashboard.Frame
	decode(t, resp, &frame)
	require.NotNil(t, frame.Reading)
	assert.Equal(t, "35.00", frame.Display.TotalEnergy)
	assert.Equal(t, "437.50", frame.Display.EstimatedBill)
	assert.Equal(t, "0.950", frame.Display.AveragePowerFactor)
}

func TestSettings(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/v1/settings", ts.token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var s types.UserSettings
	decode(t, resp, &s)
	assert.Equal(t, 12.5, s.CostRate)
	assert.Equal(t, "UTC", s.Timezone)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"cost_rate_php_per_kwh":10,"timezone":"UTC","display_name":"Home"}`, http.StatusOK},
		{"negative rate", `{"cost_rate_php_per_kwh":-1}`, http.StatusBadRequest},
		{"bad timezone", `{"timezone":"Mars/Olympus"}`, http.StatusBadRequest},
		{"unknown field", `{"rate":1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPut, "/api/v1/settings", ts.token, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, ingest.FunctionPath, ts.token, payload).StatusCode)
	resp = ts.do(t, http.MethodGet, "/api/v1/dashboard", ts.token, "")
	var frame dashboard.Frame
	decode(t, resp, &frame)
	assert.Equal(t, "350.00", frame.Display.EstimatedBill)
}

func TestExportAndReset(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, ingest.FunctionPath, ts.token, payload).StatusCode)
	}

	resp := ts.do(t, http.MethodGet, "/api/v1/export.csv", ts.token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "sensor_readings_")
	records, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, export.Header, records[0])

	resp = ts.do(t, http.MethodDelete, "/api/v1/readings", ts.token, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	rows, err := ts.store.RecentReadings(context.Background(), storage.UserScope("alice"), 10)
	require.NoError(t, err)
	assert.Len(t, rows, 3, "unconfirmed reset must not delete")

	resp = ts.do(t, http.MethodDelete, "/api/v1/readings?confirm=true", ts.token, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]int64
	decode(t, resp, &out)
	assert.Equal(t, int64(3), out["deleted"])

	resp = ts.do(t, http.MethodGet, "/api/v1/export.csv", ts.token, "")
	records, err = csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestServiceKeyExportsAllUsers(t *testing.T) {
	ts := newTestServer(t)
	bob, err := ts.store.IssueToken(context.Background(), "bob")
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, ingest.FunctionPath, ts.token, payload).StatusCode)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, ingest.FunctionPath, bob.Token, payload).StatusCode)

	resp := ts.do(t, http.MethodGet, "/api/v1/export.csv", serviceKey, "")
	records, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)

	resp = ts.do(t, http.MethodGet, "/api/v1/export.csv", bob.Token, "")
	records, err = csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 2)

	resp = ts.do(t, http.MethodGet, "/api/v1/dashboard", serviceKey, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLiveFeed(t *testing.T) {
	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/v1/live?token=" + ts.token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial dashboard.Frame
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, dashboard.SourceInitial, initial.Source)
	assert.Nil(t, initial.Reading)

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, ingest.FunctionPath, ts.token, payload).StatusCode)

	var frame dashboard.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, dashboard.SourceLive, frame.Source)
	require.NotNil(t, frame.Reading)
	assert.Equal(t, "437.50", frame.Display.EstimatedBill)

	conn.Close()
	require.Eventually(t, func() bool { return ts.hub.SubscriberCount("alice") == 0 }, 2*time.Second, 10*time.Millisecond)
}
