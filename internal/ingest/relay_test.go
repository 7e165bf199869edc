package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/powermeter/pkg/config"
)

const samplePayload = `{"voltage_1":230.1,"current_1":1.2,"power_1":276,"energy_1":12.5,"power_factor_1":0.98,` +
	`"voltage_2":229.8,"current_2":0.4,"power_2":92,"energy_2":3.1,"power_factor_2":0.91,` +
	`"voltage_3":231,"current_3":2.2,"power_3":508,"energy_3":20.4,"power_factor_3":0.99}`

type upstreamCall struct {
	method  string
	path    string
	headers http.Header
	body    string
}

// fakeStore records every request and answers with a fixed status and body
type fakeStore struct {
	mu     sync.Mutex
	calls  []upstreamCall
	status int
	body   string
	srv    *httptest.Server
}

func newFakeStore(t *testing.T, status int, body string) *fakeStore {
	t.Helper()
	f := &fakeStore{status: status, body: body}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.calls = append(f.calls, upstreamCall{method: r.Method, path: r.URL.Path, headers: r.Header.Clone(), body: string(b)})
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		io.WriteString(w, f.body)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStore) endpoint() EndpointFunc {
	return staticEndpoint(config.StoreData{BaseURL: f.srv.URL, ServiceKey: "service-secret"})
}

func staticEndpoint(sd config.StoreData) EndpointFunc {
	return func() (config.StoreData, error) {
		if sd.BaseURL == "" || sd.ServiceKey == "" {
			return config.StoreData{}, config.ErrStoreNotConfigured
		}
		return sd, nil
	}
}

func TestForwardSendsBodyVerbatim(t *testing.T) {
	store := newFakeStore(t, http.StatusCreated, `[{"id":"abc"}]`)
	relay := NewRelay(store.endpoint(), nil)

	data, err := relay.Forward(context.Background(), "Bearer device-token", []byte(samplePayload))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"abc"}]`, string(data))

	require.Equal(t, 1, store.callCount())
	call := store.calls[0]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, StoreInsertPath, call.path)
	assert.Equal(t, samplePayload, call.body)
	assert.Equal(t, "Bearer device-token", call.headers.Get("Authorization"))
	assert.Equal(t, "service-secret", call.headers.Get("apikey"))
	assert.Equal(t, "application/json", call.headers.Get("Content-Type"))
	assert.Equal(t, "return=representation", call.headers.Get("Prefer"))
}

func TestForwardErrors(t *testing.T) {
	tests := []struct {
		name       string
		credential string
		body       string
		status     int
		noConfig   bool
		check      func(t *testing.T, err error)
		wantCalls  int
	}{
		{
			name:   "missing credential",
			body:   samplePayload,
			status: http.StatusCreated,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrUnauthorized)
			},
		},
		{
			name:       "unparseable body",
			credential: "Bearer x",
			body:       `{"voltage_1":`,
			status:     http.StatusCreated,
			check: func(t *testing.T, err error) {
				var be *BodyError
				assert.True(t, errors.As(err, &be), "expected BodyError, got %v", err)
			},
		},
		{
			name:       "missing configuration",
			credential: "Bearer x",
			body:       samplePayload,
			status:     http.StatusCreated,
			noConfig:   true,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrConfiguration)
				assert.ErrorIs(t, err, config.ErrStoreNotConfigured)
			},
		},
		{
			name:       "store rejects",
			credential: "Bearer x",
			body:       samplePayload,
			status:     http.StatusBadRequest,
			wantCalls:  1,
			check: func(t *testing.T, err error) {
				var ue *UpstreamWriteError
				require.True(t, errors.As(err, &ue), "expected UpstreamWriteError, got %v", err)
				assert.Equal(t, http.StatusBadRequest, ue.StatusCode)
				assert.Equal(t, "Failed to insert data: Bad Request", ue.Error())
			},
		},
		{
			name:       "store unauthorized",
			credential: "Bearer revoked",
			body:       samplePayload,
			status:     http.StatusUnauthorized,
			wantCalls:  1,
			check: func(t *testing.T, err error) {
				assert.EqualError(t, err, "Failed to insert data: Unauthorized")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(t, tt.status, `{"message":"nope"}`)
			ep := store.endpoint()
			if tt.noConfig {
				ep = staticEndpoint(config.StoreData{BaseURL: store.srv.URL})
			}

			_, err := NewRelay(ep, nil).Forward(context.Background(), tt.credential, []byte(tt.body))
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, tt.wantCalls, store.callCount())
		})
	}
}

func TestForwardEmptyUpstreamBody(t *testing.T) {
	store := newFakeStore(t, http.StatusCreated, "")
	data, err := NewRelay(store.endpoint(), nil).Forward(context.Background(), "Bearer x", []byte(samplePayload))
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestForwardDoesNotValidateOrDeduplicate(t *testing.T) {
	store := newFakeStore(t, http.StatusCreated, `[]`)
	relay := NewRelay(store.endpoint(), nil)

	for i := 0; i < 2; i++ {
		_, err := relay.Forward(context.Background(), "Bearer x", []byte(`{"voltage_1":"not a number"}`))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, store.callCount())
}

func TestProviderEndpointPrefersEnvironment(t *testing.T) {
	t.Setenv(config.EnvStoreURL, "http://env-store")
	t.Setenv(config.EnvStoreServiceKey, "")

	cp := &storeProvider{store: config.StoreData{BaseURL: "http://file-store", ServiceKey: "file-key"}}
	ep, err := ProviderEndpoint(cp)()
	require.NoError(t, err)
	assert.Equal(t, "http://env-store", ep.BaseURL)
	assert.Equal(t, "file-key", ep.ServiceKey)
}

func TestBearerCredential(t *testing.T) {
	assert.Equal(t, "Bearer abc", BearerCredential("abc"))
	assert.Equal(t, "Bearer abc", BearerCredential("Bearer abc"))
}

func TestNewMQTTSourceValidates(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.MQTTData
		ok   bool
	}{
		{"complete", config.MQTTData{Broker: "tcp://localhost:1883", Topic: "meters/+", Token: "t"}, true},
		{"no broker", config.MQTTData{Topic: "meters/+", Token: "t"}, false},
		{"no topic", config.MQTTData{Broker: "tcp://localhost:1883", Token: "t"}, false},
		{"no token", config.MQTTData{Broker: "tcp://localhost:1883", Topic: "meters/+"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewMQTTSource(tt.cfg, nil)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, "powermeter-ingest", src.cfg.ClientID)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

type storeProvider struct {
	store config.StoreData
}

func (p *storeProvider) LoadConfig() (*config.ConfigData, error) {
	return &config.ConfigData{Store: p.store}, nil
}
func (p *storeProvider) GetStoreConfig() (*config.StoreData, error) { return &p.store, nil }
func (p *storeProvider) GetStorageConfig() (*config.StorageData, error) {
	return &config.StorageData{}, nil
}
func (p *storeProvider) GetRESTConfig() (*config.RESTServerData, error) {
	return &config.RESTServerData{}, nil
}
func (p *storeProvider) GetIngestConfig() (*config.IngestData, error) {
	return &config.IngestData{}, nil
}
func (p *storeProvider) IsReadOnly() bool { return true }
func (p *storeProvider) Close() error     { return nil }
