package ingest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrissnell/powermeter/pkg/config"
)

func serve(t *testing.T, h http.Handler, method, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, FunctionPath, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), "body: %s", rec.Body.String())
	return m
}

func TestHandlerPreflight(t *testing.T) {
	store := newFakeStore(t, http.StatusCreated, `[]`)
	h := NewHandler(NewRelay(store.endpoint(), nil), nil)

	rec := serve(t, h, http.MethodOptions, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization, X-Client-Info, Apikey", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Zero(t, store.callCount())
}

func TestHandlerMissingAuthorization(t *testing.T) {
	store := newFakeStore(t, http.StatusCreated, `[]`)
	h := NewHandler(NewRelay(store.endpoint(), nil), nil)

	for _, body := range []string{samplePayload, `not json`, ``} {
		rec := serve(t, h, http.MethodPost, "", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Missing authorization header", decodeBody(t, rec)["error"])
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	assert.Zero(t, store.callCount(), "no store access without a credential")
}

func TestHandlerOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		storeBody   string
		body        string
		noConfig    bool
		code        int
		errContains string
	}{
		{name: "success", status: http.StatusCreated, storeBody: `[{"id":"r1"}]`, body: samplePayload, code: http.StatusOK},
		{name: "bad json", status: http.StatusCreated, body: `{`, code: http.StatusInternalServerError, errContains: "parse"},
		{name: "missing config", status: http.StatusCreated, body: samplePayload, noConfig: true, code: http.StatusInternalServerError, errContains: "missing store configuration"},
		{name: "store rejects", status: http.StatusConflict, storeBody: `{}`, body: samplePayload, code: http.StatusInternalServerError, errContains: "Failed to insert data: Conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(t, tt.status, tt.storeBody)
			ep := store.endpoint()
			if tt.noConfig {
				ep = staticEndpoint(config.StoreData{})
			}
			h := NewHandler(NewRelay(ep, nil), nil)

			rec := serve(t, h, http.MethodPost, "Bearer device", tt.body)
			require.Equal(t, tt.code, rec.Code)
			body := decodeBody(t, rec)

			if tt.errContains != "" {
				assert.Contains(t, body["error"], tt.errContains)
				return
			}
			assert.Equal(t, true, body["success"])
			data, ok := body["data"].([]any)
			require.True(t, ok, "data = %#v", body["data"])
			assert.Equal(t, "r1", data[0].(map[string]any)["id"])
		})
	}
}
