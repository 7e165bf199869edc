package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/chrissnell/powermeter/internal/log"
	"github.com/chrissnell/powermeter/pkg/config"
)

// StoreInsertPath is the store's insert route, relative to its base URL
const StoreInsertPath = "/rest/v1/sensor_readings"

// DefaultTimeout bounds a single upstream insert
const DefaultTimeout = 15 * time.Second

// EndpointFunc resolves the store URL and service key. It runs on every
// request so that rotated credentials apply without a restart.
type EndpointFunc func() (config.StoreData, error)

// ProviderEndpoint resolves the endpoint from the config provider with
// environment overrides applied.
func ProviderEndpoint(cp config.ConfigProvider) EndpointFunc {
	return func() (config.StoreData, error) {
		file, err := cp.GetStoreConfig()
		if err != nil {
			return config.StoreData{}, err
		}
		return config.StoreEndpoint(*file)
	}
}

// Relay forwards a submission verbatim to the Reading Store. It never
// retries, deduplicates, or validates the payload.
type Relay struct {
	client   *resty.Client
	endpoint EndpointFunc
	logger   *zap.SugaredLogger
}

// NewRelay creates a relay. A nil client gets a default resty client.
func NewRelay(endpoint EndpointFunc, client *resty.Client) *Relay {
	if client == nil {
		client = resty.New().SetTimeout(DefaultTimeout)
	}
	return &Relay{
		client:   client,
		endpoint: endpoint,
		logger:   log.Named("ingest"),
	}
}

// Forward inserts body on behalf of credential and returns the store's
// representation of the new row. Checks run in a fixed order: credential,
// body syntax, configuration, then the upstream write.
func (r *Relay) Forward(ctx context.Context, credential string, body []byte) (json.RawMessage, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, ErrUnauthorized
	}

	var probe any
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, &BodyError{Err: err}
	}

	ep, err := r.endpoint()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("Authorization", credential).
		SetHeader("apikey", ep.ServiceKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Prefer", "return=representation").
		SetBody(body).
		Post(strings.TrimRight(ep.BaseURL, "/") + StoreInsertPath)
	if err != nil {
		return nil, fmt.Errorf("could not reach store: %w", err)
	}

	if !resp.IsSuccess() {
		r.logger.Warnw("store rejected insert", "status", resp.StatusCode(), "body", string(resp.Body()))
		return nil, &UpstreamWriteError{
			StatusCode: resp.StatusCode(),
			Status:     http.StatusText(resp.StatusCode()),
			Body:       string(resp.Body()),
		}
	}

	data := resp.Body()
	if len(data) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("store returned a non-JSON body")
	}
	return json.RawMessage(data), nil
}
