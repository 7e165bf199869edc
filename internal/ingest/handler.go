package ingest

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/chrissnell/powermeter/internal/observability"
	"github.com/chrissnell/powermeter/pkg/responseformat"
)

// FunctionPath is the route sensors post to
const FunctionPath = "/functions/v1/insert-sensor-data"

// MaxBodyBytes bounds a submission body
const MaxBodyBytes = 1 << 20

const missingAuthMessage = "Missing authorization header"

// CORSHeaders are sent on every ingestion response, preflight included
var CORSHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type, Authorization, X-Client-Info, Apikey",
}

// Handler serves the ingestion endpoint over HTTP
type Handler struct {
	relay     *Relay
	metrics   *observability.Metrics
	formatter *responseformat.Formatter
}

// NewHandler wraps relay in an HTTP handler
func NewHandler(relay *Relay, metrics *observability.Metrics) *Handler {
	return &Handler{
		relay:     relay,
		metrics:   metrics,
		formatter: responseformat.NewFormatter(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()

	if req.Method == http.MethodOptions {
		for k, v := range CORSHeaders {
			w.Header().Set(k, v)
		}
		w.WriteHeader(http.StatusOK)
		h.metrics.ObserveIngest(observability.OutcomePreflight, time.Since(start))
		return
	}

	credential := req.Header.Get("Authorization")
	if credential == "" {
		h.fail(w, start, http.StatusUnauthorized, observability.OutcomeUnauthorized, missingAuthMessage)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, MaxBodyBytes))
	if err != nil {
		h.fail(w, start, http.StatusInternalServerError, observability.OutcomeBadBody, err.Error())
		return
	}

	data, err := h.relay.Forward(req.Context(), credential, body)
	if err != nil {
		h.fail(w, start, http.StatusInternalServerError, outcomeFor(err), err.Error())
		return
	}

	h.formatter.WriteStatus(w, nil, http.StatusOK, responseformat.SuccessBody{Success: true, Data: data}, CORSHeaders)
	h.metrics.ObserveIngest(observability.OutcomeSuccess, time.Since(start))
}

func (h *Handler) fail(w http.ResponseWriter, start time.Time, status int, outcome, msg string) {
	h.formatter.WriteStatus(w, nil, status, responseformat.ErrorBody{Error: msg}, CORSHeaders)
	h.metrics.ObserveIngest(outcome, time.Since(start))
}

func outcomeFor(err error) string {
	var upstream *UpstreamWriteError
	var body *BodyError
	switch {
	case errors.Is(err, ErrUnauthorized):
		return observability.OutcomeUnauthorized
	case errors.As(err, &body):
		return observability.OutcomeBadBody
	case errors.Is(err, ErrConfiguration):
		return observability.OutcomeConfiguration
	case errors.As(err, &upstream):
		return observability.OutcomeUpstreamError
	default:
		return observability.OutcomeTransportError
	}
}
