package restserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/chrissnell/powermeter/internal/dashboard"
	"github.com/chrissnell/powermeter/internal/derived"
	"github.com/chrissnell/powermeter/internal/export"
	"github.com/chrissnell/powermeter/internal/storage"
	"github.com/chrissnell/powermeter/internal/types"
	"github.com/chrissnell/powermeter/pkg/config"
	"github.com/chrissnell/powermeter/pkg/responseformat"
)

// healthMaxAge is how stale a backend health report may be before /healthz fails
const healthMaxAge = 2 * time.Minute

// Handlers contains all HTTP handlers for the REST server
type Handlers struct {
	controller *Controller
	formatter  *responseformat.Formatter
}

// NewHandlers creates a new handlers instance
func NewHandlers(ctrl *Controller) *Handlers {
	return &Handlers{
		controller: ctrl,
		formatter:  responseformat.NewFormatter(),
	}
}

func (h *Handlers) store() storage.ReadingStore {
	return h.controller.deps.Store
}

// InsertReading is the store's insert route. The caller must present the
// service key as apikey and the meter owner's token as a bearer credential.
func (h *Handlers) InsertReading(w http.ResponseWriter, r *http.Request) {
	if !h.controller.isServiceKey(r.Header.Get("apikey")) {
		h.formatter.WriteError(w, r, http.StatusUnauthorized, "invalid apikey")
		return
	}

	token := bearerToken(r)
	userID, err := h.store().ResolveToken(r.Context(), token)
	if errors.Is(err, storage.ErrInvalidToken) {
		h.formatter.WriteError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	if err != nil {
		h.controller.logger.Errorf("error resolving token: %v", err)
		h.formatter.WriteError(w, r, http.StatusInternalServerError, "could not verify token")
		return
	}

	var p types.Payload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		h.formatter.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := p.Validate(); err != nil {
		h.formatter.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	reading, err := h.store().InsertReading(r.Context(), userID, p)
	var ve *types.ValidationError
	if errors.As(err, &ve) {
		h.formatter.WriteError(w, r, http.StatusBadRequest, ve.Error())
		return
	}
	if err != nil {
		h.controller.logger.Errorf("error inserting reading for %s: %v", userID, err)
		h.formatter.WriteError(w, r, http.StatusInternalServerError, "could not insert reading")
		return
	}

	h.formatter.WriteStatus(w, r, http.StatusCreated, []types.SensorReading{reading}, nil)
}

// GetDashboard renders the caller's dashboard once
func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	initial := dashboard.LoadInitial(r.Context(), h.store(), userID, h.controller.logger)
	frame := dashboard.NewFrame(userID, dashboard.SourceInitial, initial.Reading, initial.Settings)
	h.controller.deps.Metrics.IncRender()

	if err := h.formatter.WriteResponse(w, r, frame, nil); err != nil {
		h.controller.logger.Errorf("error writing dashboard response: %v", err)
	}
}

// GetSettings returns the caller's settings, or the defaults when none were saved
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	s, err := h.store().GetSettings(r.Context(), userID)
	if err != nil {
		h.controller.logger.Errorf("error fetching settings for %s: %v", userID, err)
		h.formatter.WriteError(w, r, http.StatusInternalServerError, "could not fetch settings")
		return
	}
	if s == nil {
		s = defaultSettings(userID)
	}

	h.formatter.WriteResponse(w, r, s, nil)
}

type settingsRequest struct {
	CostRate    *float64 `json:"cost_rate_php_per_kwh"`
	Timezone    *string  `json:"timezone"`
	DisplayName *string  `json:"display_name"`
}

// PutSettings updates the caller's settings. Omitted fields keep their current value.
func (h *Handlers) PutSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req settingsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.formatter.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	current, err := h.store().GetSettings(r.Context(), userID)
	if err != nil {
		h.controller.logger.Errorf("error fetching settings for %s: %v", userID, err)
		h.formatter.WriteError(w, r, http.StatusInternalServerError, "could not fetch settings")
		return
	}
	if current == nil {
		current = defaultSettings(userID)
	}
	next := *current

	if req.CostRate != nil {
		if *req.CostRate < 0 {
			h.formatter.WriteError(w, r, http.StatusBadRequest, "cost_rate_php_per_kwh must not be negative")
			return
		}
		next.CostRate = *req.CostRate
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil || *req.Timezone == "" {
			h.formatter.WriteError(w, r, http.StatusBadRequest, "unknown timezone")
			return
		}
		next.Timezone = *req.Timezone
	}
	if req.DisplayName != nil {
		next.DisplayName = *req.DisplayName
	}

	saved, err := h.store().UpsertSettings(r.Context(), next)
	if err != nil {
		h.controller.logger.Errorf("error saving settings for %s: %v", userID, err)
		h.formatter.WriteError(w, r, http.StatusInternalServerError, "could not save settings")
		return
	}

	h.formatter.WriteResponse(w, r, saved, nil)
}

// ExportCSV downloads the newest readings in the caller's scope as CSV
func (h *Handlers) ExportCSV(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	scope := p.scope()

	readings, err := h.store().RecentReadings(r.Context(), scope, export.MaxRows)
	if err != nil {
		h.controller.logger.Errorf("error fetching readings for export: %v", err)
		h.formatter.WriteError(w, r, http.StatusInternalServerError, "could not fetch readings")
		return
	}

	loc := time.UTC
	if p.UserID != "" {
		if s, err := h.store().GetSettings(r.Context(), p.UserID); err == nil {
			loc = s.Location()
		}
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, readings, loc); err != nil {
		h.controller.logger.Errorf("error writing CSV export: %v", err)
		h.formatter.WriteError(w, r, http.StatusInternalServerError, "could not build export")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(time.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
	h.controller.deps.Metrics.AddExported(len(readings))
}

// ResetReadings deletes every reading in the caller's scope. It refuses
// unless confirm=true is passed.
func (h *Handlers) ResetReadings(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFromContext(r.Context())
	metrics := h.controller.deps.Metrics

	n, err := dashboard.ResetReadings(r.Context(), h.store(), p.scope(), r.URL.Query().Get("confirm") == "true")
	if errors.Is(err, dashboard.ErrResetNotConfirmed) {
		metrics.IncReset("refused")
		h.formatter.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		metrics.IncReset("failed")
		h.controller.logger.Errorf("error resetting readings: %v", err)
		h.formatter.WriteError(w, r, http.StatusInternalServerError, "could not delete readings")
		return
	}

	metrics.IncReset("deleted")
	h.controller.logger.Infow("readings reset", "user_id", p.UserID, "all_users", p.Service, "deleted", n)
	h.formatter.WriteResponse(w, r, map[string]int64{"deleted": n}, nil)
}

type healthResponse struct {
	Status   string                              `json:"status"`
	Backends map[string]config.StorageHealthData `json:"backends"`
}

// Health reports backend health; 503 when any backend is unhealthy or stale
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	hm := h.controller.deps.Health
	if hm == nil {
		h.formatter.WriteResponse(w, r, healthResponse{Status: storage.StatusHealthy}, nil)
		return
	}

	resp := healthResponse{Status: storage.StatusHealthy, Backends: hm.GetAllHealth()}
	status := http.StatusOK
	if !hm.AllHealthy(healthMaxAge) {
		resp.Status = storage.StatusUnhealthy
		status = http.StatusServiceUnavailable
	}
	h.formatter.WriteStatus(w, r, status, resp, nil)
}

func defaultSettings(userID string) *types.UserSettings {
	return &types.UserSettings{
		UserID:   userID,
		CostRate: derived.DefaultCostRate,
		Timezone: "UTC",
	}
}
