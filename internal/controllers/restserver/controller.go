package restserver

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/chrissnell/powermeter/internal/dashboard"
	"github.com/chrissnell/powermeter/internal/ingest"
	"github.com/chrissnell/powermeter/internal/log"
	"github.com/chrissnell/powermeter/internal/observability"
	"github.com/chrissnell/powermeter/internal/storage"
	"github.com/chrissnell/powermeter/pkg/config"
)

// Dependencies are the components the REST server exposes
type Dependencies struct {
	Store    storage.ReadingStore
	Live     dashboard.Subscriber
	Health   *storage.HealthManager
	Ingest   http.Handler
	Endpoint ingest.EndpointFunc
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
}

// Controller represents the REST server controller
type Controller struct {
	ctx        context.Context
	wg         *sync.WaitGroup
	restConfig config.RESTServerData
	Server     http.Server
	deps       Dependencies
	logger     *zap.SugaredLogger
	handlers   *Handlers
}

// NewController creates a new REST server controller
func NewController(ctx context.Context, wg *sync.WaitGroup, rc config.RESTServerData, deps Dependencies, logger *zap.SugaredLogger) (*Controller, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("REST server requires a reading store")
	}
	if deps.Live == nil {
		return nil, fmt.Errorf("REST server requires a live subscription hub")
	}
	if logger == nil {
		logger = log.Named("restserver")
	}

	ctrl := &Controller{
		ctx:    ctx,
		wg:     wg,
		deps:   deps,
		logger: logger,
	}

	// If a ListenAddr was not provided, listen on all interfaces
	if rc.ListenAddr == "" {
		logger.Info("rest.listen_addr not provided; defaulting to 0.0.0.0 (all interfaces)")
		rc.ListenAddr = "0.0.0.0"
	}

	if rc.Port == 0 {
		logger.Info("rest.port not provided; defaulting to 8080")
		rc.Port = 8080
	}
	ctrl.restConfig = rc

	ctrl.handlers = NewHandlers(ctrl)

	ctrl.Server.Addr = fmt.Sprintf("%v:%v", rc.ListenAddr, rc.Port)
	ctrl.Server.Handler = ctrl.Handler()

	return ctrl, nil
}

// StartController starts the REST server
func (c *Controller) StartController() error {
	log.Info("Starting REST server controller...")
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		if c.restConfig.Cert != "" && c.restConfig.Key != "" {
			if err := c.Server.ListenAndServeTLS(c.restConfig.Cert, c.restConfig.Key); err != http.ErrServerClosed {
				log.Errorf("REST server error: %v", err)
			}
		} else {
			if err := c.Server.ListenAndServe(); err != http.ErrServerClosed {
				log.Errorf("REST server error: %v", err)
			}
		}
	}()

	go func() {
		<-c.ctx.Done()
		log.Info("Shutting down the REST server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Server.Shutdown(shutdownCtx)
	}()

	return nil
}

// Handler returns the fully wrapped router
func (c *Controller) Handler() http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:       []string{"*"},
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:       []string{"Content-Type", "Authorization", "X-Client-Info", "Apikey", "Prefer"},
		OptionsSuccessStatus: http.StatusOK,
	})
	return log.HTTPMiddleware(corsHandler.Handler(c.setupRouter()))
}

// setupRouter configures the HTTP router with all endpoints
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()

	// Ingestion endpoint, called by meters
	if c.deps.Ingest != nil {
		router.Handle(ingest.FunctionPath, c.deps.Ingest).Methods(http.MethodPost, http.MethodOptions)
	}

	// The store's REST surface, called by the ingestion relay
	router.HandleFunc(ingest.StoreInsertPath, c.handlers.InsertReading).Methods(http.MethodPost)

	// Dashboard API (token required)
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(c.authMiddleware)
	api.HandleFunc("/dashboard", c.handlers.GetDashboard).Methods(http.MethodGet)
	api.HandleFunc("/live", c.handlers.LiveFeed).Methods(http.MethodGet)
	api.HandleFunc("/settings", c.handlers.GetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", c.handlers.PutSettings).Methods(http.MethodPut)
	api.HandleFunc("/export.csv", c.handlers.ExportCSV).Methods(http.MethodGet)
	api.HandleFunc("/readings", c.handlers.ResetReadings).Methods(http.MethodDelete)

	router.HandleFunc("/healthz", c.handlers.Health).Methods(http.MethodGet)
	if c.deps.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(c.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return router
}
