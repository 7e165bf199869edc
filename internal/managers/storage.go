package managers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chrissnell/powermeter/internal/database"
	"github.com/chrissnell/powermeter/internal/log"
	"github.com/chrissnell/powermeter/internal/observability"
	"github.com/chrissnell/powermeter/internal/storage"
	"github.com/chrissnell/powermeter/internal/storage/cache"
	"github.com/chrissnell/powermeter/internal/storage/gormstore"
	"github.com/chrissnell/powermeter/internal/storage/live"
	"github.com/chrissnell/powermeter/internal/storage/pgnotify"
	"github.com/chrissnell/powermeter/internal/types"
	"github.com/chrissnell/powermeter/pkg/config"
)

const healthCheckInterval = 60 * time.Second

// StorageManager owns the Reading Store and the engines that every
// committed reading is fanned out to
type StorageManager struct {
	Engines            []StorageEngine
	ReadingDistributor chan types.SensorReading

	// Store is the ReadingStore handed to controllers; it is the gorm store,
	// optionally wrapped by the Redis read-through cache
	Store  storage.ReadingStore
	Hub    *live.Hub
	Health *storage.HealthManager

	ctx     context.Context
	metrics *observability.Metrics
}

// StorageEngine holds a backend storage engine's interface as well as
// a channel for passing readings to the engine
type StorageEngine struct {
	Name   string
	Engine storage.StorageEngineInterface
	C      chan<- types.SensorReading
}

// NewStorageManager opens the configured database, builds the live hub and
// any cache, and starts the reading distributor
func NewStorageManager(ctx context.Context, wg *sync.WaitGroup, configProvider config.ConfigProvider, metrics *observability.Metrics) (*StorageManager, error) {
	sc, err := configProvider.GetStorageConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading storage configuration: %v", err)
	}

	s := &StorageManager{
		ReadingDistributor: make(chan types.SensorReading, 20),
		Health:             storage.NewHealthManager(),
		ctx:                ctx,
		metrics:            metrics,
	}

	db, dialect, err := database.Open(*sc)
	if err != nil {
		return nil, fmt.Errorf("could not open reading store database: %v", err)
	}

	listenNotify := sc.TimescaleDB != nil && sc.TimescaleDB.ListenNotify
	store, err := gormstore.New(ctx, db, dialect, gormstore.Options{ListenNotify: listenNotify})
	if err != nil {
		return nil, err
	}
	s.Store = store
	storage.StartHealthMonitor(ctx, s.Health, "database", store, healthCheckInterval)

	s.Hub = live.NewHub(metrics)
	s.AddEngine(ctx, wg, "live", s.Hub)
	storage.StartHealthMonitor(ctx, s.Health, "live", s.Hub, healthCheckInterval)

	if sc.Redis != nil && sc.Redis.Addr != "" {
		rc, err := cache.New(ctx, *sc.Redis)
		if err != nil {
			return nil, fmt.Errorf("could not add redis cache: %v", err)
		}
		s.AddEngine(ctx, wg, "redis", rc)
		s.Store = cache.NewReadThrough(store, rc)
		storage.StartHealthMonitor(ctx, s.Health, "redis", rc, healthCheckInterval)
		go func() {
			<-ctx.Done()
			rc.Close()
		}()
	}

	// With LISTEN/NOTIFY the database announces every insert, including those
	// made by other instances, so in-process publishing is switched off.
	if listenNotify {
		listener := pgnotify.New(sc.TimescaleDB.ConnectionString, gormstore.NotifyChannel, s)
		wg.Add(1)
		go func() {
			defer wg.Done()
			listener.Run(ctx)
		}()
	} else {
		store.SetPublisher(s)
	}

	wg.Add(1)
	go s.startReadingDistributor(ctx, wg)

	return s, nil
}

// AddEngine starts engine and adds it to the fan-out list
func (s *StorageManager) AddEngine(ctx context.Context, wg *sync.WaitGroup, name string, engine storage.StorageEngineInterface) {
	s.Engines = append(s.Engines, StorageEngine{
		Name:   name,
		Engine: engine,
		C:      engine.StartStorageEngine(ctx, wg),
	})
}

// Publish hands a committed reading to the distributor. It blocks only until
// the distributor accepts the reading or the manager shuts down.
func (s *StorageManager) Publish(r types.SensorReading) {
	s.metrics.IncStored()
	select {
	case s.ReadingDistributor <- r:
	case <-s.ctx.Done():
	}
}

// startReadingDistributor fans received readings out to the engines
func (s *StorageManager) startReadingDistributor(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case r := <-s.ReadingDistributor:
			for _, e := range s.Engines {
				select {
				case e.C <- r:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			log.Info("stopping reading distributor")
			return
		}
	}
}
