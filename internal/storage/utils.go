package storage

import (
	"context"
	"sync"
	"time"

	"github.com/chrissnell/powermeter/internal/log"
	"github.com/chrissnell/powermeter/internal/types"
	"github.com/chrissnell/powermeter/pkg/config"
)

// HealthChecker defines the interface for storage backends to implement health checks
type HealthChecker interface {
	CheckHealth(ctx context.Context) *config.StorageHealthData
}

// StartHealthMonitor periodically runs checker and records the result in hm
func StartHealthMonitor(ctx context.Context, hm *HealthManager, storageType string, checker HealthChecker, interval time.Duration) {
	go func() {
		updateHealth := func() {
			checkCtx, cancel := context.WithTimeout(ctx, interval/2)
			defer cancel()
			health := checker.CheckHealth(checkCtx)
			hm.UpdateHealth(storageType, health)
			log.Debugf("updated %s health status: %s", storageType, health.Status)
		}

		updateHealth()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				updateHealth()
			case <-ctx.Done():
				log.Infof("stopping %s health monitor", storageType)
				return
			}
		}
	}()
}

// ProcessReadings provides a standard pattern for processing readings from a channel.
// The caller must wg.Add(1) before starting it.
func ProcessReadings(ctx context.Context, wg *sync.WaitGroup, readingChan <-chan types.SensorReading, processor func(types.SensorReading) error, name string) {
	defer wg.Done()

	for {
		select {
		case r := <-readingChan:
			if err := processor(r); err != nil {
				log.Errorf("%s reading processor error: %v", name, err)
			}
		case <-ctx.Done():
			log.Infof("cancellation request received. Cancelling %s readings processor", name)
			return
		}
	}
}

// CreateHealthData creates a basic health data structure
func CreateHealthData(status, message string, err error) *config.StorageHealthData {
	health := &config.StorageHealthData{
		LastCheck: time.Now(),
		Status:    status,
		Message:   message,
	}

	if err != nil {
		health.Error = err.Error()
	}

	return health
}
