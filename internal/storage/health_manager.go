package storage

import (
	"sync"
	"time"

	"github.com/chrissnell/powermeter/pkg/config"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthManager keeps the last health result of every backend in memory
type HealthManager struct {
	mu     sync.RWMutex
	health map[string]config.StorageHealthData
}

// NewHealthManager creates a new health manager
func NewHealthManager() *HealthManager {
	return &HealthManager{
		health: make(map[string]config.StorageHealthData),
	}
}

// UpdateHealth records the health status for a backend
func (hm *HealthManager) UpdateHealth(storageType string, health *config.StorageHealthData) {
	if health == nil {
		return
	}
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.health[storageType] = *health
}

// GetHealth retrieves the health status for a specific backend
func (hm *HealthManager) GetHealth(storageType string) (config.StorageHealthData, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	h, ok := hm.health[storageType]
	return h, ok
}

// GetAllHealth returns a copy of every recorded status
func (hm *HealthManager) GetAllHealth() map[string]config.StorageHealthData {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	result := make(map[string]config.StorageHealthData, len(hm.health))
	for k, v := range hm.health {
		result[k] = v
	}
	return result
}

// IsHealthy checks that a backend reported healthy within maxAge
func (hm *HealthManager) IsHealthy(storageType string, maxAge time.Duration) bool {
	health, exists := hm.GetHealth(storageType)
	if !exists {
		return false
	}
	if time.Since(health.LastCheck) > maxAge {
		return false
	}
	return health.Status == StatusHealthy
}

// AllHealthy reports whether every recorded backend is healthy within maxAge
func (hm *HealthManager) AllHealthy(maxAge time.Duration) bool {
	for name := range hm.GetAllHealth() {
		if !hm.IsHealthy(name, maxAge) {
			return false
		}
	}
	return true
}
