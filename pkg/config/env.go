package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override file configuration
const (
	EnvStoreURL        = "STORE_URL"
	EnvStoreServiceKey = "STORE_SERVICE_KEY"
	EnvDatabaseURL     = "DATABASE_URL"
	EnvRedisAddr       = "REDIS_ADDR"
	EnvMQTTBroker      = "MQTT_BROKER"
	EnvRESTPort        = "PORT"
)

// ErrStoreNotConfigured is returned when the store URL or the service key is empty
var ErrStoreNotConfigured = errors.New("missing store configuration")

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables on a loaded configuration
func ApplyEnv(c *ConfigData) {
	if v := os.Getenv(EnvStoreURL); v != "" {
		c.Store.BaseURL = v
	}
	if v := os.Getenv(EnvStoreServiceKey); v != "" {
		c.Store.ServiceKey = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		if c.Storage.TimescaleDB == nil {
			c.Storage.TimescaleDB = &TimescaleDBData{}
		}
		c.Storage.TimescaleDB.ConnectionString = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		if c.Storage.Redis == nil {
			c.Storage.Redis = &RedisData{}
		}
		c.Storage.Redis.Addr = v
	}
	if v := os.Getenv(EnvMQTTBroker); v != "" && c.Ingest.MQTT != nil {
		c.Ingest.MQTT.Broker = v
	}
	if v := os.Getenv(EnvRESTPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.REST.Port = port
		}
	}
}

// StoreEndpoint resolves the store URL and service key for a single request.
// Environment values win over the file values so that credentials can be
// rotated without a restart.
func StoreEndpoint(file StoreData) (StoreData, error) {
	ep := file
	if v := os.Getenv(EnvStoreURL); v != "" {
		ep.BaseURL = v
	}
	if v := os.Getenv(EnvStoreServiceKey); v != "" {
		ep.ServiceKey = v
	}
	if ep.BaseURL == "" || ep.ServiceKey == "" {
		return StoreData{}, ErrStoreNotConfigured
	}
	return ep, nil
}
