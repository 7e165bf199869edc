package config

import "time"

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetStoreConfig() (*StoreData, error)
	GetStorageConfig() (*StorageData, error)
	GetRESTConfig() (*RESTServerData, error)
	GetIngestConfig() (*IngestData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Store   StoreData      `json:"store"`
	Storage StorageData    `json:"storage,omitempty"`
	REST    RESTServerData `json:"rest,omitempty"`
	Ingest  IngestData     `json:"ingest,omitempty"`
}

// StoreData points the ingestion relay at the Reading Store's REST surface.
// ServiceKey is the privileged credential the relay presents as "apikey".
type StoreData struct {
	BaseURL    string `json:"base_url"`
	ServiceKey string `json:"service_key"`
}

// StorageData holds the configuration for the storage backends
type StorageData struct {
	TimescaleDB *TimescaleDBData `json:"timescaledb,omitempty"`
	SQLite      *SQLiteData      `json:"sqlite,omitempty"`
	Redis       *RedisData       `json:"redis,omitempty"`
}

type TimescaleDBData struct {
	ConnectionString string `json:"connection_string"`
	ListenNotify     bool   `json:"listen_notify,omitempty"`
}

type SQLiteData struct {
	Path string `json:"path"`
}

type RedisData struct {
	Addr     string        `json:"addr"`
	Password string        `json:"password,omitempty"`
	DB       int           `json:"db,omitempty"`
	TTL      time.Duration `json:"ttl,omitempty"`
}

type RESTServerData struct {
	Cert       string `json:"cert,omitempty"`
	Key        string `json:"key,omitempty"`
	Port       int    `json:"port,omitempty"`
	ListenAddr string `json:"listen_addr,omitempty"`
}

// IngestData configures meter sources other than direct HTTP submission
type IngestData struct {
	MQTT *MQTTData `json:"mqtt,omitempty"`
}

type MQTTData struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id,omitempty"`
	Topic    string `json:"topic"`
	QoS      byte   `json:"qos,omitempty"`
	// Token is the bearer credential forwarded for every message
	Token string `json:"token"`
}

// StorageHealthData is the last observed health of a backend
type StorageHealthData struct {
	LastCheck time.Time `json:"last_check"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}
