package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// LoadConfig loads the complete configuration from the YAML file and
// applies environment overrides on top of it
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	config, err := parseYAML(cfgFile)
	if err != nil {
		return nil, err
	}

	ApplyEnv(config)
	return config, nil
}

func parseYAML(raw []byte) (*ConfigData, error) {
	var yamlConfig ConfigYAML
	if err := yaml.Unmarshal(raw, &yamlConfig); err != nil {
		return nil, err
	}

	config := &ConfigData{
		Store: StoreData{
			BaseURL:    yamlConfig.Store.BaseURL,
			ServiceKey: yamlConfig.Store.ServiceKey,
		},
		REST: RESTServerData{
			Cert:       yamlConfig.REST.Cert,
			Key:        yamlConfig.REST.Key,
			Port:       yamlConfig.REST.Port,
			ListenAddr: yamlConfig.REST.ListenAddr,
		},
	}

	if yamlConfig.Storage.TimescaleDB != nil {
		config.Storage.TimescaleDB = &TimescaleDBData{
			ConnectionString: yamlConfig.Storage.TimescaleDB.ConnectionString,
			ListenNotify:     yamlConfig.Storage.TimescaleDB.ListenNotify,
		}
	}
	if yamlConfig.Storage.SQLite != nil {
		config.Storage.SQLite = &SQLiteData{Path: yamlConfig.Storage.SQLite.Path}
	}
	if yamlConfig.Storage.Redis != nil {
		ttl := time.Duration(0)
		if yamlConfig.Storage.Redis.TTL != "" {
			d, err := time.ParseDuration(yamlConfig.Storage.Redis.TTL)
			if err != nil {
				return nil, fmt.Errorf("storage.redis.ttl: %w", err)
			}
			ttl = d
		}
		config.Storage.Redis = &RedisData{
			Addr:     yamlConfig.Storage.Redis.Addr,
			Password: yamlConfig.Storage.Redis.Password,
			DB:       yamlConfig.Storage.Redis.DB,
			TTL:      ttl,
		}
	}

	if yamlConfig.Ingest.MQTT != nil {
		config.Ingest.MQTT = &MQTTData{
			Broker:   yamlConfig.Ingest.MQTT.Broker,
			ClientID: yamlConfig.Ingest.MQTT.ClientID,
			Topic:    yamlConfig.Ingest.MQTT.Topic,
			QoS:      yamlConfig.Ingest.MQTT.QoS,
			Token:    yamlConfig.Ingest.MQTT.Token,
		}
	}

	return config, nil
}

// GetStoreConfig returns the store endpoint configuration
func (y *YAMLProvider) GetStoreConfig() (*StoreData, error) {
	config, err := y.LoadConfig()
	if err != nil {
		return nil, err
	}
	return &config.Store, nil
}

// GetStorageConfig returns the storage configuration
func (y *YAMLProvider) GetStorageConfig() (*StorageData, error) {
	config, err := y.LoadConfig()
	if err != nil {
		return nil, err
	}
	return &config.Storage, nil
}

// GetRESTConfig returns the REST server configuration
func (y *YAMLProvider) GetRESTConfig() (*RESTServerData, error) {
	config, err := y.LoadConfig()
	if err != nil {
		return nil, err
	}
	return &config.REST, nil
}

// GetIngestConfig returns the meter source configuration
func (y *YAMLProvider) GetIngestConfig() (*IngestData, error) {
	config, err := y.LoadConfig()
	if err != nil {
		return nil, err
	}
	return &config.Ingest, nil
}

// IsReadOnly returns true since YAML files are read-only in this implementation
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML provider
func (y *YAMLProvider) Close() error {
	return nil
}

// YAML-specific structs with yaml tags

type ConfigYAML struct {
	Store   StoreYAML      `yaml:"store"`
	Storage StorageYAML    `yaml:"storage,omitempty"`
	REST    RESTServerYAML `yaml:"rest,omitempty"`
	Ingest  IngestYAML     `yaml:"ingest,omitempty"`
}

type StoreYAML struct {
	BaseURL    string `yaml:"base_url"`
	ServiceKey string `yaml:"service_key"`
}

type StorageYAML struct {
	TimescaleDB *TimescaleDBYAML `yaml:"timescaledb,omitempty"`
	SQLite      *SQLiteYAML      `yaml:"sqlite,omitempty"`
	Redis       *RedisYAML       `yaml:"redis,omitempty"`
}

type TimescaleDBYAML struct {
	ConnectionString string `yaml:"connection_string"`
	ListenNotify     bool   `yaml:"listen_notify,omitempty"`
}

type SQLiteYAML struct {
	Path string `yaml:"path"`
}

type RedisYAML struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	TTL      string `yaml:"ttl,omitempty"`
}

type RESTServerYAML struct {
	Cert       string `yaml:"cert,omitempty"`
	Key        string `yaml:"key,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

type IngestYAML struct {
	MQTT *MQTTYAML `yaml:"mqtt,omitempty"`
}

type MQTTYAML struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id,omitempty"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos,omitempty"`
	Token    string `yaml:"token"`
}
