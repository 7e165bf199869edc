package managers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chrissnell/powermeter/internal/ingest"
	"github.com/chrissnell/powermeter/pkg/config"
)

// MeterSource is a feed of meter submissions other than direct HTTP posts
type MeterSource interface {
	Start(ctx context.Context) error
}

// MeterSourceManager starts every configured meter source
type MeterSourceManager struct {
	ctx     context.Context
	sources map[string]MeterSource
	logger  *zap.SugaredLogger
}

// NewMeterSourceManager creates the sources named in the ingest configuration.
// Every source submits through relay.
func NewMeterSourceManager(ctx context.Context, configProvider config.ConfigProvider, relay *ingest.Relay, logger *zap.SugaredLogger) (*MeterSourceManager, error) {
	ic, err := configProvider.GetIngestConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading ingest configuration: %v", err)
	}

	m := &MeterSourceManager{
		ctx:     ctx,
		sources: make(map[string]MeterSource),
		logger:  logger,
	}

	if ic.MQTT != nil && ic.MQTT.Broker != "" {
		src, err := ingest.NewMQTTSource(*ic.MQTT, relay)
		if err != nil {
			return nil, fmt.Errorf("error creating MQTT meter source: %v", err)
		}
		m.sources["mqtt"] = src
	}

	return m, nil
}

// Count is the number of configured sources
func (m *MeterSourceManager) Count() int {
	return len(m.sources)
}

// StartMeterSources starts every source. A source that fails to start is
// logged and skipped; HTTP submission keeps working without it.
func (m *MeterSourceManager) StartMeterSources() {
	for name, src := range m.sources {
		m.logger.Infof("Starting meter source [%v]...", name)
		if err := src.Start(m.ctx); err != nil {
			m.logger.Errorf("error starting meter source [%v]: %v", name, err)
		}
	}
}
