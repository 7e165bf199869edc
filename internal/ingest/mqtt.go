package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/chrissnell/powermeter/internal/log"
	"github.com/chrissnell/powermeter/pkg/config"
)

// MQTTSource subscribes to a broker topic and forwards every message body
// through the relay with a fixed device credential. Failed forwards are
// logged and the message is dropped.
type MQTTSource struct {
	cfg     config.MQTTData
	relay   *Relay
	client  mqtt.Client
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewMQTTSource validates the configuration and prepares a client
func NewMQTTSource(cfg config.MQTTData, relay *Relay) (*MQTTSource, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker must be set")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt topic must be set")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("mqtt token must be set")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "powermeter-ingest"
	}

	return &MQTTSource{
		cfg:     cfg,
		relay:   relay,
		timeout: DefaultTimeout,
		logger:  log.Named("mqtt"),
	}, nil
}

// Start connects, subscribes, and disconnects when ctx is cancelled
func (m *MQTTSource) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			// Subscriptions do not survive a reconnect with a clean session
			if token := c.Subscribe(m.cfg.Topic, m.cfg.QoS, m.handle(ctx)); token.Wait() && token.Error() != nil {
				m.logger.Errorw("subscribe failed", "topic", m.cfg.Topic, "error", token.Error())
				return
			}
			m.logger.Infow("subscribed", "broker", m.cfg.Broker, "topic", m.cfg.Topic)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.logger.Warnw("connection lost", "broker", m.cfg.Broker, "error", err)
		})

	m.client = mqtt.NewClient(opts)
	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("could not connect to mqtt broker %s: %w", m.cfg.Broker, token.Error())
	}

	go func() {
		<-ctx.Done()
		m.logger.Info("disconnecting from mqtt broker")
		m.client.Disconnect(250)
	}()
	return nil
}

func (m *MQTTSource) handle(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		fctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		if _, err := m.relay.Forward(fctx, BearerCredential(m.cfg.Token), msg.Payload()); err != nil {
			m.logger.Warnw("dropping meter message", "topic", msg.Topic(), "error", err)
			return
		}
		m.logger.Debugw("forwarded meter message", "topic", msg.Topic(), "bytes", len(msg.Payload()))
	}
}

// BearerCredential formats token as an Authorization header value
func BearerCredential(token string) string {
	if strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bearer " + token
}
