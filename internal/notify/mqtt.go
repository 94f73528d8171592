// internal/notify/mqtt.go
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"anova-service/internal/config"
	"anova-service/internal/events"
	"anova-service/internal/model"
)

const publishTimeout = 5 * time.Second

// Publisher is the broker surface the forwarder needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

// pahoPublisher adapts a paho client to Publisher
type pahoPublisher struct {
	client mqtt.Client
}

// Connect dials the broker described by cfg
func Connect(cfg *config.MQTTConfig, logger *zap.Logger) (Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(mqtt.Client) {
		logger.Info("MQTT connected", zap.String("broker", cfg.BrokerURL))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15*time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.BrokerURL, err)
	}
	return &pahoPublisher{client: client}, nil
}

func (p *pahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

func (p *pahoPublisher) Close() {
	p.client.Disconnect(250)
}

// Forwarder mirrors bus events onto MQTT topics
type Forwarder struct {
	publisher Publisher
	prefix    string
	qos       byte
	logger    *zap.Logger
}

// NewForwarder creates a forwarder publishing under prefix
func NewForwarder(publisher Publisher, prefix string, qos byte, logger *zap.Logger) *Forwarder {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "anova"
	}
	return &Forwarder{
		publisher: publisher,
		prefix:    prefix,
		qos:       qos,
		logger:    logger.With(zap.String("component", "mqtt_forwarder")),
	}
}

// Topic returns the topic for an event: <prefix>/<address>/<event>.
// Events without an address go to <prefix>/service/<event>.
func (f *Forwarder) Topic(event model.DeviceEvent) string {
	address := event.Address
	if address == "" {
		address = "service"
	}
	address = strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(address)
	return fmt.Sprintf("%s/%s/%s", f.prefix, address, event.Type)
}

// Run forwards every bus event until ctx is done or the subscription closes
func (f *Forwarder) Run(ctx context.Context, bus *events.Bus) {
	sub := bus.Subscribe(model.EventAll, 64)
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			if event.Type == model.EventPing {
				continue
			}
			f.Forward(event)
		}
	}
}

// Forward publishes a single event
func (f *Forwarder) Forward(event model.DeviceEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		f.logger.Error("Failed to encode event", zap.Error(err))
		return
	}

	// device_state is retained so late subscribers see the last reading
	retained := event.Type == model.EventDeviceState
	topic := f.Topic(event)
	if err := f.publisher.Publish(topic, f.qos, retained, payload); err != nil {
		f.logger.Warn("Failed to publish event",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}
	f.logger.Debug("Event published", zap.String("topic", topic))
}
