package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/gesture/internal/decision"
	"github.com/banshee-data/gesture/internal/monitoring"
)

const DefaultMQTTTopic = "gesture/events"

// MQTTConfig selects the broker and topic events are published to. An
// empty Broker disables the sink.
type MQTTConfig struct {
	Broker   string `koanf:"broker"`
	Topic    string `koanf:"topic"`
	ClientID string `koanf:"client_id"`
	QoS      byte   `koanf:"qos"`
	Retain   bool   `koanf:"retain"`
}

// Publisher is the subset of mqtt.Client used by MQTT.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes each event as a JSON document.
type MQTT struct {
	client Publisher
	topic  string
	qos    byte
	retain bool

	disconnect func()
}

// NewMQTT wraps an already connected client.
func NewMQTT(client Publisher, cfg MQTTConfig) (*MQTT, error) {
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultMQTTTopic
	}
	return &MQTT{client: client, topic: topic, qos: cfg.QoS, retain: cfg.Retain}, nil
}

// DialMQTT connects to cfg.Broker and returns a sink that owns the
// connection.
func DialMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker not configured")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "gesture"
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	monitoring.Logf("connected to MQTT broker %s", cfg.Broker)

	m, err := NewMQTT(client, cfg)
	if err != nil {
		client.Disconnect(250)
		return nil, err
	}
	m.disconnect = func() { client.Disconnect(250) }
	return m, nil
}

func (m *MQTT) Publish(ctx context.Context, ev decision.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic, m.qos, m.retain, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", m.topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects a client opened by DialMQTT.
func (m *MQTT) Close() error {
	if m.disconnect != nil {
		m.disconnect()
		m.disconnect = nil
	}
	return nil
}
