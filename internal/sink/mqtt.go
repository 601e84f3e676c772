package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/chromatape/internal/chroma"
	"github.com/ayusman/chromatape/internal/palette"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("mqtt not connected")

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	// Broker is host:port; "tcp://" is prepended.
	Broker   string
	Topic    string
	QoS      byte
	ClientID string
	// Run tags every message so consumers can group a decode run.
	Run    string
	Logger *slog.Logger
}

// Message is the JSON payload published for every event.
type Message struct {
	Run       string          `json:"run"`
	Kind      string          `json:"kind"`
	Position  int             `json:"position,omitempty"`
	Symbol    string          `json:"symbol,omitempty"`
	Program   string          `json:"program,omitempty"`
	Palette   []palette.Entry `json:"palette,omitempty"`
	Separator *chroma.Color   `json:"separator,omitempty"`
	Error     string          `json:"error,omitempty"`
	Time      time.Time       `json:"time"`
}

// Message kinds. Each is published under Topic/<kind>.
const (
	KindToken     = "token"
	KindProgram   = "program"
	KindPalette   = "palette"
	KindSeparator = "separator"
	KindError     = "error"
)

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes the token stream to a broker.
type MQTT struct {
	cfg    MQTTConfig
	logger *slog.Logger
	client mqtt.Client
	pub    publisher

	mu        sync.RWMutex
	position  int
	published map[string]uint64
	errors    uint64
	connected bool
}

// NewMQTT creates an MQTT sink. Call Connect before publishing.
func NewMQTT(cfg MQTTConfig) *MQTT {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{
		cfg:       cfg,
		logger:    logger,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection. Reconnects happen in the
// background after a lost connection.
func (m *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", m.cfg.Broker))
	opts.SetClientID(m.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		m.setConnected(true)
		m.logger.Info("mqtt connection established",
			"broker", m.cfg.Broker,
			"client_id", m.cfg.ClientID)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		m.setConnected(false)
		m.logger.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", m.cfg.Broker)
	}

	m.client = mqtt.NewClient(opts)
	m.pub = m.client

	m.logger.Info("connecting to mqtt broker", "broker", m.cfg.Broker)

	token := m.client.Connect()
	if !waitToken(ctx, token, 5*time.Second) {
		m.abandon()
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		m.abandon()
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	m.setConnected(true)
	return nil
}

// abandon stops the connect retries of a failed Connect and drops the
// client.
func (m *MQTT) abandon() {
	m.client.Disconnect(0)
	m.client = nil
	m.pub = nil
	m.setConnected(false)
}

// Disconnect closes the broker connection.
func (m *MQTT) Disconnect() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	}
	m.setConnected(false)
}

func (m *MQTT) Append(ctx context.Context, sym palette.Symbol) error {
	m.mu.Lock()
	pos := m.position
	m.position++
	m.mu.Unlock()

	return m.publish(ctx, Message{Kind: KindToken, Position: pos, Symbol: sym.String()})
}

func (m *MQTT) Finish(ctx context.Context, program string) error {
	return m.publish(ctx, Message{Kind: KindProgram, Program: program})
}

func (m *MQTT) Calibrated(ctx context.Context, entries []palette.Entry) error {
	return m.publish(ctx, Message{Kind: KindPalette, Palette: entries})
}

func (m *MQTT) SeparatorLearned(ctx context.Context, c chroma.Color) error {
	return m.publish(ctx, Message{Kind: KindSeparator, Separator: &c})
}

func (m *MQTT) publish(ctx context.Context, msg Message) error {
	if !m.isConnected() {
		m.countError()
		return ErrNotConnected
	}

	msg.Run = m.cfg.Run
	msg.Time = time.Now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		m.countError()
		return fmt.Errorf("marshal %s message: %w", msg.Kind, err)
	}

	topic := fmt.Sprintf("%s/%s", m.cfg.Topic, msg.Kind)
	token := m.pub.Publish(topic, m.cfg.QoS, false, payload)
	if !waitToken(ctx, token, 2*time.Second) {
		m.countError()
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		m.countError()
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	m.mu.Lock()
	m.published[topic]++
	m.mu.Unlock()

	m.logger.Debug("mqtt message published", "topic", topic, "qos", m.cfg.QoS, "size", len(payload))
	return nil
}

// MQTTStats contains publisher statistics.
type MQTTStats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Stats returns publisher statistics.
func (m *MQTT) Stats() MQTTStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	published := make(map[string]uint64, len(m.published))
	for k, v := range m.published {
		published[k] = v
	}
	return MQTTStats{Connected: m.connected, Published: published, Errors: m.errors}
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MQTT) isConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MQTT) countError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

// waitToken waits for token up to timeout or until ctx is done.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
