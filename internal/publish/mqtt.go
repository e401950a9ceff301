package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"volumed/internal/audio"
)

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	// Retain keeps the last value of every topic on the broker, so late
	// subscribers see current state.
	Retain bool

	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	Queue          int
}

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTPublisher mirrors engine events onto "<prefix>/<event kind>" topics.
// Publish is non-blocking; Run owns the broker connection.
type MQTTPublisher struct {
	cfg    MQTTConfig
	client mqttClient
	src    chan Event
	logger *slog.Logger
}

var _ audio.Publisher = (*MQTTPublisher)(nil)

// NewMQTTPublisher builds a paho client from cfg. It does not connect.
func NewMQTTPublisher(cfg MQTTConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker must not be empty")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("connected to MQTT broker", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err)
	})
	return newMQTTPublisher(cfg, mqtt.NewClient(opts), logger), nil
}

func newMQTTPublisher(cfg MQTTConfig, client mqttClient, logger *slog.Logger) *MQTTPublisher {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "volumed"
	}
	return &MQTTPublisher{
		cfg:    cfg,
		client: client,
		src:    make(chan Event, cfg.Queue),
		logger: logger,
	}
}

// Topic returns the topic an event kind is published on.
func (p *MQTTPublisher) Topic(kind audio.EventKind) string {
	return p.cfg.TopicPrefix + "/" + string(kind)
}

// Publish implements audio.Publisher.
func (p *MQTTPublisher) Publish(kind audio.EventKind, payload any) {
	select {
	case p.src <- Event{Kind: kind, Payload: payload, At: time.Now().UTC()}:
	default:
		p.logger.Warn("mqtt queue full, dropping event", "type", string(kind))
	}
}

// Run connects and forwards events until ctx is canceled. While the broker is
// unreachable, events are dropped rather than queued.
func (p *MQTTPublisher) Run(ctx context.Context) error {
	token := p.client.Connect()
	if !token.WaitTimeout(p.cfg.ConnectTimeout) {
		p.logger.Warn("MQTT connect still pending, continuing in background", "broker", p.cfg.Broker)
	} else if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer p.client.Disconnect(250)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.src:
			if err := p.send(ev); err != nil {
				p.logger.Warn("mqtt publish failed", "type", string(ev.Kind), "error", err)
			}
		}
	}
}

func (p *MQTTPublisher) send(ev Event) error {
	if !p.client.IsConnected() {
		return errors.New("not connected to MQTT broker")
	}
	msg, err := marshalEvent(ev)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.Topic(ev.Kind), p.cfg.QoS, p.cfg.Retain, msg)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		return errors.New("publish timeout")
	}
	return token.Error()
}
