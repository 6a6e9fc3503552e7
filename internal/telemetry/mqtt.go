package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/l1jgo/loginserver/internal/config"
	"github.com/l1jgo/loginserver/internal/core/event"
)

// Topic suffixes under the configured base topic.
const (
	TopicAccepted = "login/accepted"
	TopicRejected = "login/rejected"
	TopicStatus   = "status"
)

const disconnectQuiesce = 250 // ms

// Broker is the part of mqtt.Client the publisher uses.
type Broker interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Message is the JSON envelope of every published event.
type Message struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Host      HostInfo  `json:"host"`
	Payload   any       `json:"payload"`
}

// Publisher forwards login events to an MQTT broker.
type Publisher struct {
	broker Broker
	client mqtt.Client // nil when constructed around a bare Broker
	topic  string
	qos    byte
	host   HostInfo
	log    *zap.Logger
}

// NewMQTT builds a publisher with its own paho client. Call Start to connect.
func NewMQTT(cfg config.TelemetryConfig, log *zap.Logger) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("telemetry: broker not configured")
	}
	host := CollectHostInfo()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("loginserver-%s", host.Hostname))
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("MQTT 已連線", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("MQTT 連線中斷", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	p := newPublisher(client, cfg.Topic, cfg.QoS, host, log)
	p.client = client
	return p, nil
}

func newPublisher(b Broker, topic string, qos byte, host HostInfo, log *zap.Logger) *Publisher {
	return &Publisher{broker: b, topic: topic, qos: qos, host: host, log: log}
}

// Start connects and blocks until ctx is done, then publishes a final status
// and disconnects. Connection failures are retried by paho in the background.
func (p *Publisher) Start(ctx context.Context) error {
	if p.client == nil {
		<-ctx.Done()
		return nil
	}
	tok := p.client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-ctx.Done():
		return nil
	}
	p.PublishStatus("online")

	<-ctx.Done()
	p.PublishStatus("offline")
	p.client.Disconnect(disconnectQuiesce)
	p.log.Info("MQTT 已斷線")
	return nil
}

// Attach subscribes the publisher to the bus.
func (p *Publisher) Attach(bus *event.Bus) {
	event.Subscribe(bus, func(e event.LoginAccepted) {
		p.publish(TopicAccepted, "login_accepted", e.At, e)
	})
	event.Subscribe(bus, func(e event.LoginRejected) {
		p.publish(TopicRejected, "login_rejected", e.At, e)
	})
}

func (p *Publisher) PublishStatus(status string) {
	p.publish(TopicStatus, "status", time.Now(), map[string]string{"status": status})
}

func (p *Publisher) publish(suffix, name string, at time.Time, payload any) {
	if !p.broker.IsConnected() {
		return
	}
	data, err := json.Marshal(Message{
		ID:        uuid.NewString(),
		Event:     name,
		Timestamp: at.UTC(),
		Host:      p.host,
		Payload:   payload,
	})
	if err != nil {
		p.log.Warn("MQTT 訊息編碼失敗", zap.String("event", name), zap.Error(err))
		return
	}

	topic := suffix
	if p.topic != "" {
		topic = p.topic + "/" + suffix
	}
	tok := p.broker.Publish(topic, p.qos, false, data)
	go func() {
		tok.Wait()
		if err := tok.Error(); err != nil {
			p.log.Warn("MQTT 發布失敗", zap.String("topic", topic), zap.Error(err))
		}
	}()
}
