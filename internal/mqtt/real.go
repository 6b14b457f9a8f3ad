package mqtt

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/handpump-sensor/internal/logic"
)

const (
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	backlogCapacity = 1000
)

// client is the part of paho.Client the publisher uses.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// RealPublisher publishes to an actual MQTT broker. Messages produced while
// the connection is down are held in a backlog and replayed on reconnect.
type RealPublisher struct {
	client client
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	pending   *backlog
	connected bool // true once the first connection succeeded
}

// NewRealPublisher creates a publisher for the given broker. The broker
// being unreachable is not an error: paho keeps retrying in the background
// and records are held until it answers.
func NewRealPublisher(broker, clientID string, logger *slog.Logger) (*RealPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &RealPublisher{
		logger:  logger,
		now:     time.Now,
		pending: newBacklog(backlogCapacity, logger),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("mqtt connection lost", "err", err)
		})

	c := paho.NewClient(opts)
	p.client = c

	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		logger.Warn("mqtt broker not reachable yet, holding records", "broker", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// onConnect runs on paho's goroutine after every successful connection.
func (p *RealPublisher) onConnect() {
	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	held := p.pending.drain()
	p.mu.Unlock()

	p.logger.Info("mqtt connected", "reconnect", reconnect, "held", len(held))

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		if err := p.send(TopicSystem, 1, false, payload); err != nil {
			p.logger.Warn("publish reconnected event", "err", err)
		}
	}

	for _, m := range held {
		if err := p.send(m.topic, m.qos, m.retained, m.payload); err != nil {
			p.logger.Warn("replay held message", "topic", m.topic, "err", err)
		}
	}
}

// send publishes or, when the connection is down, holds the message.
func (p *RealPublisher) send(topic string, qos byte, retained bool, payload []byte) error {
	msg := pendingMsg{topic: topic, payload: payload, qos: qos, retained: retained}
	if !p.client.IsConnectionOpen() {
		p.hold(msg)
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.hold(msg)
		return fmt.Errorf("publish timeout (held for replay)")
	}
	if err := token.Error(); err != nil {
		p.hold(msg)
		return fmt.Errorf("publish (held for replay): %w", err)
	}
	return nil
}

func (p *RealPublisher) hold(msg pendingMsg) {
	p.mu.Lock()
	p.pending.push(msg)
	p.mu.Unlock()
}

// Held returns the number of messages waiting for the broker.
func (p *RealPublisher) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.len()
}

// Publish sends a measurement record. QoS 0, not retained.
func (p *RealPublisher) Publish(rec logic.Record) error {
	payload, err := FormatPayload(rec)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.send(Topic, 0, false, payload)
}

// PublishSystem sends a system lifecycle event. QoS 1 so shutdown and
// startup reach the broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(TopicSystem, 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is currently open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
