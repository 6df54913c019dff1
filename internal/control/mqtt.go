package control

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smazurov/camkeeper/internal/logging"
)

// DefaultQoS is at-least-once, as the device shadow service expects.
const DefaultQoS byte = 1

// CommandRequestTopic returns the topic commands arrive on.
func CommandRequestTopic(thing string) string {
	return fmt.Sprintf("things/%s/command/req", thing)
}

// CommandResponseTopic returns the topic command responses go to.
func CommandResponseTopic(thing string) string {
	return fmt.Sprintf("things/%s/command/res", thing)
}

// StatusRequestTopic returns the topic status requests arrive on.
func StatusRequestTopic(thing string) string {
	return fmt.Sprintf("things/%s/status/req", thing)
}

// StatusResponseTopic returns the topic status reports go to.
func StatusResponseTopic(thing string) string {
	return fmt.Sprintf("things/%s/status/res", thing)
}

// MQTTOptions configures the MQTT transport.
type MQTTOptions struct {
	Broker   string // tcp://host:1883
	ClientID string
	Username string
	Password string
	QoS      byte // 1 or 2; zero selects DefaultQoS
	// Queue bounds requests waiting for the dispatcher.
	Queue   int
	Timeout time.Duration
}

type inbound struct {
	topic   string
	payload []byte
}

// MQTT receives commands and status requests from a broker and answers
// on the matching response topics. Requests are handled one at a time in
// arrival order.
type MQTT struct {
	opts       MQTTOptions
	dispatcher *Dispatcher
	logger     logging.Logger
	inbox      chan inbound

	mu        sync.RWMutex
	client    mqtt.Client
	connected bool
}

// NewMQTT creates the transport. Run connects it.
func NewMQTT(opts MQTTOptions, d *Dispatcher, logger logging.Logger) *MQTT {
	if opts.Queue <= 0 {
		opts.Queue = 32
	}
	if opts.QoS == 0 || opts.QoS > 2 {
		opts.QoS = DefaultQoS
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.ClientID == "" {
		opts.ClientID = "camkeeper-" + d.Thing()
	}
	return &MQTT{
		opts:       opts,
		dispatcher: d,
		logger:     logger,
		inbox:      make(chan inbound, opts.Queue),
	}
}

// Run connects, keeps the connection alive and handles requests until ctx
// is done. Connection failures are retried in the background.
func (m *MQTT) Run(ctx context.Context) error {
	thing := m.dispatcher.Thing()
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.opts.Broker)
	opts.SetClientID(m.opts.ClientID)
	if m.opts.Username != "" {
		opts.SetUsername(m.opts.Username)
		opts.SetPassword(m.opts.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOrderMatters(false)

	opts.OnConnect = func(c mqtt.Client) {
		m.setConnected(true)
		m.logger.Info("MQTT connected", "broker", m.opts.Broker, "thing", thing)
		// the session is clean, so subscriptions are renewed on every connect
		for _, topic := range []string{CommandRequestTopic(thing), StatusRequestTopic(thing)} {
			token := c.Subscribe(topic, m.opts.QoS, m.onMessage)
			if !token.WaitTimeout(m.opts.Timeout) {
				m.logger.Warn("MQTT subscribe timed out", "topic", topic)
				continue
			}
			if err := token.Error(); err != nil {
				m.logger.Warn("MQTT subscribe failed", "topic", topic, "error", err)
			}
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.setConnected(false)
		m.logger.Warn("MQTT connection lost, reconnecting", "error", err)
	}

	client := mqtt.NewClient(opts)
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	m.logger.Info("Connecting to MQTT broker", "broker", m.opts.Broker)
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
	case <-ctx.Done():
		client.Disconnect(250)
		return nil
	}

	defer func() {
		client.Disconnect(250)
		m.setConnected(false)
		m.logger.Info("MQTT disconnected")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-m.inbox:
			topic, resp, ok := m.respond(ctx, in)
			if ok {
				m.publish(topic, resp)
			}
		}
	}
}

// Connected reports whether the broker connection is up.
func (m *MQTT) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MQTT) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	select {
	case m.inbox <- inbound{topic: msg.Topic(), payload: msg.Payload()}:
	default:
		m.logger.Warn("MQTT request queue full, dropping request", "topic", msg.Topic())
	}
}

// respond maps a request to the response topic and body.
func (m *MQTT) respond(ctx context.Context, in inbound) (string, Response, bool) {
	thing := m.dispatcher.Thing()
	var resTopic string
	switch in.topic {
	case CommandRequestTopic(thing):
		resTopic = CommandResponseTopic(thing)
	case StatusRequestTopic(thing):
		resTopic = StatusResponseTopic(thing)
	default:
		m.logger.Debug("Ignoring message on unknown topic", "topic", in.topic)
		return "", Response{}, false
	}

	req, err := ParseRequest(in.payload)
	if err != nil {
		m.logger.Warn("Unparseable MQTT request", "topic", in.topic, "error", err)
		resp := newResponse(thing, Request{}, "", m.dispatcher.now())
		resp.Result, resp.Message = ResultError, err.Error()
		return resTopic, resp, true
	}
	if req.Source == "" {
		req.Source = "mqtt"
	}
	if resTopic == StatusResponseTopic(thing) {
		return resTopic, m.dispatcher.StatusResponse(ctx, req), true
	}
	return resTopic, m.dispatcher.Dispatch(ctx, req), true
}

func (m *MQTT) publish(topic string, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		m.logger.Error("Failed to marshal response", "command", resp.Command, "error", err)
		return
	}
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return
	}
	token := client.Publish(topic, m.opts.QoS, false, payload)
	if !token.WaitTimeout(m.opts.Timeout) {
		m.logger.Warn("MQTT publish timed out", "topic", topic, "request_id", resp.RequestID)
		return
	}
	if err := token.Error(); err != nil {
		m.logger.Warn("MQTT publish failed", "topic", topic, "request_id", resp.RequestID, "error", err)
	}
}
