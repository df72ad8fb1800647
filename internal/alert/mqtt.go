// Package alert publishes malicious verdicts to an MQTT broker.
package alert

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/config"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/logging"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/metrics"
	"github.com/sirikonda-gangothri/Optimizing-IDS/internal/models"
)

// maliciousMarkers are label substrings that always raise an alert.
var maliciousMarkers = []string{"ddos", "malicious", "attack"}

// IsMalicious reports whether label names an attack. Matching is a
// case-insensitive substring test against the built-in markers and extra.
func IsMalicious(label string, extra []string) bool {
	l := strings.ToLower(label)
	if l == "" {
		return false
	}
	for _, m := range maliciousMarkers {
		if strings.Contains(l, m) {
			return true
		}
	}
	for _, m := range extra {
		if m != "" && strings.Contains(l, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// Sink receives alerts raised by the monitor. Publish must not block.
type Sink interface {
	Publish(a *models.Alert)
	Close()
}

// NopSink discards alerts.
type NopSink struct{}

func (NopSink) Publish(*models.Alert) {}
func (NopSink) Close()                {}

// Message is the MQTT payload of an alert.
type Message struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	SourceIP      string    `json:"source_ip"`
	DestinationIP string    `json:"destination_ip"`
	SrcPort       int       `json:"src_port,omitempty"`
	DstPort       int       `json:"dst_port,omitempty"`
	Protocol      string    `json:"protocol,omitempty"`
	Prediction    string    `json:"prediction"`
	Confidence    float64   `json:"confidence"`
}

const queueSize = 256

// MQTTPublisher sends alerts to <topic_prefix>/alerts from a background
// goroutine. Alerts are dropped when the queue is full.
type MQTTPublisher struct {
	client mqtt.Client
	config config.MQTTConfig
	topic  string
	log    *logging.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan *models.Alert
	done    chan struct{}
	dropped atomic.Uint64
	sent    atomic.Uint64
}

// New returns a Sink for cfg. An empty broker yields a NopSink.
func New(cfg config.MQTTConfig) (Sink, error) {
	if cfg.Broker == "" {
		return NopSink{}, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "optimizing-ids"
	}
	opts.SetClientID(clientID + "-" + uuid.NewString()[:8])
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	log := logging.AlertLogger()
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("connected to broker", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("broker connection lost, reconnecting", logging.Err(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.WaitTimeout(5 * time.Second) {
		if err := token.Error(); err != nil {
			log.Warn("initial broker connection failed, retrying in background", logging.Err(err))
		}
	} else {
		log.Warn("broker connection timed out, retrying in background", "broker", cfg.Broker)
	}

	return newPublisher(client, cfg), nil
}

func newPublisher(client mqtt.Client, cfg config.MQTTConfig) *MQTTPublisher {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "ids"
	}
	p := &MQTTPublisher{
		client: client,
		config: cfg,
		topic:  prefix + "/alerts",
		log:    logging.AlertLogger(),
		queue:  make(chan *models.Alert, queueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Topic returns the topic alerts are published to.
func (p *MQTTPublisher) Topic() string {
	return p.topic
}

// Publish queues an alert for delivery.
func (p *MQTTPublisher) Publish(a *models.Alert) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- a:
	default:
		p.dropped.Add(1)
	}
}

func (p *MQTTPublisher) run() {
	defer close(p.done)
	for a := range p.queue {
		if err := p.send(a); err != nil {
			p.log.Warn("alert publish failed", "topic", p.topic, logging.Err(err))
			continue
		}
		p.sent.Add(1)
		metrics.AlertsPublished.Inc()
	}
}

func (p *MQTTPublisher) send(a *models.Alert) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt not connected")
	}
	data, err := json.Marshal(Message(*a))
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	token := p.client.Publish(p.topic, p.config.QoS, p.config.Retain, data)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish to %s timed out", p.topic)
	}
	return token.Error()
}

// Stats returns the number of alerts sent and dropped.
func (p *MQTTPublisher) Stats() (sent, dropped uint64) {
	return p.sent.Load(), p.dropped.Load()
}

// Close drains queued alerts and disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	p.client.Disconnect(250)
}
