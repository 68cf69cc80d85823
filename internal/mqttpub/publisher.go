// Package mqttpub publishes the materialised network graph, health
// documents, and validation failures to the outbound MQTT broker, and
// accepts live rate-limit commands on a parallel topic.
package mqttpub

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/dynamicdevices/uwb-bridge/internal/resilience"
	"github.com/dynamicdevices/uwb-bridge/pkg/log"
)

// Config describes the outbound broker connection and topic layout.
type Config struct {
	Broker                 string
	Port                   int
	Username               string
	Password               string
	Topic                  string
	RateLimit              time.Duration // minimum interval between publishes on Topic
	ValidationFailuresTopic string        // optional; empty disables publishing failures
}

func (c Config) commandTopic() string {
	return c.Topic + "/cmd"
}

func (c Config) healthTopic() string {
	return c.Topic + "/health"
}

// Publisher owns the outbound MQTT session, its live rate limit, and the
// health counters it updates on every publish attempt.
type Publisher struct {
	cfg    Config
	client mqtt.Client
	health *resilience.Health

	mu      sync.Mutex
	limiter *rate.Limiter
}

func New(cfg Config, health *resilience.Health) *Publisher {
	return &Publisher{
		cfg:     cfg,
		health:  health,
		limiter: newLimiter(cfg.RateLimit),
	}
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

func (p *Publisher) Start() error {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("ssl://%s:%d", p.cfg.Broker, p.cfg.Port)).
		SetTLSConfig(&tls.Config{InsecureSkipVerify: true}).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
	}
	if p.cfg.Password != "" {
		opts.SetPassword(p.cfg.Password)
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	token.Wait()
	return token.Error()
}

func (p *Publisher) Stop() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

func (p *Publisher) onConnect(client mqtt.Client) {
	log.Infof("publisher: connected to %s", p.cfg.Broker)
	connected := true
	p.health.UpdateConnectionStatus(time.Now(), true, &connected, nil)
	if token := client.Subscribe(p.cfg.commandTopic(), 1, p.onCommand); token.Wait() && token.Error() != nil {
		log.Errorf("publisher: failed to subscribe to %s: %v", p.cfg.commandTopic(), token.Error())
	}
}

func (p *Publisher) onConnectionLost(client mqtt.Client, err error) {
	log.Warnf("publisher: connection lost: %v", err)
	connected := false
	p.health.UpdateConnectionStatus(time.Now(), true, &connected, nil)
}

// onCommand parses the only recognised command, "set rate_limit <seconds>".
// Anything else is logged and ignored.
func (p *Publisher) onCommand(client mqtt.Client, msg mqtt.Message) {
	interval, err := parseRateLimitCommand(string(msg.Payload()))
	if err != nil {
		log.Warnf("publisher: %v", err)
		return
	}
	p.SetRateLimit(interval)
}

// SetRateLimit replaces the live rate limit, as applied by an incoming
// command or by configuration reload.
func (p *Publisher) SetRateLimit(interval time.Duration) {
	p.mu.Lock()
	p.limiter = newLimiter(interval)
	p.mu.Unlock()
	log.Infof("publisher: rate limit updated to %s", interval)
}

// parseRateLimitCommand parses the single recognised command grammar,
// "set rate_limit <positive-float>", where the float is a number of
// seconds. Any other shape, including a non-positive value, is an error.
func parseRateLimitCommand(payload string) (time.Duration, error) {
	fields := strings.Fields(strings.TrimSpace(payload))
	if len(fields) != 3 || fields[0] != "set" || fields[1] != "rate_limit" {
		return 0, fmt.Errorf("unknown command: %q", payload)
	}

	seconds, err := strconv.ParseFloat(fields[2], 64)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("invalid rate_limit command: %q", payload)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// Publish serialises v to compact JSON and publishes it to Topic at QoS 1,
// unless the current rate limit disallows it — in which case the attempt
// is silently skipped, not queued.
func (p *Publisher) Publish(v any) {
	p.mu.Lock()
	allowed := p.limiter.Allow()
	p.mu.Unlock()
	if !allowed {
		return
	}
	p.publishTopic(p.cfg.Topic, v, 1)
}

func (p *Publisher) PublishHealth(v any) {
	p.publishTopic(p.cfg.healthTopic(), v, 1)
}

func (p *Publisher) PublishValidationFailures(v any) {
	if p.cfg.ValidationFailuresTopic == "" {
		return
	}
	p.publishTopic(p.cfg.ValidationFailuresTopic, v, 1)
}

func (p *Publisher) publishTopic(topic string, v any, qos byte) {
	if p.client == nil || !p.client.IsConnected() {
		p.health.RecordMqttPublish(false)
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		log.Errorf("publisher: failed to marshal payload for %s: %v", topic, err)
		p.health.RecordMqttPublish(false)
		return
	}

	token := p.client.Publish(topic, qos, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Warnf("publisher: failed to publish to %s: %v", topic, err)
		p.health.RecordMqttPublish(false)
		return
	}
	p.health.RecordMqttPublish(true)
}
