package loracache

import (
	"crypto/tls"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dynamicdevices/uwb-bridge/internal/resilience"
	"github.com/dynamicdevices/uwb-bridge/pkg/log"
)

// SubscriberConfig configures the inbound TLS-MQTT connection to the
// LoRa/TTN broker.
type SubscriberConfig struct {
	Broker       string
	Port         int
	Username     string
	Password     string
	TopicPattern string // commonly "#"
}

// Subscriber owns the single long-lived MQTT session that feeds the cache.
// Certificate verification is disabled: TTN brokers are reached by
// hostname over a network path the operator already trusts, and pinning a
// CA bundle per deployment is out of scope here.
type Subscriber struct {
	cfg    SubscriberConfig
	cache  *Cache
	health *resilience.Health
	client mqtt.Client
}

func NewSubscriber(cfg SubscriberConfig, cache *Cache, health *resilience.Health) *Subscriber {
	return &Subscriber{cfg: cfg, cache: cache, health: health}
}

// Start connects to the broker and subscribes to the topic pattern. The
// paho client manages its own reconnect loop from here on; connection loss
// is not fatal to the bridge.
func (s *Subscriber) Start() error {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL(s.cfg.Broker, s.cfg.Port)).
		SetTLSConfig(&tls.Config{InsecureSkipVerify: true}).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	token.Wait()
	return token.Error()
}

func (s *Subscriber) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) onConnect(client mqtt.Client) {
	log.Infof("lora cache: connected to %s", s.cfg.Broker)
	connected := true
	s.health.UpdateConnectionStatus(time.Now(), true, nil, &connected)
	if token := client.Subscribe(s.cfg.TopicPattern, 0, s.onMessage); token.Wait() && token.Error() != nil {
		log.Errorf("lora cache: failed to subscribe to %s: %v", s.cfg.TopicPattern, token.Error())
	}
}

func (s *Subscriber) onConnectionLost(client mqtt.Client, err error) {
	log.Warnf("lora cache: connection lost: %v", err)
	connected := false
	s.health.UpdateConnectionStatus(time.Now(), true, nil, &connected)
	s.health.RecordConnectionError(time.Now())
}

func (s *Subscriber) onMessage(client mqtt.Client, msg mqtt.Message) {
	now := time.Now()
	rec, err := DecodeUplink(msg.Payload(), now)
	if err != nil {
		log.Warnf("lora cache: failed to decode uplink on %s: %v", msg.Topic(), err)
		return
	}
	s.cache.Put(rec)
}

func brokerURL(broker string, port int) string {
	return "ssl://" + broker + ":" + strconv.Itoa(port)
}
