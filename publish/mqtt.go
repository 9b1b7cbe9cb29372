package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/TheCacophonyProject/ups-battery-monitor/batterystate"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	mqttPublishTimeout = 2 * time.Second
	mqttDefaultPort    = 1883
)

var errNotConnected = errors.New("not connected to MQTT broker")

type MQTTConfig struct {
	Broker        string
	ClientID      string
	Username      string
	Password      string
	TopicPrefix   string
	HomeAssistant bool
}

// MQTTSink publishes records as JSON on <prefix>battery_state.
// Records sent while the broker is unreachable are dropped.
type MQTTSink struct {
	client mqtt.Client
	topic  string
	log    *logrus.Logger
}

func NewMQTTSink(cfg MQTTConfig, log *logrus.Logger) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("no MQTT broker set")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID()
	}
	s := &MQTTSink{
		topic: cfg.TopicPrefix + Channel,
		log:   log,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warnf("MQTT connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Infof("Connected to MQTT broker at %s", cfg.Broker)
		if cfg.HomeAssistant {
			s.announce(client, cfg.ClientID)
		}
	})

	s.client = mqtt.NewClient(opts)
	return s, nil
}

// Connect starts connecting to the broker. The client keeps retrying in the
// background so this does not wait for the broker to be reachable.
func (s *MQTTSink) Connect() {
	s.log.Debugf("Connecting to MQTT broker, publishing to '%s'", s.topic)
	s.client.Connect()
}

func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}

func (s *MQTTSink) Name() string {
	return "mqtt"
}

func (s *MQTTSink) Send(ctx context.Context, record batterystate.Record) error {
	if !s.client.IsConnectionOpen() {
		return errNotConnected
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return waitToken(ctx, s.client.Publish(s.topic, 0, false, payload), mqttPublishTimeout)
}

func (s *MQTTSink) announce(client mqtt.Client, deviceID string) {
	msgs, err := discoveryMessages(s.topic, deviceID)
	if err != nil {
		s.log.WithError(err).Error("Failed to make Home Assistant discovery config")
		return
	}
	for _, msg := range msgs {
		token := client.Publish(msg.Topic, 1, true, msg.Payload)
		go func(topic string) {
			if !token.WaitTimeout(mqttPublishTimeout) {
				s.log.Warnf("Timed out publishing Home Assistant config to %s", topic)
			} else if err := token.Error(); err != nil {
				s.log.Warnf("Failed to publish Home Assistant config to %s: %v", topic, err)
			}
		}(msg.Topic)
	}
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-t.C:
		return fmt.Errorf("timed out after %s waiting for MQTT publish", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// brokerURL turns "host" or "host:port" into a tcp:// URL, full URLs are kept.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	if !strings.Contains(broker, ":") {
		broker = fmt.Sprintf("%s:%d", broker, mqttDefaultPort)
	}
	return "tcp://" + broker
}

func defaultClientID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "ups-battery-monitor"
	}
	return "ups-battery-monitor-" + hostname
}
