package main

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mqttEvent is the JSON payload published for session lifecycle
// transitions (spec.md's SPEC_FULL domain-stack expansion).
type mqttEvent struct {
	Event     string `json:"event"`
	Ident     int64  `json:"ident"`
	Address   string `json:"address"`
	Country   string `json:"country,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// MQTTPublisher publishes session admit/remove events to a broker.
// Grounded on the teacher's mqtt_publisher.go: paho client options with
// optional TLS, a fixed topic prefix, and best-effort QoS-0 publishes
// that never block the caller.
type MQTTPublisher struct {
	cfg    *MQTTConfig
	client mqtt.Client
}

func newMQTTPublisher(cfg *Config) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTT.BrokerURL)
	opts.SetClientID(fmt.Sprintf("rtl-mus-%d", time.Now().UnixNano()))
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	if cfg.MQTT.UseTLS {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: cfg.MQTT.TLSInsecureSkipVerify})
	}

	return &MQTTPublisher{cfg: &cfg.MQTT, client: mqtt.NewClient(opts)}, nil
}

func (p *MQTTPublisher) start() {
	go func() {
		if token := p.client.Connect(); token.Wait() && token.Error() != nil {
			logErrorf("mqtt: connect failed: %v", token.Error())
		} else {
			logInfof("mqtt: connected to %s", p.cfg.BrokerURL)
		}
	}()
}

func (p *MQTTPublisher) stop() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

func (p *MQTTPublisher) publish(ev mqttEvent) {
	if !p.client.IsConnected() {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		logErrorf("mqtt: marshaling event: %v", err)
		return
	}
	topic := fmt.Sprintf("%s/%s", p.cfg.TopicPrefix, ev.Event)
	token := p.client.Publish(topic, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			logDebugf("mqtt: publish to %s failed: %v", topic, token.Error())
		}
	}()
}

func (p *MQTTPublisher) publishSessionAdmitted(s *ClientSession) {
	p.publish(mqttEvent{Event: "session_admitted", Ident: s.ident, Address: s.address, Country: s.country, Timestamp: s.startTime.Unix()})
}

func (p *MQTTPublisher) publishSessionRemoved(s *ClientSession) {
	p.publish(mqttEvent{Event: "session_removed", Ident: s.ident, Address: s.address, Country: s.country, Timestamp: time.Now().Unix()})
}
