package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher is the part of an MQTT client the sender uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSender publishes each message as JSON on <prefix>/<recipient>.
type MQTTSender struct {
	client Publisher
	prefix string
	qos    byte
}

// NewMQTTSender wraps client. Messages are published with QoS 1.
func NewMQTTSender(client Publisher, prefix string) *MQTTSender {
	return &MQTTSender{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: 1}
}

// ConnectMQTT connects to broker and waits up to timeout for the session.
func ConnectMQTT(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)
	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return client, nil
}

// Topic returns the topic a recipient's messages are published on.
func (s *MQTTSender) Topic(recipient string) string {
	return s.prefix + "/" + recipient
}

// Send publishes msg and waits for the broker ack or ctx to end.
func (s *MQTTSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	token := s.client.Publish(s.Topic(msg.To), s.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
