package eventbus

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTPublisher publishes completion events as a single QoS-1 message to
// a fixed topic on a broker.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

// NewMQTTPublisher connects to broker (e.g. "tcp://localhost:1883") and
// returns a Publisher that publishes to topic.
func NewMQTTPublisher(broker, topic, clientID string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(10 * time.Second)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("eventbus: connect to %s: %w", broker, token.Error())
	}
	return &MQTTPublisher{client: client, topic: topic}, nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, ev CompletionEvent) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.topic, 1, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return &PublishError{Backend: "mqtt", Err: fmt.Errorf("publish to %s timed out", p.topic)}
	}
	if err := token.Error(); err != nil {
		return &PublishError{Backend: "mqtt", Err: err}
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
