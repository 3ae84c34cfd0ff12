package eventbus

import "fmt"

// BackendConfig names which notification backend to build and its
// connection parameters. Exactly one of the backend-specific field
// groups is consulted, chosen by Kind.
type BackendConfig struct {
	Kind string // "mqtt" or "kafka"

	MQTTBroker   string
	MQTTClientID string

	KafkaBrokers []string

	Topic string
}

// New builds the Publisher named by cfg.Kind.
func New(cfg BackendConfig) (Publisher, error) {
	switch cfg.Kind {
	case "mqtt":
		return NewMQTTPublisher(cfg.MQTTBroker, cfg.Topic, cfg.MQTTClientID)
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.Topic)
	case "":
		return nil, fmt.Errorf("eventbus: no backend kind configured")
	default:
		return nil, fmt.Errorf("eventbus: unknown backend kind %q", cfg.Kind)
	}
}
