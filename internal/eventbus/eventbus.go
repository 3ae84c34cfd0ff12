// Package eventbus notifies downstream systems when a run finishes,
// without requiring them to poll the coordinator's own process.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CompletionEvent reports that a run has finished processing every chunk
// in its result set.
type CompletionEvent struct {
	Database   string    `json:"database"`
	ChunkCount int       `json:"chunkCount"`
	Duration   string    `json:"duration"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Publisher sends one CompletionEvent to a downstream notification
// channel. MQTTPublisher and KafkaPublisher are the concrete
// implementations a deployment chooses between.
type Publisher interface {
	Publish(ctx context.Context, ev CompletionEvent) error
	Close() error
}

// PublishError names the backend and payload that failed to send.
type PublishError struct {
	Backend string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("eventbus: %s publish: %v", e.Backend, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

func encodeEvent(ev CompletionEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("eventbus: encode event: %w", err)
	}
	return payload, nil
}
