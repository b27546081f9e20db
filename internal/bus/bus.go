// Package bus is the message bus between the submission path, the stage
// workers and the status tracker. Queues are durable asynq queues backed by
// Redis; every queue carries a single task type named after the queue.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Outcome is a consumer's verdict on one delivery.
type Outcome int

const (
	// Ack removes the message from the queue.
	Ack Outcome = iota + 1
	// Nack rejects the message without requeue.
	Nack
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Nack:
		return "nack"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Handler processes one message body and decides its outcome.
type Handler func(ctx context.Context, body []byte) Outcome

// Publisher writes a message body onto a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// PublishJSON encodes v and publishes it to queue.
func PublishJSON(ctx context.Context, p Publisher, queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", queue, err)
	}
	if err := p.Publish(ctx, queue, body); err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}
