package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"beaconattend/internal/logging"
	"beaconattend/internal/queue"
)

// MessageType tags observation messages on the queue.
const MessageType = "observation"

// Encode wraps obs in a queue message.
func Encode(obs Observation) (queue.Message, error) {
	body, err := json.Marshal(obs)
	if err != nil {
		return queue.Message{}, fmt.Errorf("encode observation: %w", err)
	}
	return queue.Message{Type: MessageType, ID: obs.ID, Body: body}, nil
}

// Decode reads an observation out of msg.
func Decode(msg queue.Message) (Observation, error) {
	if msg.Type != MessageType {
		return Observation{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var obs Observation
	if err := json.Unmarshal(msg.Body, &obs); err != nil {
		return Observation{}, fmt.Errorf("decode observation: %w", err)
	}
	if obs.ID == "" {
		obs.ID = msg.ID
	}
	return obs, nil
}

// Source consumes q and yields decoded observations. Undecodable messages
// are logged and skipped. The channel closes when the queue stream ends.
func Source(ctx context.Context, q queue.Queue, logger *slog.Logger) (<-chan Observation, error) {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return nil, err
	}
	log := logging.OrDefault(logger)
	out := make(chan Observation)
	go func() {
		defer close(out)
		for msg := range msgs {
			obs, err := Decode(msg)
			if err != nil {
				log.Warn("skipping queue message", "id", msg.ID, "type", msg.Type, "err", err)
				continue
			}
			select {
			case out <- obs:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
