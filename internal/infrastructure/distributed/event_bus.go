package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"roomcast/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const EventSessionStatus EventType = "session.status"

// Event is published by one relay instance and delivered to the others.
type Event struct {
	Type       EventType         `json:"type"`
	InstanceID string            `json:"instance_id"`
	Timestamp  time.Time         `json:"timestamp"`
	RoomID     domain.RoomID     `json:"room_id"`
	Status     domain.RoomStatus `json:"status,omitempty"`
}

// EventBus fans room events out across relay instances over Redis pub/sub.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

// NewEventBus creates a new event bus
func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    "roomcast:events",
		logger:     logger,
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"room_id", event.RoomID,
	)
	return nil
}

// PublishStatus publishes a room status change to the other relays.
func (eb *EventBus) PublishStatus(ctx context.Context, roomID domain.RoomID, status domain.RoomStatus) error {
	return eb.Publish(ctx, &Event{Type: EventSessionStatus, RoomID: roomID, Status: status})
}

// Subscribe blocks, calling handler for every event published by another instance,
// until ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channel)
	defer eb.pubsub.Close()

	ch := eb.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("event bus subscription closed")
			}
			event, err := decodeEvent(msg.Payload)
			if err != nil {
				eb.logger.Warnw("failed to unmarshal event", "error", err)
				continue
			}
			if event.InstanceID == eb.instanceID {
				continue
			}
			if err := handler(event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"room_id", event.RoomID,
					"error", err,
				)
			}
		}
	}
}

func decodeEvent(payload string) (*Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, err
	}
	if event.RoomID == "" {
		return nil, fmt.Errorf("event without room_id")
	}
	return &event, nil
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
