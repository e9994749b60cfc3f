// Package notify delivers meeting events to listeners over Redis. Each
// event is published on a per-meeting pub/sub channel for live clients
// and appended to a stream so consumers that reconnect can catch up.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix = "gavel.meeting."
	streamEvents  = "gavel.events"
	streamMaxLen  = 10000
)

// Event is the wire form of a meeting notification.
type Event struct {
	MeetingID  string         `json:"meeting_id"`
	MotionID   string         `json:"motion_id,omitempty"`
	EventType  string         `json:"event_type"`
	ActorID    string         `json:"actor_id"`
	ActorName  string         `json:"actor_name"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// RedisGateway fans meeting events out over Redis.
type RedisGateway struct {
	client *redis.Client
}

func NewRedisGateway(redisURL string) (*RedisGateway, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisGateway{client: client}, nil
}

// NewRedisGatewayWithClient wraps an existing client. Used in tests.
func NewRedisGatewayWithClient(client *redis.Client) *RedisGateway {
	return &RedisGateway{client: client}
}

// Publish sends the event to the meeting's channel and appends it to the
// event stream. Stream entries are trimmed so the backlog stays bounded.
func (g *RedisGateway) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := g.client.Publish(ctx, channelPrefix+event.MeetingID, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	values := map[string]any{
		"meeting_id": event.MeetingID,
		"event_type": event.EventType,
		"actor_id":   event.ActorID,
		"data":       string(data),
	}
	if event.MotionID != "" {
		values["motion_id"] = event.MotionID
	}

	if err := g.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamEvents,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("append event to stream: %w", err)
	}
	return nil
}

// Subscribe returns a channel of raw event payloads for one meeting. The
// caller must cancel the context to release the subscription.
func (g *RedisGateway) Subscribe(ctx context.Context, meetingID string) (<-chan string, error) {
	sub := g.client.Subscribe(ctx, channelPrefix+meetingID)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe to meeting channel: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				out <- msg.Payload
			}
		}
	}()
	return out, nil
}

func (g *RedisGateway) Close() error {
	return g.client.Close()
}

func (g *RedisGateway) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}
