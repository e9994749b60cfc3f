package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestGateway(t *testing.T) (*RedisGateway, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisGatewayWithClient(client), s
}

func TestPublishAppendsToStream(t *testing.T) {
	gw, s := setupTestGateway(t)
	ctx := context.Background()

	err := gw.Publish(ctx, Event{
		MeetingID: "mtg_1",
		MotionID:  "mot_1",
		EventType: "motion_proposed",
		ActorID:   "usr_1",
		ActorName: "Ada",
		Payload:   map[string]any{"title": "Adopt the budget"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	entries, err := s.Stream(streamEvents)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 stream entry, got %d", len(entries))
	}

	fields := map[string]string{}
	vals := entries[0].Values
	for i := 0; i+1 < len(vals); i += 2 {
		fields[vals[i]] = vals[i+1]
	}
	if fields["meeting_id"] != "mtg_1" {
		t.Errorf("meeting_id = %q, want mtg_1", fields["meeting_id"])
	}
	if fields["motion_id"] != "mot_1" {
		t.Errorf("motion_id = %q, want mot_1", fields["motion_id"])
	}
	if fields["event_type"] != "motion_proposed" {
		t.Errorf("event_type = %q, want motion_proposed", fields["event_type"])
	}

	var event Event
	if err := json.Unmarshal([]byte(fields["data"]), &event); err != nil {
		t.Fatalf("unmarshal event data: %v", err)
	}
	if event.ActorName != "Ada" {
		t.Errorf("actor name = %q, want Ada", event.ActorName)
	}
	if event.Payload["title"] != "Adopt the budget" {
		t.Errorf("payload title = %v", event.Payload["title"])
	}
	if event.OccurredAt.IsZero() {
		t.Error("expected OccurredAt to be set")
	}
}

func TestPublishOmitsMotionIDForMeetingEvents(t *testing.T) {
	gw, s := setupTestGateway(t)
	ctx := context.Background()

	err := gw.Publish(ctx, Event{
		MeetingID: "mtg_2",
		EventType: "meeting_opened",
		ActorID:   "usr_1",
		ActorName: "Ada",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	entries, err := s.Stream(streamEvents)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	vals := entries[0].Values
	for i := 0; i+1 < len(vals); i += 2 {
		if vals[i] == "motion_id" {
			t.Errorf("expected no motion_id field, got %q", vals[i+1])
		}
	}
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	gw, _ := setupTestGateway(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := gw.Subscribe(ctx, "mtg_3")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	err = gw.Publish(ctx, Event{
		MeetingID: "mtg_3",
		MotionID:  "mot_9",
		EventType: "vote_cast",
		ActorID:   "usr_2",
		ActorName: "Grace",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	raw, ok := <-ch
	if !ok {
		t.Fatal("subscription channel closed before delivery")
	}
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		t.Fatalf("unmarshal delivered event: %v", err)
	}
	if event.EventType != "vote_cast" || event.MotionID != "mot_9" {
		t.Errorf("delivered event = %+v", event)
	}
}
