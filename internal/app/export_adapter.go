package app

import (
	"context"

	"gavel/api/internal/export"
	"gavel/api/internal/store"
)

// exportStore feeds the minutes renderer from the primary store. For decided
// motions the counts come from the immutable completion snapshot, not the
// live ballot table, so exported minutes match what was recorded at the
// moment of decision.
type exportStore struct {
	store dataStore
}

// NewExportStore adapts the Postgres store to the export renderer.
func NewExportStore(dataStore *store.PostgresStore) export.DataStore {
	return &exportStore{store: dataStore}
}

func (e *exportStore) GetMeeting(ctx context.Context, id string) (export.MeetingInfo, error) {
	meeting, err := e.store.GetMeeting(ctx, id)
	if err != nil {
		return export.MeetingInfo{}, err
	}
	return export.MeetingInfo{
		ID:           meeting.ID,
		Title:        meeting.Title,
		Description:  meeting.Description,
		Status:       meeting.Status,
		OwnerName:    meeting.OwnerName,
		ScheduledFor: meeting.ScheduledFor,
	}, nil
}

func (e *exportStore) ListMotions(ctx context.Context, meetingID string) ([]export.MotionInfo, error) {
	motions, err := e.store.ListMotions(ctx, meetingID, true)
	if err != nil {
		return nil, err
	}
	items := make([]export.MotionInfo, 0, len(motions))
	for _, motion := range motions {
		item := export.MotionInfo{
			ID:           motion.ID,
			Title:        motion.Title,
			Description:  motion.Description,
			Status:       motion.Status,
			ProposerName: motion.ProposerName,
			DecidedAt:    motion.DecidedAt,
		}
		if motion.DecidedAt != nil {
			event, err := e.store.LatestCompletionEvent(ctx, motion.ID)
			if err == nil {
				item.Outcome, _ = event.Payload["outcome"].(string)
				item.For = payloadInt(event.Payload, "for")
				item.Against = payloadInt(event.Payload, "against")
				item.Abstain = payloadInt(event.Payload, "abstain")
			} else {
				item.Outcome = motion.Status
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func (e *exportStore) ListAttendees(ctx context.Context, meetingID string) ([]export.AttendeeInfo, error) {
	attendees, err := e.store.ListAttendees(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	items := make([]export.AttendeeInfo, 0, len(attendees))
	for _, attendee := range attendees {
		items = append(items, export.AttendeeInfo{
			Name: attendee.DisplayName,
			Role: attendee.Role,
		})
	}
	return items, nil
}

func (e *exportStore) ListHistory(ctx context.Context, meetingID string) ([]export.HistoryInfo, error) {
	events, err := e.store.ListHistory(ctx, meetingID, "", "", 0)
	if err != nil {
		return nil, err
	}
	items := make([]export.HistoryInfo, 0, len(events))
	for _, event := range events {
		items = append(items, export.HistoryInfo{
			EventType: event.EventType,
			ActorName: event.ActorName,
			Detail:    eventDetail(event.Payload),
			CreatedAt: event.CreatedAt,
		})
	}
	return items, nil
}

func (e *exportStore) ListChats(ctx context.Context, meetingID string) ([]export.ChatInfo, error) {
	messages, err := e.store.ListChats(ctx, meetingID, 0)
	if err != nil {
		return nil, err
	}
	items := make([]export.ChatInfo, 0, len(messages))
	for _, message := range messages {
		items = append(items, export.ChatInfo{
			Author: message.AuthorName,
			Body:   message.Body,
			SentAt: message.CreatedAt,
		})
	}
	return items, nil
}

// eventDetail picks the one payload field worth a line in the minutes.
func eventDetail(payload map[string]any) string {
	for _, key := range []string{"title", "body", "outcome", "choice"} {
		if value, ok := payload[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

func (e *exportStore) ListMotionReplies(ctx context.Context, motionID string) ([]export.ReplyInfo, error) {
	replies, err := e.store.ListReplies(ctx, motionID)
	if err != nil {
		return nil, err
	}
	items := make([]export.ReplyInfo, 0, len(replies))
	for _, reply := range replies {
		items = append(items, export.ReplyInfo{
			Author: reply.AuthorName,
			Stance: reply.Stance,
			Body:   reply.Body,
		})
	}
	return items, nil
}
