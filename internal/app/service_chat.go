package app

import (
	"context"
	"net/http"
	"strings"

	"gavel/api/internal/rbac"
	"gavel/api/internal/store"
	"gavel/api/internal/util"
)

// Chat is the informal floor channel of a meeting. Messages sit outside the
// motion record but are mirrored into the history ledger so the minutes can
// carry the discussion.

func (s *Service) SendChat(ctx context.Context, session Session, meetingID, body string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionDiscuss); err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting.Status == "adjourned" {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "meeting is adjourned", nil)
	}

	message := store.ChatMessage{
		ID:        util.NewID("cht"),
		MeetingID: meetingID,
		AuthorID:  session.UserID,
		Body:      body,
	}
	if err := s.store.InsertChat(ctx, message); err != nil {
		return nil, err
	}

	s.appendHistory(ctx, meetingID, "", "chat", session.UserID, map[string]any{"body": body})
	s.publish(meetingID, "", "chat", session, map[string]any{"body": body})

	message.AuthorName = session.UserName
	return chatToMap(message), nil
}

func (s *Service) ListChat(ctx context.Context, session Session, meetingID string, limit int) ([]map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	messages, err := s.store.ListChats(ctx, meetingID, limit)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		payload = append(payload, chatToMap(message))
	}
	return payload, nil
}

func chatToMap(message store.ChatMessage) map[string]any {
	return map[string]any{
		"id":         message.ID,
		"meetingId":  message.MeetingID,
		"authorId":   message.AuthorID,
		"authorName": message.AuthorName,
		"body":       message.Body,
		"createdAt":  message.CreatedAt,
	}
}
