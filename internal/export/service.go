package export

import (
	"context"
	"encoding/json"
	"fmt"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetMeeting(ctx context.Context, id string) (MeetingInfo, error)
	ListMotions(ctx context.Context, meetingID string) ([]MotionInfo, error)
	ListMotionReplies(ctx context.Context, motionID string) ([]ReplyInfo, error)
	ListAttendees(ctx context.Context, meetingID string) ([]AttendeeInfo, error)
	ListHistory(ctx context.Context, meetingID string) ([]HistoryInfo, error)
	ListChats(ctx context.Context, meetingID string) ([]ChatInfo, error)
}

// Service renders meeting minutes in the requested format
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates minutes in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	meeting, err := s.store.GetMeeting(ctx, req.MeetingID)
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}

	motions, err := s.store.ListMotions(ctx, req.MeetingID)
	if err != nil {
		return nil, fmt.Errorf("list motions: %w", err)
	}
	attendees, err := s.store.ListAttendees(ctx, req.MeetingID)
	if err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	history, err := s.store.ListHistory(ctx, req.MeetingID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	chats, err := s.store.ListChats(ctx, req.MeetingID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	data := TemplateData{
		Title:       meeting.Title,
		Description: meeting.Description,
		Status:      meeting.Status,
		OwnerName:   meeting.OwnerName,
		Attendees:   attendees,
		History:     history,
		Chats:       chats,
		Motions:     []TemplateMotion{},
	}
	if meeting.ScheduledFor != nil {
		data.ScheduledFor = *meeting.ScheduledFor
		data.HasSchedule = true
	}

	for _, m := range motions {
		motion := TemplateMotion{
			Title:        m.Title,
			Description:  m.Description,
			Status:       m.Status,
			ProposerName: m.ProposerName,
			Outcome:      m.Outcome,
			For:          m.For,
			Against:      m.Against,
			Abstain:      m.Abstain,
			Replies:      []TemplateReply{},
		}
		if m.DecidedAt != nil {
			motion.DecidedAt = *m.DecidedAt
			motion.HasDecision = true
		}

		if req.IncludeReplies {
			replies, err := s.store.ListMotionReplies(ctx, m.ID)
			if err == nil {
				for _, r := range replies {
					motion.Replies = append(motion.Replies, TemplateReply{
						Author: r.Author,
						Stance: r.Stance,
						Body:   r.Body,
					})
				}
			}
		}

		data.Motions = append(data.Motions, motion)
	}

	switch req.Format {
	case FormatText:
		return exportText(data, meeting.Title)
	case FormatJSON:
		return exportJSON(meeting, motions, attendees, history, chats)
	case FormatPDF:
		html, err := RenderMinutesHTML(data)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return exportPDF(html, meeting.Title)
	case FormatDOCX:
		html, err := RenderMinutesHTML(data)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return exportDOCX(html, meeting.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

type jsonMinutes struct {
	Meeting   MeetingInfo    `json:"meeting"`
	Attendees []AttendeeInfo `json:"attendees"`
	Motions   []MotionInfo   `json:"motions"`
	History   []HistoryInfo  `json:"history"`
	Chats     []ChatInfo     `json:"chats"`
}

func exportJSON(meeting MeetingInfo, motions []MotionInfo, attendees []AttendeeInfo, history []HistoryInfo, chats []ChatInfo) (*Result, error) {
	payload, err := json.MarshalIndent(jsonMinutes{
		Meeting:   meeting,
		Attendees: attendees,
		Motions:   motions,
		History:   history,
		Chats:     chats,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal minutes: %w", err)
	}
	return &Result{
		Data:     append(payload, '\n'),
		Filename: sanitizeFilename(meeting.Title) + ".json",
		MimeType: "application/json",
	}, nil
}
