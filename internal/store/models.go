package store

import (
	"time"

	"gavel/api/internal/tally"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Meeting struct {
	ID           string
	Title        string
	Description  string
	Status       string
	OwnerID      string
	OwnerName    string
	ScheduledFor *time.Time
	ViewerRole   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Attendee struct {
	MeetingID   string
	UserID      string
	DisplayName string
	Email       string
	Role        string
	JoinedAt    time.Time
}

type Invitation struct {
	ID           string
	MeetingID    string
	MeetingTitle string
	Email        string
	Role         string
	TokenHash    string
	InvitedBy    string
	InviterName  string
	CreatedAt    time.Time
	AcceptedAt   *time.Time
}

type Motion struct {
	ID           string
	MeetingID    string
	ParentID     *string
	Title        string
	Description  string
	Status       string
	Special      bool
	ProposerID   string
	ProposerName string
	DecidedAt    *time.Time
	OverturnedBy *string
	OverturnOf   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Vote struct {
	MotionID  string
	VoterID   string
	VoterName string
	Choice    string
	CastAt    time.Time
	UpdatedAt time.Time
}

type Reply struct {
	ID         string
	MotionID   string
	AuthorID   string
	AuthorName string
	Stance     string
	Body       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type HistoryEvent struct {
	ID        int64
	MeetingID string
	MotionID  *string
	EventType string
	ActorID   string
	ActorName string
	Payload   map[string]any
	CreatedAt time.Time
}

// VoteSnapshot is the immutable record of a motion's ballots at the moment
// it was decided. It rides inside the motion_completed history payload and
// is what overturn eligibility is judged against later.
type VoteSnapshot struct {
	For     int               `json:"for"`
	Against int               `json:"against"`
	Abstain int               `json:"abstain"`
	Voters  map[string]string `json:"voters"`
}

// FinalizeResult reports what FinalizeMotion found while it held the motion
// row lock. Open is false when the motion had already left the open state.
// For a tied or empty ballot the motion stays open and only Outcome and
// Count are meaningful; otherwise Snapshot is the ledgered ballot record.
type FinalizeResult struct {
	Open     bool
	Outcome  tally.Outcome
	Count    tally.Count
	Snapshot VoteSnapshot
}

type ChatMessage struct {
	ID         string
	MeetingID  string
	AuthorID   string
	AuthorName string
	Body       string
	CreatedAt  time.Time
}
