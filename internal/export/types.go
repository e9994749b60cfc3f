// Package export renders meeting minutes into portable formats.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request contains parameters for an export operation
type Request struct {
	MeetingID      string
	Format         Format
	IncludeReplies bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// MeetingInfo holds meeting metadata for export
type MeetingInfo struct {
	ID           string
	Title        string
	Description  string
	Status       string
	OwnerName    string
	ScheduledFor *time.Time
}

// MotionInfo holds one motion's record for export
type MotionInfo struct {
	ID           string
	Title        string
	Description  string
	Status       string
	ProposerName string
	Outcome      string
	For          int
	Against      int
	Abstain      int
	DecidedAt    *time.Time
}

// ReplyInfo holds reply metadata for export
type ReplyInfo struct {
	Author string
	Stance string
	Body   string
}

// AttendeeInfo holds one attendee's identity for export
type AttendeeInfo struct {
	Name string
	Role string
}

// HistoryInfo holds one ledger event for export, oldest first
type HistoryInfo struct {
	EventType string
	ActorName string
	Detail    string
	CreatedAt time.Time
}

// ChatInfo holds one floor chat message for export
type ChatInfo struct {
	Author string
	Body   string
	SentAt time.Time
}

var (
	// ErrUnsupportedFormat indicates the requested export format is unknown.
	ErrUnsupportedFormat = errors.New("export format unsupported")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
