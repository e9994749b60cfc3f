package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultMeeting ResultType = "meeting"
	ResultMotion  ResultType = "motion"
	ResultReply   ResultType = "reply"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	MeetingID string     `json:"meetingId"`
	MotionID  string     `json:"motionId,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterMeetingID string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexMeeting(m MeetingRecord) error
	IndexMotion(m MotionRecord) error
	IndexReply(r ReplyRecord) error
	DeleteMotion(id string) error
	DeleteReply(id string) error
}

// MeetingRecord is the data we index for a meeting.
type MeetingRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// MotionRecord is the data we index for a motion.
type MotionRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	MeetingID   string `json:"meetingId"`
	Status      string `json:"status"`
}

// ReplyRecord is the data we index for a discussion reply.
type ReplyRecord struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	Stance    string `json:"stance"`
	MotionID  string `json:"motionId"`
	MeetingID string `json:"meetingId"`
}
