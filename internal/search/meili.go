package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxMeetings = "gavel_meetings"
	idxMotions  = "gavel_motions"
	idxReplies  = "gavel_replies"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// Returns a client that marks itself unhealthy when the instance is
// unreachable; callers fall back to Postgres FTS in that case.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxMeetings,
			primaryKey: "id",
			filterable: []string{"status"},
			searchable: []string{"title", "description"},
		},
		{
			uid:        idxMotions,
			primaryKey: "id",
			filterable: []string{"meetingId", "status"},
			searchable: []string{"title", "description"},
		},
		{
			uid:        idxReplies,
			primaryKey: "id",
			filterable: []string{"meetingId", "motionId", "stance"},
			searchable: []string{"body"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries all three indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxMeetings, ResultMeeting},
		{idxMotions, ResultMotion},
		{idxReplies, ResultReply},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		// Meeting records carry no meetingId attribute, their own ID is
		// the meeting. A meeting filter excludes that index entirely.
		if q.FilterMeetingID != "" && ti.rtyp == ResultMeeting {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		if q.FilterMeetingID != "" {
			sr.Filter = []string{fmt.Sprintf("meetingId = %q", q.FilterMeetingID)}
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxMeetings:
		return ResultMeeting
	case idxMotions:
		return ResultMotion
	case idxReplies:
		return ResultReply
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.MeetingID = decodeString(hit, "meetingId")
	r.Status = decodeString(hit, "status")

	switch rtyp {
	case ResultMeeting:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
		r.MeetingID = r.ID // meeting's own ID
	case ResultMotion:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
		r.MotionID = r.ID
	case ResultReply:
		r.Title = firstNonBlank(decodeFormattedString(hit, "stance"), decodeString(hit, "stance"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body"))
		r.MotionID = decodeString(hit, "motionId")
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexMeeting adds or updates a meeting in the search index.
func (m *Meili) IndexMeeting(rec MeetingRecord) error {
	_, err := m.client.Index(idxMeetings).AddDocuments([]MeetingRecord{rec}, nil)
	return err
}

// IndexMotion adds or updates a motion in the search index.
func (m *Meili) IndexMotion(rec MotionRecord) error {
	_, err := m.client.Index(idxMotions).AddDocuments([]MotionRecord{rec}, nil)
	return err
}

// IndexReply adds or updates a reply in the search index.
func (m *Meili) IndexReply(rec ReplyRecord) error {
	_, err := m.client.Index(idxReplies).AddDocuments([]ReplyRecord{rec}, nil)
	return err
}

// DeleteMotion removes a motion from the search index.
func (m *Meili) DeleteMotion(id string) error {
	_, err := m.client.Index(idxMotions).DeleteDocument(id, nil)
	return err
}

// DeleteReply removes a reply from the search index.
func (m *Meili) DeleteReply(id string) error {
	_, err := m.client.Index(idxReplies).DeleteDocument(id, nil)
	return err
}

// IndexMeetings bulk-indexes meetings.
func (m *Meili) IndexMeetings(meetings []MeetingRecord) error {
	if len(meetings) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMeetings).AddDocuments(meetings, nil)
	return err
}

// IndexMotions bulk-indexes motions.
func (m *Meili) IndexMotions(motions []MotionRecord) error {
	if len(motions) == 0 {
		return nil
	}
	_, err := m.client.Index(idxMotions).AddDocuments(motions, nil)
	return err
}

// IndexReplies bulk-indexes replies.
func (m *Meili) IndexReplies(replies []ReplyRecord) error {
	if len(replies) == 0 {
		return nil
	}
	_, err := m.client.Index(idxReplies).AddDocuments(replies, nil)
	return err
}
