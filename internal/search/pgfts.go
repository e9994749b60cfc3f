package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across meetings, motions, and replies
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Meetings sub-query. Skipped when filtering to one meeting since a
	// meeting is not contained in itself.
	if (q.FilterType == "" || q.FilterType == ResultMeeting) && q.FilterMeetingID == "" {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'meeting'::text AS type, mt.id, mt.title,
				ts_headline('english', coalesce(mt.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				mt.id AS meeting_id, ''::text AS motion_id, mt.status,
				ts_rank(mt.fts, %s) AS rank
			FROM meetings mt
			WHERE mt.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	// Motions sub-query
	if q.FilterType == "" || q.FilterType == ResultMotion {
		motionWhere := "m.fts @@ " + tsQuery
		if q.FilterMeetingID != "" {
			motionWhere += fmt.Sprintf(" AND m.meeting_id = $%d", argN)
			args = append(args, q.FilterMeetingID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'motion'::text AS type, m.id, m.title,
				ts_headline('english', coalesce(m.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				m.meeting_id, m.id AS motion_id, m.status,
				ts_rank(m.fts, %s) AS rank
			FROM motions m
			WHERE %s`, tsQuery, tsQuery, motionWhere))
	}

	// Replies sub-query
	if q.FilterType == "" || q.FilterType == ResultReply {
		replyWhere := "r.fts @@ " + tsQuery
		if q.FilterMeetingID != "" {
			replyWhere += fmt.Sprintf(" AND m.meeting_id = $%d", argN)
			args = append(args, q.FilterMeetingID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'reply'::text AS type, r.id, r.stance AS title,
				ts_headline('english', coalesce(r.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				m.meeting_id, r.motion_id, ''::text AS status,
				ts_rank(r.fts, %s) AS rank
			FROM motion_replies r
			JOIN motions m ON m.id = r.motion_id
			WHERE %s`, tsQuery, tsQuery, replyWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, meeting_id, motion_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.MeetingID, &r.MotionID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]MeetingRecord, []MotionRecord, []ReplyRecord, error) {
	meetingRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(description, ''), status
		FROM meetings
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load meetings: %w", err)
	}
	defer meetingRows.Close()

	meetings := make([]MeetingRecord, 0)
	for meetingRows.Next() {
		var m MeetingRecord
		if err := meetingRows.Scan(&m.ID, &m.Title, &m.Description, &m.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan meeting: %w", err)
		}
		meetings = append(meetings, m)
	}
	if err := meetingRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate meetings: %w", err)
	}

	motionRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(description, ''), meeting_id, status
		FROM motions
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load motions: %w", err)
	}
	defer motionRows.Close()

	motions := make([]MotionRecord, 0)
	for motionRows.Next() {
		var m MotionRecord
		if err := motionRows.Scan(&m.ID, &m.Title, &m.Description, &m.MeetingID, &m.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan motion: %w", err)
		}
		motions = append(motions, m)
	}
	if err := motionRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate motions: %w", err)
	}

	replyRows, err := p.db.QueryContext(ctx, `
		SELECT r.id, r.body, r.stance, r.motion_id, m.meeting_id
		FROM motion_replies r
		JOIN motions m ON m.id = r.motion_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load replies: %w", err)
	}
	defer replyRows.Close()

	replies := make([]ReplyRecord, 0)
	for replyRows.Next() {
		var r ReplyRecord
		if err := replyRows.Scan(&r.ID, &r.Body, &r.Stance, &r.MotionID, &r.MeetingID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan reply: %w", err)
		}
		replies = append(replies, r)
	}
	if err := replyRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate replies: %w", err)
	}

	return meetings, motions, replies, nil
}
