package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMeeting indexes a meeting (fire-and-forget to Meilisearch).
func (s *Service) IndexMeeting(rec MeetingRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMeeting(rec); err != nil {
			log.Printf("search: index meeting %s: %v", rec.ID, err)
		}
	}()
}

// IndexMotion indexes a motion (fire-and-forget to Meilisearch).
func (s *Service) IndexMotion(rec MotionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMotion(rec); err != nil {
			log.Printf("search: index motion %s: %v", rec.ID, err)
		}
	}()
}

// IndexReply indexes a reply (fire-and-forget to Meilisearch).
func (s *Service) IndexReply(rec ReplyRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexReply(rec); err != nil {
			log.Printf("search: index reply %s: %v", rec.ID, err)
		}
	}()
}

// DeleteReply removes a reply from the search index (fire-and-forget).
func (s *Service) DeleteReply(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteReply(id); err != nil {
			log.Printf("search: delete reply %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes preloaded records to Meilisearch.
func (s *Service) ReindexAll(meetings []MeetingRecord, motions []MotionRecord, replies []ReplyRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(meetings) > 0 {
		if err := s.meili.IndexMeetings(meetings); err != nil {
			log.Printf("search: reindex meetings: %v", err)
		}
	}
	if len(motions) > 0 {
		if err := s.meili.IndexMotions(motions); err != nil {
			log.Printf("search: reindex motions: %v", err)
		}
	}
	if len(replies) > 0 {
		if err := s.meili.IndexReplies(replies); err != nil {
			log.Printf("search: reindex replies: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	meetings, motions, replies, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(meetings, motions, replies)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
