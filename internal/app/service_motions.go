package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"gavel/api/internal/export"
	"gavel/api/internal/minutes"
	"gavel/api/internal/rbac"
	"gavel/api/internal/search"
	"gavel/api/internal/store"
	"gavel/api/internal/tally"
	"gavel/api/internal/util"
)

// Motions

func (s *Service) ProposeMotion(ctx context.Context, session Session, meetingID string, input MotionInput) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionPropose); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting.Status == "adjourned" {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "meeting is adjourned", nil)
	}

	motion := store.Motion{
		ID:          util.NewID("mot"),
		MeetingID:   meetingID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Status:      "proposed",
		Special:     input.Special,
		ProposerID:  session.UserID,
	}
	if err := s.store.InsertMotion(ctx, motion); err != nil {
		return nil, err
	}

	s.appendHistory(ctx, meetingID, motion.ID, "motion_proposed", session.UserID, map[string]any{"title": title})
	s.publish(meetingID, motion.ID, "motion_proposed", session, map[string]any{"title": title})
	s.indexMotion(motion)

	motion.ProposerName = session.UserName
	return motionToMap(motion), nil
}

func (s *Service) ProposeSubMotion(ctx context.Context, session Session, meetingID, parentID string, input MotionInput) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionPropose); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	parent, err := s.store.GetMotion(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.MeetingID != meetingID {
		return nil, sql.ErrNoRows
	}

	motion := store.Motion{
		ID:          util.NewID("mot"),
		MeetingID:   meetingID,
		ParentID:    &parent.ID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Status:      "proposed",
		Special:     input.Special,
		ProposerID:  session.UserID,
	}
	inserted, err := s.store.InsertSubMotion(ctx, motion)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "parent motion has been decided", map[string]any{"parentStatus": parent.Status})
	}

	s.appendHistory(ctx, meetingID, motion.ID, "submotion_proposed", session.UserID, map[string]any{"title": title, "parentId": parent.ID})
	// A parent already postponed by an earlier sibling keeps its original
	// postponement event.
	if parent.Status == "open" {
		s.appendHistory(ctx, meetingID, parent.ID, "motion_postponed", session.UserID, map[string]any{"submotionId": motion.ID})
	}
	s.publish(meetingID, motion.ID, "submotion_proposed", session, map[string]any{"parentId": parent.ID})
	s.indexMotion(motion)

	motion.ProposerName = session.UserName
	return motionToMap(motion), nil
}

func (s *Service) ListMotions(ctx context.Context, session Session, meetingID string, includeCompleted bool) ([]map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	motions, err := s.store.ListMotions(ctx, meetingID, includeCompleted)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(motions))
	for _, motion := range motions {
		payload = append(payload, motionToMap(motion))
	}
	return payload, nil
}

func (s *Service) GetMotion(ctx context.Context, session Session, meetingID, motionID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	motion, err := s.motionInMeeting(ctx, meetingID, motionID)
	if err != nil {
		return nil, err
	}
	votes, err := s.store.ListVotes(ctx, motionID)
	if err != nil {
		return nil, err
	}
	replies, err := s.store.ListReplies(ctx, motionID)
	if err != nil {
		return nil, err
	}

	payload := motionToMap(motion)
	payload["tally"] = voteTally(votes)
	votePayload := make([]map[string]any, 0, len(votes))
	for _, vote := range votes {
		votePayload = append(votePayload, voteToMap(vote))
	}
	payload["votes"] = votePayload
	replyPayload := make([]map[string]any, 0, len(replies))
	for _, reply := range replies {
		replyPayload = append(replyPayload, replyToMap(reply))
	}
	payload["replies"] = replyPayload
	return payload, nil
}

func (s *Service) UpdateMotion(ctx context.Context, session Session, meetingID, motionID string, input MotionInput) (map[string]any, error) {
	role, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	motion, err := s.motionInMeeting(ctx, meetingID, motionID)
	if err != nil {
		return nil, err
	}
	if motion.ProposerID != session.UserID && !rbac.Can(rbac.Normalize(role), rbac.ActionModerate) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only the proposer or the chair may edit a motion", nil)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	updated, err := s.store.UpdateMotionText(ctx, motionID, title, strings.TrimSpace(input.Description))
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "a decided motion can no longer be edited", map[string]any{"status": motion.Status})
	}

	s.appendHistory(ctx, meetingID, motionID, "motion_updated", session.UserID, map[string]any{"title": title})
	motion.Title = title
	motion.Description = strings.TrimSpace(input.Description)
	s.indexMotion(motion)
	return motionToMap(motion), nil
}

// StartVoting moves a proposed motion to open. The transition carries no
// history event; ballots themselves are the audit trail of an open motion.
func (s *Service) StartVoting(ctx context.Context, session Session, meetingID, motionID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionModerate); err != nil {
		return nil, err
	}
	motion, err := s.motionInMeeting(ctx, meetingID, motionID)
	if err != nil {
		return nil, err
	}
	opened, err := s.store.SetMotionStatus(ctx, motionID, "open", "proposed")
	if err != nil {
		return nil, err
	}
	if !opened {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "motion is not awaiting a vote", map[string]any{"status": motion.Status})
	}
	motion.Status = "open"
	s.publish(meetingID, motionID, "voting_opened", session, nil)
	s.indexMotion(motion)
	return motionToMap(motion), nil
}

func (s *Service) PostponeMotion(ctx context.Context, session Session, meetingID, motionID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionModerate); err != nil {
		return nil, err
	}
	motion, err := s.motionInMeeting(ctx, meetingID, motionID)
	if err != nil {
		return nil, err
	}
	if motion.Status == "postponed" {
		return motionToMap(motion), nil
	}
	postponed, err := s.store.SetMotionStatus(ctx, motionID, "postponed", "open")
	if err != nil {
		return nil, err
	}
	if !postponed {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "only an open motion can be postponed", map[string]any{"status": motion.Status})
	}
	motion.Status = "postponed"
	s.appendHistory(ctx, meetingID, motionID, "motion_postponed", session.UserID, nil)
	s.publish(meetingID, motionID, "motion_postponed", session, nil)
	s.indexMotion(motion)
	return motionToMap(motion), nil
}

func (s *Service) ResumeMotion(ctx context.Context, session Session, meetingID, motionID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionModerate); err != nil {
		return nil, err
	}
	motion, err := s.motionInMeeting(ctx, meetingID, motionID)
	if err != nil {
		return nil, err
	}
	blocking, err := s.store.CountBlockingChildren(ctx, motionID)
	if err != nil {
		return nil, err
	}
	if blocking > 0 {
		return nil, domainError(http.StatusConflict, "CONFLICT", "sub-motions must be decided first", map[string]any{"blockingChildren": blocking})
	}
	resumed, err := s.store.SetMotionStatus(ctx, motionID, "open", "postponed")
	if err != nil {
		return nil, err
	}
	if !resumed {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "only a postponed motion can be resumed", map[string]any{"status": motion.Status})
	}
	motion.Status = "open"
	s.appendHistory(ctx, meetingID, motionID, "motion_resumed", session.UserID, nil)
	s.publish(meetingID, motionID, "motion_resumed", session, nil)
	s.indexMotion(motion)
	return motionToMap(motion), nil
}

// EndMotion closes the ballot under strict majority. A tie leaves the
// motion open and reports resolved=false so the chair can retry after more
// ballots come in.
func (s *Service) EndMotion(ctx context.Context, session Session, meetingID, motionID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionModerate); err != nil {
		return nil, err
	}
	motion, err := s.motionInMeeting(ctx, meetingID, motionID)
	if err != nil {
		return nil, err
	}
	if motion.Status != "open" {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "motion is not open for voting", map[string]any{"status": motion.Status})
	}
	blocking, err := s.store.CountBlockingChildren(ctx, motionID)
	if err != nil {
		return nil, err
	}
	if blocking > 0 {
		return nil, domainError(http.StatusConflict, "CONFLICT", "sub-motions must be decided first", map[string]any{"blockingChildren": blocking})
	}

	// The ballots are tallied inside the finalize transaction, under the
	// motion row lock, so the ledgered snapshot is the authoritative count.
	result, err := s.store.FinalizeMotion(ctx, motionID, meetingID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !result.Open {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "motion is no longer open", nil)
	}

	switch result.Outcome {
	case tally.OutcomeUnresolved:
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "no ballots have been cast", nil)
	case tally.OutcomeTied:
		return map[string]any{
			"resolved": false,
			"outcome":  string(tally.OutcomeTied),
			"tally":    countToMap(result.Count),
		}, nil
	}

	status := string(result.Outcome)
	motion.Status = status
	s.publish(meetingID, motionID, "motion_completed", session, map[string]any{"outcome": status})
	s.indexMotion(motion)

	return map[string]any{
		"resolved": true,
		"outcome":  status,
		"motionId": motionID,
		"tally":    countToMap(result.Count),
	}, nil
}

// ArchiveMotions sweeps every passed or failed motion of the meeting into
// the completed archive and commits a minutes snapshot.
func (s *Service) ArchiveMotions(ctx context.Context, session Session, meetingID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionModerate); err != nil {
		return nil, err
	}
	ids, err := s.store.ArchiveDecidedMotions(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		if s.minutes != nil {
			if _, err := s.snapshotMinutes(ctx, meetingID, session.UserName, "Archive decided motions"); err != nil {
				log.Printf("minutes: archive snapshot for %s: %v", meetingID, err)
			}
		}
		for _, id := range ids {
			if motion, err := s.store.GetMotion(ctx, id); err == nil {
				s.indexMotion(motion)
			}
		}
		s.publish(meetingID, "", "motions_archived", session, map[string]any{"motionIds": ids})
	}
	return map[string]any{"archived": ids}, nil
}

// OverturnMotion reopens an archived decision. Only a voter whose snapshot
// ballot was "for" may move it; the archived motion stays in place with a
// back-reference to its successor.
func (s *Service) OverturnMotion(ctx context.Context, session Session, meetingID, motionID string, input MotionInput) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionPropose); err != nil {
		return nil, err
	}
	motion, err := s.motionInMeeting(ctx, meetingID, motionID)
	if err != nil {
		return nil, err
	}
	if motion.Status != "completed" {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "only archived motions can be overturned", map[string]any{"status": motion.Status})
	}

	event, err := s.store.LatestCompletionEvent(ctx, motionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "no ballot snapshot recorded for this motion", nil)
	}
	if err != nil {
		return nil, err
	}
	if snapshotChoice(event.Payload, session.UserID) != "for" {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only a voter recorded in favour may move to overturn", nil)
	}

	successorID := util.NewID("mot")
	marked, err := s.store.MarkMotionOverturned(ctx, motionID, successorID)
	if err != nil {
		return nil, err
	}
	if !marked {
		return nil, domainError(http.StatusConflict, "CONFLICT", "motion has already been overturned", nil)
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = motion.Title
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = motion.Description
	}
	successor := store.Motion{
		ID:          successorID,
		MeetingID:   meetingID,
		Title:       title,
		Description: description,
		Status:      "open",
		Special:     motion.Special,
		ProposerID:  session.UserID,
		OverturnOf:  &motion.ID,
	}
	if err := s.store.InsertMotion(ctx, successor); err != nil {
		return nil, err
	}

	s.appendHistory(ctx, meetingID, motionID, "motion_overturned", session.UserID, map[string]any{"successorId": successorID})
	s.appendHistory(ctx, meetingID, successorID, "motion_proposed", session.UserID, map[string]any{"title": title, "overturnOf": motion.ID})
	s.publish(meetingID, motionID, "motion_overturned", session, map[string]any{"successorId": successorID})
	s.indexMotion(successor)

	successor.ProposerName = session.UserName
	return motionToMap(successor), nil
}

// Votes

func (s *Service) CastVote(ctx context.Context, session Session, meetingID, motionID, choice string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionVote); err != nil {
		return nil, err
	}
	if !tally.ValidChoice(choice) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "choice must be for, against or abstain", nil)
	}
	motion, err := s.motionInMeeting(ctx, meetingID, motionID)
	if err != nil {
		return nil, err
	}
	if motion.Status != "open" {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "ballots are closed on this motion", map[string]any{"status": motion.Status})
	}
	cast, err := s.store.UpsertVote(ctx, motionID, session.UserID, choice)
	if err != nil {
		return nil, err
	}
	if !cast {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "ballots are closed on this motion", nil)
	}
	s.appendHistory(ctx, meetingID, motionID, "vote_cast", session.UserID, map[string]any{"choice": choice})
	s.publish(meetingID, motionID, "vote_cast", session, nil)
	return map[string]any{"motionId": motionID, "choice": choice}, nil
}

func (s *Service) WithdrawVote(ctx context.Context, session Session, meetingID, motionID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionVote); err != nil {
		return nil, err
	}
	motion, err := s.motionInMeeting(ctx, meetingID, motionID)
	if err != nil {
		return nil, err
	}
	if motion.Status != "open" {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "ballots are closed on this motion", map[string]any{"status": motion.Status})
	}
	removed, err := s.store.DeleteVote(ctx, motionID, session.UserID)
	if err != nil {
		return nil, err
	}
	if removed {
		s.appendHistory(ctx, meetingID, motionID, "vote_removed", session.UserID, nil)
		s.publish(meetingID, motionID, "vote_removed", session, nil)
	}
	return map[string]any{"motionId": motionID, "removed": removed}, nil
}

// Replies

func (s *Service) AddReply(ctx context.Context, session Session, meetingID, motionID string, input ReplyInput) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionDiscuss); err != nil {
		return nil, err
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	stance, ok := normalizeStance(input.Stance)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "stance must be pro, con or neutral", nil)
	}
	motion, err := s.motionInMeeting(ctx, meetingID, motionID)
	if err != nil {
		return nil, err
	}
	if motion.Status == "completed" {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "discussion is closed on archived motions", nil)
	}

	reply := store.Reply{
		ID:       util.NewID("rep"),
		MotionID: motionID,
		AuthorID: session.UserID,
		Stance:   stance,
		Body:     body,
	}
	if err := s.store.InsertReply(ctx, reply); err != nil {
		return nil, err
	}

	s.appendHistory(ctx, meetingID, motionID, "reply_added", session.UserID, map[string]any{"stance": stance})
	s.publish(meetingID, motionID, "reply_added", session, map[string]any{"stance": stance})
	if s.search != nil {
		s.search.IndexReply(search.ReplyRecord{ID: reply.ID, Body: body, Stance: stance, MotionID: motionID, MeetingID: meetingID})
	}

	reply.AuthorName = session.UserName
	return replyToMap(reply), nil
}

func (s *Service) UpdateReply(ctx context.Context, session Session, meetingID, motionID, replyID string, input ReplyInput) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionDiscuss); err != nil {
		return nil, err
	}
	reply, err := s.replyOnMotion(ctx, meetingID, motionID, replyID)
	if err != nil {
		return nil, err
	}
	if reply.AuthorID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "only the author may edit a reply", nil)
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	stance, ok := normalizeStance(input.Stance)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "stance must be pro, con or neutral", nil)
	}

	updated, err := s.store.UpdateReply(ctx, replyID, session.UserID, stance, body)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, sql.ErrNoRows
	}

	if s.search != nil {
		s.search.IndexReply(search.ReplyRecord{ID: replyID, Body: body, Stance: stance, MotionID: motionID, MeetingID: meetingID})
	}
	reply.Stance = stance
	reply.Body = body
	return replyToMap(reply), nil
}

func (s *Service) DeleteReply(ctx context.Context, session Session, meetingID, motionID, replyID string) error {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionDiscuss); err != nil {
		return err
	}
	reply, err := s.replyOnMotion(ctx, meetingID, motionID, replyID)
	if err != nil {
		return err
	}
	if reply.AuthorID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "only the author may delete a reply", nil)
	}
	removed, err := s.store.DeleteReply(ctx, replyID, session.UserID)
	if err != nil {
		return err
	}
	if !removed {
		return sql.ErrNoRows
	}
	if s.search != nil {
		s.search.DeleteReply(replyID)
	}
	return nil
}

func (s *Service) ListReplies(ctx context.Context, session Session, meetingID, motionID string) ([]map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if _, err := s.motionInMeeting(ctx, meetingID, motionID); err != nil {
		return nil, err
	}
	replies, err := s.store.ListReplies(ctx, motionID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(replies))
	for _, reply := range replies {
		payload = append(payload, replyToMap(reply))
	}
	return payload, nil
}

// History

func (s *Service) ListHistory(ctx context.Context, session Session, meetingID, motionID, eventType string, limit int) ([]map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	events, err := s.store.ListHistory(ctx, meetingID, motionID, eventType, limit)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(events))
	for _, event := range events {
		payload = append(payload, historyEventToMap(event))
	}
	return payload, nil
}

// DeleteHistoryEvent is the curation path, distinct from the controller's
// append path. Curation itself is deliberately not recorded.
func (s *Service) DeleteHistoryEvent(ctx context.Context, session Session, meetingID string, eventID int64) error {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionManage); err != nil {
		return err
	}
	removed, err := s.store.DeleteHistoryEvent(ctx, meetingID, eventID)
	if err != nil {
		return err
	}
	if !removed {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Service) ClearHistory(ctx context.Context, session Session, meetingID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionManage); err != nil {
		return nil, err
	}
	cleared, err := s.store.ClearHistory(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"cleared": cleared}, nil
}

// Minutes

func (s *Service) GetMinutes(ctx context.Context, session Session, meetingID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.minutes == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MINUTES_UNAVAILABLE", "Minutes ledger is not configured", nil)
	}
	record, head, err := s.minutes.GetHeadMinutes(meetingID)
	if err != nil {
		return nil, err
	}
	history, err := s.minutes.History(meetingID, 50)
	if err != nil {
		return nil, err
	}
	return map[string]any{"minutes": record, "commit": head, "history": history}, nil
}

func (s *Service) GetMinutesAt(ctx context.Context, session Session, meetingID, hash string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.minutes == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MINUTES_UNAVAILABLE", "Minutes ledger is not configured", nil)
	}
	record, err := s.minutes.GetMinutesByHash(meetingID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "minutes revision not found", nil)
	}
	return map[string]any{"minutes": record, "hash": hash}, nil
}

// Export

func (s *Service) ExportMinutes(ctx context.Context, session Session, meetingID string, format export.Format, includeReplies bool) (*export.Result, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}

	result, err := s.exporter.Export(ctx, export.Request{MeetingID: meetingID, Format: format, IncludeReplies: includeReplies})
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be text, json, pdf or docx", nil)
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil)
	}
	if err != nil {
		return nil, err
	}

	if s.minutes != nil {
		if _, err := s.snapshotMinutes(ctx, meetingID, session.UserName, "Export minutes ("+string(format)+")"); err != nil {
			log.Printf("minutes: export snapshot for %s: %v", meetingID, err)
		}
	}
	if s.archive != nil {
		data := result.Data
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := s.archive.StoreExport(ctx, meetingID, result.Filename, result.MimeType, data); err != nil {
				log.Printf("archive: store export for %s: %v", meetingID, err)
			}
		}()
	}
	return result, nil
}

// snapshotMinutes rebuilds the decided-motion record from the store and
// commits it to the meeting's minutes repository.
func (s *Service) snapshotMinutes(ctx context.Context, meetingID, author, message string) (minutes.CommitInfo, error) {
	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return minutes.CommitInfo{}, err
	}
	motions, err := s.store.ListMotions(ctx, meetingID, true)
	if err != nil {
		return minutes.CommitInfo{}, err
	}

	record := minutes.Minutes{MeetingTitle: meeting.Title, Entries: []minutes.Entry{}}
	for _, motion := range motions {
		if motion.DecidedAt == nil {
			continue
		}
		entry := minutes.Entry{
			MotionID:  motion.ID,
			Title:     motion.Title,
			DecidedAt: *motion.DecidedAt,
		}
		event, err := s.store.LatestCompletionEvent(ctx, motion.ID)
		if err == nil {
			entry.Outcome, _ = event.Payload["outcome"].(string)
			entry.For = payloadInt(event.Payload, "for")
			entry.Against = payloadInt(event.Payload, "against")
			entry.Abstain = payloadInt(event.Payload, "abstain")
		} else {
			entry.Outcome = motion.Status
		}
		record.Entries = append(record.Entries, entry)
	}

	return s.minutes.CommitMinutes(meetingID, record, author, message)
}

func (s *Service) motionInMeeting(ctx context.Context, meetingID, motionID string) (store.Motion, error) {
	motion, err := s.store.GetMotion(ctx, motionID)
	if err != nil {
		return store.Motion{}, err
	}
	if motion.MeetingID != meetingID {
		return store.Motion{}, sql.ErrNoRows
	}
	return motion, nil
}

func (s *Service) replyOnMotion(ctx context.Context, meetingID, motionID, replyID string) (store.Reply, error) {
	if _, err := s.motionInMeeting(ctx, meetingID, motionID); err != nil {
		return store.Reply{}, err
	}
	reply, err := s.store.GetReply(ctx, replyID)
	if err != nil {
		return store.Reply{}, err
	}
	if reply.MotionID != motionID {
		return store.Reply{}, sql.ErrNoRows
	}
	return reply, nil
}

func (s *Service) indexMotion(motion store.Motion) {
	if s.search == nil {
		return
	}
	s.search.IndexMotion(search.MotionRecord{
		ID:          motion.ID,
		Title:       motion.Title,
		Description: motion.Description,
		MeetingID:   motion.MeetingID,
		Status:      motion.Status,
	})
}

// snapshotChoice digs the voter's recorded ballot out of a completion
// event payload that round-tripped through JSON.
func snapshotChoice(payload map[string]any, voterID string) string {
	voters, ok := payload["voters"].(map[string]any)
	if !ok {
		return ""
	}
	choice, _ := voters[voterID].(string)
	return choice
}

func payloadInt(payload map[string]any, key string) int {
	switch value := payload[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	default:
		return 0
	}
}

// normalizeStance maps for/against aliases onto the stored stance values.
func normalizeStance(stance string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(stance)) {
	case "", "neutral":
		return "neutral", true
	case "pro", "for":
		return "pro", true
	case "con", "against":
		return "con", true
	default:
		return "", false
	}
}
