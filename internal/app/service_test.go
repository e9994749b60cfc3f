package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"gavel/api/internal/config"
	"gavel/api/internal/search"
	"gavel/api/internal/store"
	"gavel/api/internal/tally"
)

// fakeStore implements dataStore with overridable hooks. Methods without a
// hook return empty values; GetAttendeeRole defaults to chair so lifecycle
// tests do not have to wire membership every time.
type fakeStore struct {
	getUserByIDFn           func(context.Context, string) (store.User, error)
	getUserByEmailFn        func(context.Context, string) (store.User, error)
	createUserFn            func(context.Context, store.User) error
	getAttendeeRoleFn       func(context.Context, string, string) (string, error)
	getMeetingFn            func(context.Context, string) (store.Meeting, error)
	listMeetingsFn          func(context.Context, string) ([]store.Meeting, error)
	getMotionFn             func(context.Context, string) (store.Motion, error)
	insertMotionFn          func(context.Context, store.Motion) error
	insertSubMotionFn       func(context.Context, store.Motion) (bool, error)
	setMotionStatusFn       func(ctx context.Context, motionID, to string, from ...string) (bool, error)
	countBlockingChildrenFn func(context.Context, string) (int, error)
	finalizeMotionFn        func(ctx context.Context, motionID, meetingID, actorID string) (store.FinalizeResult, error)
	markOverturnedFn        func(context.Context, string, string) (bool, error)
	latestCompletionFn      func(context.Context, string) (store.HistoryEvent, error)
	listVotesFn             func(context.Context, string) ([]store.Vote, error)
	upsertVoteFn            func(context.Context, string, string, string) (bool, error)
	deleteVoteFn            func(context.Context, string, string) (bool, error)
	getReplyFn              func(context.Context, string) (store.Reply, error)
	deleteHistoryEventFn    func(context.Context, string, int64) (bool, error)
	clearHistoryFn          func(context.Context, string) (int64, error)
	isRevokedFn             func(context.Context, string) (bool, error)
	pingFn                  func(context.Context) error

	history []store.HistoryEvent
	votes   map[string]string
	chats   []store.ChatMessage
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}

func (f *fakeStore) UpdatePassword(context.Context, string, string) error { return nil }

func (f *fakeStore) SavePasswordReset(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeStore) ConsumePasswordReset(context.Context, string) (string, error) {
	return "", sql.ErrNoRows
}

func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isRevokedFn != nil {
		return f.isRevokedFn(ctx, jti)
	}
	return false, nil
}

func (f *fakeStore) InsertMeeting(context.Context, store.Meeting) error { return nil }

func (f *fakeStore) ListMeetings(ctx context.Context, userID string) ([]store.Meeting, error) {
	if f.listMeetingsFn != nil {
		return f.listMeetingsFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) GetMeeting(ctx context.Context, meetingID string) (store.Meeting, error) {
	if f.getMeetingFn != nil {
		return f.getMeetingFn(ctx, meetingID)
	}
	return store.Meeting{ID: meetingID, Title: "Budget review", Status: "in_session", OwnerID: "usr_owner"}, nil
}

func (f *fakeStore) UpdateMeeting(context.Context, string, string, string, *time.Time) error {
	return nil
}

func (f *fakeStore) SetMeetingStatus(context.Context, string, string) error { return nil }

func (f *fakeStore) DeleteMeeting(context.Context, string) (bool, error) { return true, nil }

func (f *fakeStore) UpsertAttendee(context.Context, string, string, string) error { return nil }

func (f *fakeStore) RemoveAttendee(context.Context, string, string) (bool, error) {
	return true, nil
}

func (f *fakeStore) ListAttendees(context.Context, string) ([]store.Attendee, error) {
	return nil, nil
}

func (f *fakeStore) GetAttendeeRole(ctx context.Context, meetingID, userID string) (string, error) {
	if f.getAttendeeRoleFn != nil {
		return f.getAttendeeRoleFn(ctx, meetingID, userID)
	}
	return "chair", nil
}

func (f *fakeStore) TransferChair(context.Context, string, string) (bool, error) {
	return true, nil
}

func (f *fakeStore) InsertInvitation(context.Context, store.Invitation) error { return nil }

func (f *fakeStore) AcceptInvitation(context.Context, string, string) (store.Invitation, error) {
	return store.Invitation{}, sql.ErrNoRows
}

func (f *fakeStore) ListInvitationsByEmail(context.Context, string) ([]store.Invitation, error) {
	return nil, nil
}

func (f *fakeStore) DeclineInvitation(context.Context, string, string) (bool, error) {
	return false, nil
}

func (f *fakeStore) InsertMotion(ctx context.Context, motion store.Motion) error {
	if f.insertMotionFn != nil {
		return f.insertMotionFn(ctx, motion)
	}
	return nil
}

func (f *fakeStore) InsertSubMotion(ctx context.Context, motion store.Motion) (bool, error) {
	if f.insertSubMotionFn != nil {
		return f.insertSubMotionFn(ctx, motion)
	}
	return true, nil
}

func (f *fakeStore) GetMotion(ctx context.Context, motionID string) (store.Motion, error) {
	if f.getMotionFn != nil {
		return f.getMotionFn(ctx, motionID)
	}
	return store.Motion{}, sql.ErrNoRows
}

func (f *fakeStore) ListMotions(context.Context, string, bool) ([]store.Motion, error) {
	return nil, nil
}

func (f *fakeStore) UpdateMotionText(context.Context, string, string, string) (bool, error) {
	return true, nil
}

func (f *fakeStore) SetMotionStatus(ctx context.Context, motionID, to string, from ...string) (bool, error) {
	if f.setMotionStatusFn != nil {
		return f.setMotionStatusFn(ctx, motionID, to, from...)
	}
	return true, nil
}

func (f *fakeStore) CountBlockingChildren(ctx context.Context, motionID string) (int, error) {
	if f.countBlockingChildrenFn != nil {
		return f.countBlockingChildrenFn(ctx, motionID)
	}
	return 0, nil
}

// FinalizeMotion mirrors the store: ballots are read and tallied at the
// moment of the call, and a decided outcome leaves a completion event in
// the history recorder.
func (f *fakeStore) FinalizeMotion(ctx context.Context, motionID, meetingID, actorID string) (store.FinalizeResult, error) {
	if f.finalizeMotionFn != nil {
		return f.finalizeMotionFn(ctx, motionID, meetingID, actorID)
	}
	votes, err := f.ListVotes(ctx, motionID)
	if err != nil {
		return store.FinalizeResult{}, err
	}
	choices := make([]tally.Choice, 0, len(votes))
	voters := map[string]string{}
	for _, vote := range votes {
		choices = append(choices, tally.Choice(vote.Choice))
		voters[vote.VoterID] = vote.Choice
	}
	count := tally.Tally(choices)
	outcome := tally.Resolve(count)
	result := store.FinalizeResult{
		Open:     true,
		Outcome:  outcome,
		Count:    count,
		Snapshot: store.VoteSnapshot{For: count.For, Against: count.Against, Abstain: count.Abstain, Voters: voters},
	}
	if outcome == tally.OutcomePassed || outcome == tally.OutcomeFailed {
		f.history = append(f.history, store.HistoryEvent{
			MeetingID: meetingID,
			MotionID:  &motionID,
			EventType: "motion_completed",
			ActorID:   actorID,
			Payload:   map[string]any{"outcome": string(outcome), "voters": voters},
		})
	}
	return result, nil
}

func (f *fakeStore) ArchiveDecidedMotions(context.Context, string) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) MarkMotionOverturned(ctx context.Context, motionID, successorID string) (bool, error) {
	if f.markOverturnedFn != nil {
		return f.markOverturnedFn(ctx, motionID, successorID)
	}
	return true, nil
}

func (f *fakeStore) UpsertVote(ctx context.Context, motionID, voterID, choice string) (bool, error) {
	if f.upsertVoteFn != nil {
		return f.upsertVoteFn(ctx, motionID, voterID, choice)
	}
	if f.votes == nil {
		f.votes = make(map[string]string)
	}
	f.votes[voterID] = choice
	return true, nil
}

func (f *fakeStore) DeleteVote(ctx context.Context, motionID, voterID string) (bool, error) {
	if f.deleteVoteFn != nil {
		return f.deleteVoteFn(ctx, motionID, voterID)
	}
	if _, ok := f.votes[voterID]; ok {
		delete(f.votes, voterID)
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) ListVotes(ctx context.Context, motionID string) ([]store.Vote, error) {
	if f.listVotesFn != nil {
		return f.listVotesFn(ctx, motionID)
	}
	items := make([]store.Vote, 0, len(f.votes))
	for voterID, choice := range f.votes {
		items = append(items, store.Vote{MotionID: motionID, VoterID: voterID, Choice: choice})
	}
	return items, nil
}

func (f *fakeStore) InsertReply(context.Context, store.Reply) error { return nil }

func (f *fakeStore) GetReply(ctx context.Context, replyID string) (store.Reply, error) {
	if f.getReplyFn != nil {
		return f.getReplyFn(ctx, replyID)
	}
	return store.Reply{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateReply(context.Context, string, string, string, string) (bool, error) {
	return true, nil
}

func (f *fakeStore) DeleteReply(context.Context, string, string) (bool, error) {
	return true, nil
}

func (f *fakeStore) ListReplies(context.Context, string) ([]store.Reply, error) {
	return nil, nil
}

func (f *fakeStore) InsertChat(ctx context.Context, message store.ChatMessage) error {
	f.chats = append(f.chats, message)
	return nil
}

func (f *fakeStore) ListChats(ctx context.Context, meetingID string, limit int) ([]store.ChatMessage, error) {
	return f.chats, nil
}

func (f *fakeStore) InsertHistoryEvent(ctx context.Context, event store.HistoryEvent) error {
	f.history = append(f.history, event)
	return nil
}

func (f *fakeStore) ListHistory(context.Context, string, string, string, int) ([]store.HistoryEvent, error) {
	return nil, nil
}

func (f *fakeStore) LatestCompletionEvent(ctx context.Context, motionID string) (store.HistoryEvent, error) {
	if f.latestCompletionFn != nil {
		return f.latestCompletionFn(ctx, motionID)
	}
	return store.HistoryEvent{}, sql.ErrNoRows
}

func (f *fakeStore) DeleteHistoryEvent(ctx context.Context, meetingID string, eventID int64) (bool, error) {
	if f.deleteHistoryEventFn != nil {
		return f.deleteHistoryEventFn(ctx, meetingID, eventID)
	}
	return true, nil
}

func (f *fakeStore) ClearHistory(ctx context.Context, meetingID string) (int64, error) {
	if f.clearHistoryFn != nil {
		return f.clearHistoryFn(ctx, meetingID)
	}
	return 0, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) SaveRefreshSession(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeStore) LookupRefreshSession(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) RevokeRefreshSession(context.Context, string) error { return nil }

func (f *fakeStore) eventTypes() []string {
	types := make([]string, 0, len(f.history))
	for _, event := range f.history {
		types = append(types, event.EventType)
	}
	return types
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
		store:    fs,
		sessions: fs,
	}
}

func testSession() Session {
	return Session{UserID: "usr_1", UserName: "Avery"}
}

func openMotion(id, meetingID string) store.Motion {
	return store.Motion{ID: id, MeetingID: meetingID, Title: "Adopt the budget", Status: "open", ProposerID: "usr_1"}
}

func wantDomainError(t *testing.T, err error, status int, code string) *DomainError {
	t.Helper()
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if de.Status != status || de.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, de.Status, de.Code)
	}
	return de
}

func TestProposeSubMotionPostponesParent(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			return openMotion(motionID, "mtg-1"), nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.ProposeSubMotion(context.Background(), testSession(), "mtg-1", "mot-parent", MotionInput{Title: "Amend section 2"})
	if err != nil {
		t.Fatalf("propose sub-motion: %v", err)
	}
	if result["parentId"] != "mot-parent" {
		t.Fatalf("expected parentId mot-parent, got %v", result["parentId"])
	}

	types := fs.eventTypes()
	if len(types) != 2 || types[0] != "submotion_proposed" || types[1] != "motion_postponed" {
		t.Fatalf("expected submotion_proposed then motion_postponed, got %v", types)
	}
	parentEvent := fs.history[1]
	if parentEvent.MotionID == nil || *parentEvent.MotionID != "mot-parent" {
		t.Fatalf("expected postpone event on the parent, got %v", parentEvent.MotionID)
	}
}

// A parent already postponed by an earlier sub-motion accepts further
// siblings without a second postponement event.
func TestProposeSubMotionAllowsPostponedParent(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			motion := openMotion(motionID, "mtg-1")
			motion.Status = "postponed"
			return motion, nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.ProposeSubMotion(context.Background(), testSession(), "mtg-1", "mot-parent", MotionInput{Title: "Amend section 3"})
	if err != nil {
		t.Fatalf("propose sibling sub-motion: %v", err)
	}
	if result["parentId"] != "mot-parent" {
		t.Fatalf("expected parentId mot-parent, got %v", result["parentId"])
	}

	types := fs.eventTypes()
	if len(types) != 1 || types[0] != "submotion_proposed" {
		t.Fatalf("expected only submotion_proposed, got %v", types)
	}
}

func TestProposeSubMotionRejectsDecidedParent(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			motion := openMotion(motionID, "mtg-1")
			motion.Status = "passed"
			return motion, nil
		},
		insertSubMotionFn: func(context.Context, store.Motion) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ProposeSubMotion(context.Background(), testSession(), "mtg-1", "mot-parent", MotionInput{Title: "Amend section 2"})
	de := wantDomainError(t, err, 409, "INVALID_STATE")
	details, ok := de.Details.(map[string]any)
	if !ok || details["parentStatus"] != "passed" {
		t.Fatalf("expected parentStatus detail, got %v", de.Details)
	}
	if len(fs.history) != 0 {
		t.Fatalf("expected no history events, got %v", fs.eventTypes())
	}
}

func TestProposeMotionRejectsAdjournedMeeting(t *testing.T) {
	fs := &fakeStore{
		getMeetingFn: func(_ context.Context, meetingID string) (store.Meeting, error) {
			return store.Meeting{ID: meetingID, Status: "adjourned", OwnerID: "usr_owner"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ProposeMotion(context.Background(), testSession(), "mtg-1", MotionInput{Title: "Adopt the budget"})
	wantDomainError(t, err, 409, "INVALID_STATE")
}

func TestResumeMotionBlockedByChildren(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			motion := openMotion(motionID, "mtg-1")
			motion.Status = "postponed"
			return motion, nil
		},
		countBlockingChildrenFn: func(context.Context, string) (int, error) {
			return 2, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ResumeMotion(context.Background(), testSession(), "mtg-1", "mot-1")
	de := wantDomainError(t, err, 409, "CONFLICT")
	details, ok := de.Details.(map[string]any)
	if !ok || details["blockingChildren"] != 2 {
		t.Fatalf("expected blockingChildren=2, got %v", de.Details)
	}
}

func TestEndMotionWithoutBallots(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			return openMotion(motionID, "mtg-1"), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.EndMotion(context.Background(), testSession(), "mtg-1", "mot-1")
	wantDomainError(t, err, 409, "INVALID_STATE")
}

func TestEndMotionTieIsRetryable(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			return openMotion(motionID, "mtg-1"), nil
		},
		listVotesFn: func(context.Context, string) ([]store.Vote, error) {
			return []store.Vote{
				{VoterID: "usr_1", Choice: "for"},
				{VoterID: "usr_2", Choice: "against"},
				{VoterID: "usr_3", Choice: "abstain"},
			}, nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.EndMotion(context.Background(), testSession(), "mtg-1", "mot-1")
	if err != nil {
		t.Fatalf("end motion: %v", err)
	}
	if result["resolved"] != false || result["outcome"] != "tied" {
		t.Fatalf("expected unresolved tie, got %v", result)
	}
	if len(fs.history) != 0 {
		t.Fatalf("expected no history events for a tie, got %v", fs.eventTypes())
	}
}

func TestEndMotionMajorityFinalizesWithSnapshot(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			return openMotion(motionID, "mtg-1"), nil
		},
		listVotesFn: func(context.Context, string) ([]store.Vote, error) {
			return []store.Vote{
				{VoterID: "usr_1", Choice: "for"},
				{VoterID: "usr_2", Choice: "for"},
				{VoterID: "usr_3", Choice: "against"},
				{VoterID: "usr_4", Choice: "abstain"},
			}, nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.EndMotion(context.Background(), testSession(), "mtg-1", "mot-1")
	if err != nil {
		t.Fatalf("end motion: %v", err)
	}
	if result["resolved"] != true || result["outcome"] != "passed" {
		t.Fatalf("expected resolved passed, got %v", result)
	}
	count, _ := result["tally"].(map[string]any)
	if count["for"] != 2 || count["against"] != 1 || count["abstain"] != 1 {
		t.Fatalf("unexpected tally: %v", count)
	}
	if len(fs.history) != 1 || fs.history[0].EventType != "motion_completed" {
		t.Fatalf("expected one completion event, got %v", fs.eventTypes())
	}
	voters, _ := fs.history[0].Payload["voters"].(map[string]string)
	if voters["usr_2"] != "for" || voters["usr_3"] != "against" {
		t.Fatalf("unexpected voters snapshot: %v", voters)
	}
}

// A ballot that lands between the moderator's last read of the motion and
// the close must still show up in both the tally and the ledgered snapshot.
func TestEndMotionSnapshotIncludesLateBallot(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			return openMotion(motionID, "mtg-1"), nil
		},
	}
	fs.votes = map[string]string{"usr_1": "for", "usr_2": "for"}
	fs.finalizeMotionFn = func(ctx context.Context, motionID, meetingID, actorID string) (store.FinalizeResult, error) {
		fs.votes["usr_3"] = "against"
		fs.finalizeMotionFn = nil
		return fs.FinalizeMotion(ctx, motionID, meetingID, actorID)
	}
	svc := newTestService(fs)

	result, err := svc.EndMotion(context.Background(), testSession(), "mtg-1", "mot-1")
	if err != nil {
		t.Fatalf("end motion: %v", err)
	}
	count, _ := result["tally"].(map[string]any)
	if count["for"] != 2 || count["against"] != 1 {
		t.Fatalf("expected the late ballot in the tally, got %v", count)
	}
	if len(fs.history) != 1 {
		t.Fatalf("expected one completion event, got %v", fs.eventTypes())
	}
	voters, _ := fs.history[0].Payload["voters"].(map[string]string)
	if voters["usr_3"] != "against" {
		t.Fatalf("expected the late ballot in the snapshot, got %v", voters)
	}
}

func TestEndMotionRacesWithConcurrentClose(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			return openMotion(motionID, "mtg-1"), nil
		},
		finalizeMotionFn: func(context.Context, string, string, string) (store.FinalizeResult, error) {
			return store.FinalizeResult{}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.EndMotion(context.Background(), testSession(), "mtg-1", "mot-1")
	wantDomainError(t, err, 409, "INVALID_STATE")
}

func TestPostponeMotionIsIdempotent(t *testing.T) {
	statusCalled := false
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			motion := openMotion(motionID, "mtg-1")
			motion.Status = "postponed"
			return motion, nil
		},
		setMotionStatusFn: func(context.Context, string, string, ...string) (bool, error) {
			statusCalled = true
			return false, nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.PostponeMotion(context.Background(), testSession(), "mtg-1", "mot-1")
	if err != nil {
		t.Fatalf("postpone: %v", err)
	}
	if result["status"] != "postponed" {
		t.Fatalf("expected postponed, got %v", result["status"])
	}
	if statusCalled {
		t.Fatalf("repeat postpone must not touch the store")
	}
	if len(fs.history) != 0 {
		t.Fatalf("repeat postpone must not append history, got %v", fs.eventTypes())
	}
}

func TestStartVotingRequiresProposedMotion(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			motion := openMotion(motionID, "mtg-1")
			motion.Status = "passed"
			return motion, nil
		},
		setMotionStatusFn: func(context.Context, string, string, ...string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.StartVoting(context.Background(), testSession(), "mtg-1", "mot-1")
	wantDomainError(t, err, 409, "INVALID_STATE")
}

func TestOverturnRequiresFavourableSnapshotBallot(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			motion := openMotion(motionID, "mtg-1")
			motion.Status = "completed"
			return motion, nil
		},
		latestCompletionFn: func(context.Context, string) (store.HistoryEvent, error) {
			return store.HistoryEvent{
				EventType: "motion_completed",
				Payload: map[string]any{
					"outcome": "passed",
					"voters":  map[string]any{"usr_1": "against", "usr_2": "for"},
				},
			}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.OverturnMotion(context.Background(), testSession(), "mtg-1", "mot-1", MotionInput{})
	wantDomainError(t, err, 403, "FORBIDDEN")
}

func TestOverturnCreatesOpenSuccessor(t *testing.T) {
	var successor store.Motion
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			motion := openMotion(motionID, "mtg-1")
			motion.Status = "completed"
			return motion, nil
		},
		latestCompletionFn: func(context.Context, string) (store.HistoryEvent, error) {
			return store.HistoryEvent{
				EventType: "motion_completed",
				Payload:   map[string]any{"voters": map[string]any{"usr_1": "for"}},
			}, nil
		},
		insertMotionFn: func(_ context.Context, motion store.Motion) error {
			successor = motion
			return nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.OverturnMotion(context.Background(), testSession(), "mtg-1", "mot-1", MotionInput{})
	if err != nil {
		t.Fatalf("overturn: %v", err)
	}
	if successor.Status != "open" {
		t.Fatalf("expected successor to open directly, got %s", successor.Status)
	}
	if successor.OverturnOf == nil || *successor.OverturnOf != "mot-1" {
		t.Fatalf("expected successor to reference mot-1, got %v", successor.OverturnOf)
	}
	if successor.Title != "Adopt the budget" {
		t.Fatalf("expected successor to inherit the title, got %q", successor.Title)
	}
	if result["overturnOf"] != "mot-1" {
		t.Fatalf("expected overturnOf in response, got %v", result)
	}

	types := fs.eventTypes()
	if len(types) != 2 || types[0] != "motion_overturned" || types[1] != "motion_proposed" {
		t.Fatalf("expected motion_overturned then motion_proposed, got %v", types)
	}
}

func TestOverturnConflictsWhenAlreadyOverturned(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			motion := openMotion(motionID, "mtg-1")
			motion.Status = "completed"
			return motion, nil
		},
		latestCompletionFn: func(context.Context, string) (store.HistoryEvent, error) {
			return store.HistoryEvent{
				EventType: "motion_completed",
				Payload:   map[string]any{"voters": map[string]any{"usr_1": "for"}},
			}, nil
		},
		markOverturnedFn: func(context.Context, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.OverturnMotion(context.Background(), testSession(), "mtg-1", "mot-1", MotionInput{})
	wantDomainError(t, err, 409, "CONFLICT")
}

func TestOverturnRejectsUndecidedMotion(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			motion := openMotion(motionID, "mtg-1")
			motion.Status = "passed"
			return motion, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.OverturnMotion(context.Background(), testSession(), "mtg-1", "mot-1", MotionInput{})
	wantDomainError(t, err, 409, "INVALID_STATE")
}

func TestCastVoteValidatesChoice(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CastVote(context.Background(), testSession(), "mtg-1", "mot-1", "maybe")
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestCastVoteRequiresOpenMotion(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			motion := openMotion(motionID, "mtg-1")
			motion.Status = "proposed"
			return motion, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CastVote(context.Background(), testSession(), "mtg-1", "mot-1", "for")
	wantDomainError(t, err, 409, "INVALID_STATE")
}

func TestCastVoteReplacesEarlierBallot(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			return openMotion(motionID, "mtg-1"), nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.CastVote(context.Background(), testSession(), "mtg-1", "mot-1", "for"); err != nil {
		t.Fatalf("first ballot: %v", err)
	}
	if _, err := svc.CastVote(context.Background(), testSession(), "mtg-1", "mot-1", "against"); err != nil {
		t.Fatalf("second ballot: %v", err)
	}
	if fs.votes["usr_1"] != "against" {
		t.Fatalf("expected the later ballot to win, got %s", fs.votes["usr_1"])
	}
}

func TestWithdrawVoteWithoutBallotIsNoOp(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			return openMotion(motionID, "mtg-1"), nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.WithdrawVote(context.Background(), testSession(), "mtg-1", "mot-1")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if result["removed"] != false {
		t.Fatalf("expected removed=false, got %v", result)
	}
	if len(fs.history) != 0 {
		t.Fatalf("an absent ballot must not append history, got %v", fs.eventTypes())
	}
}

func TestUpdateReplyAuthorOnly(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			return openMotion(motionID, "mtg-1"), nil
		},
		getReplyFn: func(_ context.Context, replyID string) (store.Reply, error) {
			return store.Reply{ID: replyID, MotionID: "mot-1", AuthorID: "usr_2", Stance: "pro", Body: "Seconded"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateReply(context.Background(), testSession(), "mtg-1", "mot-1", "rep-1", ReplyInput{Stance: "con", Body: "Changed my mind"})
	wantDomainError(t, err, 403, "FORBIDDEN")
}

func TestAddReplyClosedOnArchivedMotion(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			motion := openMotion(motionID, "mtg-1")
			motion.Status = "completed"
			return motion, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AddReply(context.Background(), testSession(), "mtg-1", "mot-1", ReplyInput{Stance: "pro", Body: "Too late"})
	wantDomainError(t, err, 409, "INVALID_STATE")
}

func TestNonAttendeeSeesNotFound(t *testing.T) {
	fs := &fakeStore{
		getAttendeeRoleFn: func(context.Context, string, string) (string, error) {
			return "", nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.GetMeeting(context.Background(), testSession(), "mtg-1")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for a non-attendee, got %v", err)
	}
}

func TestObserverCannotVote(t *testing.T) {
	fs := &fakeStore{
		getAttendeeRoleFn: func(context.Context, string, string) (string, error) {
			return "observer", nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CastVote(context.Background(), testSession(), "mtg-1", "mot-1", "for")
	wantDomainError(t, err, 403, "FORBIDDEN")
}

func TestMemberCannotModerate(t *testing.T) {
	fs := &fakeStore{
		getAttendeeRoleFn: func(context.Context, string, string) (string, error) {
			return "member", nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.StartVoting(context.Background(), testSession(), "mtg-1", "mot-1")
	wantDomainError(t, err, 403, "FORBIDDEN")
}

func TestHistoryCurationLeavesNoTrace(t *testing.T) {
	fs := &fakeStore{
		getAttendeeRoleFn: func(context.Context, string, string) (string, error) {
			return "owner", nil
		},
	}
	svc := newTestService(fs)

	if err := svc.DeleteHistoryEvent(context.Background(), testSession(), "mtg-1", 42); err != nil {
		t.Fatalf("delete history event: %v", err)
	}
	result, err := svc.ClearHistory(context.Background(), testSession(), "mtg-1")
	if err != nil {
		t.Fatalf("clear history: %v", err)
	}
	if _, ok := result["cleared"]; !ok {
		t.Fatalf("expected cleared count, got %v", result)
	}
	if len(fs.history) != 0 {
		t.Fatalf("curation must not append audit events, got %v", fs.eventTypes())
	}
}

func TestClearHistoryRequiresManage(t *testing.T) {
	fs := &fakeStore{
		getAttendeeRoleFn: func(context.Context, string, string) (string, error) {
			return "chair", nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ClearHistory(context.Background(), testSession(), "mtg-1")
	wantDomainError(t, err, 403, "FORBIDDEN")
}

func TestMotionInAnotherMeetingIsHidden(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			return openMotion(motionID, "mtg-other"), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CastVote(context.Background(), testSession(), "mtg-1", "mot-1", "for")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for a cross-meeting motion, got %v", err)
	}
}

func TestCastVoteConflictsWhenBallotsClose(t *testing.T) {
	fs := &fakeStore{
		getMotionFn: func(_ context.Context, motionID string) (store.Motion, error) {
			return openMotion(motionID, "mtg-1"), nil
		},
		upsertVoteFn: func(context.Context, string, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CastVote(context.Background(), testSession(), "mtg-1", "mot-1", "for")
	wantDomainError(t, err, 409, "INVALID_STATE")
	if len(fs.history) != 0 {
		t.Fatalf("a rejected ballot must not append history, got %v", fs.eventTypes())
	}
}

func TestSendChatRecordsMessageAndHistory(t *testing.T) {
	fs := &fakeStore{}
	svc := newTestService(fs)

	result, err := svc.SendChat(context.Background(), testSession(), "mtg-1", "  Ready to vote.  ")
	if err != nil {
		t.Fatalf("send chat: %v", err)
	}
	if result["body"] != "Ready to vote." {
		t.Fatalf("expected trimmed body, got %v", result["body"])
	}
	if len(fs.chats) != 1 || fs.chats[0].Body != "Ready to vote." {
		t.Fatalf("expected one stored message, got %+v", fs.chats)
	}
	types := fs.eventTypes()
	if len(types) != 1 || types[0] != "chat" {
		t.Fatalf("expected a chat history event, got %v", types)
	}
}

func TestSendChatRequiresBody(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.SendChat(context.Background(), testSession(), "mtg-1", "   ")
	wantDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestSendChatRejectsAdjournedMeeting(t *testing.T) {
	fs := &fakeStore{
		getMeetingFn: func(_ context.Context, meetingID string) (store.Meeting, error) {
			return store.Meeting{ID: meetingID, Status: "adjourned", OwnerID: "usr_owner"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SendChat(context.Background(), testSession(), "mtg-1", "Ready to vote.")
	wantDomainError(t, err, 409, "INVALID_STATE")
}

func TestObserverCannotChat(t *testing.T) {
	fs := &fakeStore{
		getAttendeeRoleFn: func(context.Context, string, string) (string, error) {
			return "observer", nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SendChat(context.Background(), testSession(), "mtg-1", "Ready to vote.")
	wantDomainError(t, err, 403, "FORBIDDEN")
}

type fakeSearch struct {
	resp search.Response
}

func (f *fakeSearch) Search(q search.Query) search.Response { return f.resp }
func (f *fakeSearch) IndexMeeting(search.MeetingRecord)     {}
func (f *fakeSearch) IndexMotion(search.MotionRecord)       {}
func (f *fakeSearch) IndexReply(search.ReplyRecord)         {}
func (f *fakeSearch) DeleteReply(string)                    {}

// An unscoped query must not leak hits from meetings the caller does not
// attend, whatever the index returns.
func TestSearchHidesOtherMeetings(t *testing.T) {
	fs := &fakeStore{
		listMeetingsFn: func(context.Context, string) ([]store.Meeting, error) {
			return []store.Meeting{{ID: "mtg-1"}}, nil
		},
	}
	svc := newTestService(fs)
	svc.search = &fakeSearch{resp: search.Response{
		Results: []search.Result{
			{Type: "motion", ID: "mot-1", Title: "Adopt the budget", MeetingID: "mtg-1"},
			{Type: "motion", ID: "mot-9", Title: "Adopt the bylaws", MeetingID: "mtg-9"},
		},
		Total: 2,
	}}

	resp, err := svc.Search(context.Background(), testSession(), search.Query{Text: "adopt"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].MeetingID != "mtg-1" {
		t.Fatalf("expected only the caller's meeting in results, got %+v", resp.Results)
	}
	if resp.Total != 1 {
		t.Fatalf("expected total adjusted to 1, got %d", resp.Total)
	}
}

func TestSearchScopedQueryChecksMembership(t *testing.T) {
	fs := &fakeStore{
		getAttendeeRoleFn: func(context.Context, string, string) (string, error) {
			return "", sql.ErrNoRows
		},
	}
	svc := newTestService(fs)
	svc.search = &fakeSearch{}

	_, err := svc.Search(context.Background(), testSession(), search.Query{Text: "adopt", FilterMeetingID: "mtg-9"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for a foreign meeting filter, got %v", err)
	}
}
