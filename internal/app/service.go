package app

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"strings"
	"time"

	"gavel/api/internal/auth"
	"gavel/api/internal/authpw"
	"gavel/api/internal/config"
	"gavel/api/internal/email"
	"gavel/api/internal/export"
	"gavel/api/internal/minutes"
	"gavel/api/internal/notify"
	"gavel/api/internal/rbac"
	"gavel/api/internal/search"
	"gavel/api/internal/session"
	"gavel/api/internal/store"
	"gavel/api/internal/tally"
	"gavel/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type MeetingInput struct {
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	ScheduledFor *time.Time `json:"scheduledFor"`
}

type MotionInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Special     bool   `json:"special"`
}

type ReplyInput struct {
	Stance string `json:"stance"`
	Body   string `json:"body"`
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	InsertMeeting(ctx context.Context, meeting store.Meeting) error
	ListMeetings(ctx context.Context, userID string) ([]store.Meeting, error)
	GetMeeting(ctx context.Context, meetingID string) (store.Meeting, error)
	UpdateMeeting(ctx context.Context, meetingID, title, description string, scheduledFor *time.Time) error
	SetMeetingStatus(ctx context.Context, meetingID, status string) error
	DeleteMeeting(ctx context.Context, meetingID string) (bool, error)

	UpsertAttendee(ctx context.Context, meetingID, userID, role string) error
	RemoveAttendee(ctx context.Context, meetingID, userID string) (bool, error)
	ListAttendees(ctx context.Context, meetingID string) ([]store.Attendee, error)
	GetAttendeeRole(ctx context.Context, meetingID, userID string) (string, error)
	TransferChair(ctx context.Context, meetingID, toUserID string) (bool, error)

	InsertInvitation(ctx context.Context, invitation store.Invitation) error
	AcceptInvitation(ctx context.Context, tokenHash, userID string) (store.Invitation, error)
	ListInvitationsByEmail(ctx context.Context, email string) ([]store.Invitation, error)
	DeclineInvitation(ctx context.Context, invitationID, email string) (bool, error)

	InsertMotion(ctx context.Context, motion store.Motion) error
	InsertSubMotion(ctx context.Context, motion store.Motion) (bool, error)
	GetMotion(ctx context.Context, motionID string) (store.Motion, error)
	ListMotions(ctx context.Context, meetingID string, includeCompleted bool) ([]store.Motion, error)
	UpdateMotionText(ctx context.Context, motionID, title, description string) (bool, error)
	SetMotionStatus(ctx context.Context, motionID, to string, from ...string) (bool, error)
	CountBlockingChildren(ctx context.Context, motionID string) (int, error)
	FinalizeMotion(ctx context.Context, motionID, meetingID, actorID string) (store.FinalizeResult, error)
	ArchiveDecidedMotions(ctx context.Context, meetingID string) ([]string, error)
	MarkMotionOverturned(ctx context.Context, motionID, successorID string) (bool, error)

	UpsertVote(ctx context.Context, motionID, voterID, choice string) (bool, error)
	DeleteVote(ctx context.Context, motionID, voterID string) (bool, error)
	ListVotes(ctx context.Context, motionID string) ([]store.Vote, error)

	InsertReply(ctx context.Context, reply store.Reply) error
	GetReply(ctx context.Context, replyID string) (store.Reply, error)
	UpdateReply(ctx context.Context, replyID, authorID, stance, body string) (bool, error)
	DeleteReply(ctx context.Context, replyID, authorID string) (bool, error)
	ListReplies(ctx context.Context, motionID string) ([]store.Reply, error)

	InsertChat(ctx context.Context, message store.ChatMessage) error
	ListChats(ctx context.Context, meetingID string, limit int) ([]store.ChatMessage, error)

	InsertHistoryEvent(ctx context.Context, event store.HistoryEvent) error
	ListHistory(ctx context.Context, meetingID, motionID, eventType string, limit int) ([]store.HistoryEvent, error)
	LatestCompletionEvent(ctx context.Context, motionID string) (store.HistoryEvent, error)
	DeleteHistoryEvent(ctx context.Context, meetingID string, eventID int64) (bool, error)
	ClearHistory(ctx context.Context, meetingID string) (int64, error)

	Ping(ctx context.Context) error
}

type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type minutesLedger interface {
	EnsureMeetingRepo(meetingID string, initial minutes.Minutes, author string) error
	CommitMinutes(meetingID string, record minutes.Minutes, author, message string) (minutes.CommitInfo, error)
	GetHeadMinutes(meetingID string) (minutes.Minutes, minutes.CommitInfo, error)
	GetMinutesByHash(meetingID, hash string) (minutes.Minutes, error)
	History(meetingID string, limit int) ([]minutes.CommitInfo, error)
	TagAdjournment(meetingID, hash, name string) error
}

type eventPublisher interface {
	Publish(ctx context.Context, event notify.Event) error
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexMeeting(rec search.MeetingRecord)
	IndexMotion(rec search.MotionRecord)
	IndexReply(rec search.ReplyRecord)
	DeleteReply(id string)
}

type minutesExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type exportArchive interface {
	StoreExport(ctx context.Context, meetingID, filename, contentType string, data []byte) (string, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	minutes  minutesLedger
	authpw   *authpw.Service
	email    *email.Service
	search   searchIndex
	exporter minutesExporter
	archive  exportArchive
	notifier eventPublisher
}

func New(cfg config.Config, dataStore *store.PostgresStore, minutesSvc *minutes.Service, searchSvc *search.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		authpw:   authpw.NewService(dataStore),
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if minutesSvc != nil {
		s.minutes = minutesSvc
	}
	return s
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessionStore *session.RedisStore, minutesSvc *minutes.Service, searchSvc *search.Service) *Service {
	s := New(cfg, dataStore, minutesSvc, searchSvc)
	s.sessions = sessionStore
	return s
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SetEmailService(svc *email.Service) {
	s.email = svc
}

func (s *Service) SetExporter(svc minutesExporter) {
	s.exporter = svc
}

func (s *Service) SetArchive(svc exportArchive) {
	s.archive = svc
}

func (s *Service) SetNotifier(gateway eventPublisher) {
	s.notifier = gateway
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Sessions

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The Redis session store keeps only the user ID alongside the token.
	if user.DisplayName == "" {
		user, err = s.store.GetUserByID(ctx, user.ID)
		if err != nil {
			return Session{}, err
		}
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:         user.ID,
		DisplayName: user.DisplayName,
		JTI:         jti,
		Exp:         expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// RequestPasswordReset issues a reset token and mails it when SMTP is
// configured. The token is also returned so the handler can surface it in
// development setups without a mail server.
func (s *Service) RequestPasswordReset(ctx context.Context, emailAddr string) (string, error) {
	token, err := s.authpw.RequestPasswordReset(ctx, emailAddr)
	if err != nil || token == "" {
		return "", err
	}
	if s.SMTPConfigured() {
		user, lookupErr := s.store.GetUserByEmail(ctx, emailAddr)
		if lookupErr == nil {
			resetURL := s.cfg.AppBaseURL + "/reset-password?token=" + token
			go func() {
				if sendErr := s.email.SendPasswordResetEmail(user.Email, user.DisplayName, resetURL); sendErr != nil {
					log.Printf("email: password reset to %s: %v", user.Email, sendErr)
				}
			}()
		}
	}
	return token, nil
}

// Meetings

func (s *Service) CreateMeeting(ctx context.Context, session Session, input MeetingInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	meeting := store.Meeting{
		ID:           util.NewID("mtg"),
		Title:        title,
		Description:  strings.TrimSpace(input.Description),
		Status:       "scheduled",
		OwnerID:      session.UserID,
		ScheduledFor: input.ScheduledFor,
	}
	if err := s.store.InsertMeeting(ctx, meeting); err != nil {
		return nil, err
	}

	if s.minutes != nil {
		if err := s.minutes.EnsureMeetingRepo(meeting.ID, minutes.Minutes{MeetingTitle: title}, session.UserName); err != nil {
			log.Printf("minutes: init repo for %s: %v", meeting.ID, err)
		}
	}
	if s.search != nil {
		s.search.IndexMeeting(search.MeetingRecord{ID: meeting.ID, Title: title, Description: meeting.Description, Status: meeting.Status})
	}

	meeting.OwnerName = session.UserName
	meeting.ViewerRole = "owner"
	return meetingToMap(meeting), nil
}

func (s *Service) ListMeetings(ctx context.Context, session Session) ([]map[string]any, error) {
	items, err := s.store.ListMeetings(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, meetingToMap(item))
	}
	return payload, nil
}

func (s *Service) GetMeeting(ctx context.Context, session Session, meetingID string) (map[string]any, error) {
	role, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}

	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	attendees, err := s.store.ListAttendees(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	motions, err := s.store.ListMotions(ctx, meetingID, true)
	if err != nil {
		return nil, err
	}

	motionPayload := make([]map[string]any, 0, len(motions))
	for _, motion := range motions {
		votes, err := s.store.ListVotes(ctx, motion.ID)
		if err != nil {
			return nil, err
		}
		replies, err := s.store.ListReplies(ctx, motion.ID)
		if err != nil {
			return nil, err
		}
		entry := motionToMap(motion)
		entry["tally"] = voteTally(votes)
		replyPayload := make([]map[string]any, 0, len(replies))
		for _, reply := range replies {
			replyPayload = append(replyPayload, replyToMap(reply))
		}
		entry["replies"] = replyPayload
		motionPayload = append(motionPayload, entry)
	}

	attendeePayload := make([]map[string]any, 0, len(attendees))
	for _, attendee := range attendees {
		attendeePayload = append(attendeePayload, attendeeToMap(attendee))
	}

	meeting.ViewerRole = role
	payload := meetingToMap(meeting)
	payload["attendees"] = attendeePayload
	payload["motions"] = motionPayload
	return payload, nil
}

func (s *Service) UpdateMeeting(ctx context.Context, session Session, meetingID string, input MeetingInput) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionManage); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if err := s.store.UpdateMeeting(ctx, meetingID, title, strings.TrimSpace(input.Description), input.ScheduledFor); err != nil {
		return nil, err
	}
	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexMeeting(search.MeetingRecord{ID: meeting.ID, Title: meeting.Title, Description: meeting.Description, Status: meeting.Status})
	}
	return meetingToMap(meeting), nil
}

func (s *Service) DeleteMeeting(ctx context.Context, session Session, meetingID string) error {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionManage); err != nil {
		return err
	}
	removed, err := s.store.DeleteMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if !removed {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Service) OpenMeeting(ctx context.Context, session Session, meetingID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionModerate); err != nil {
		return nil, err
	}
	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting.Status != "scheduled" {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "meeting is not awaiting its session", map[string]any{"status": meeting.Status})
	}
	if err := s.store.SetMeetingStatus(ctx, meetingID, "in_session"); err != nil {
		return nil, err
	}
	meeting.Status = "in_session"
	s.publish(meetingID, "", "meeting_opened", session, nil)
	return meetingToMap(meeting), nil
}

func (s *Service) AdjournMeeting(ctx context.Context, session Session, meetingID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionModerate); err != nil {
		return nil, err
	}
	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if meeting.Status != "in_session" {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "meeting is not in session", map[string]any{"status": meeting.Status})
	}
	if err := s.store.SetMeetingStatus(ctx, meetingID, "adjourned"); err != nil {
		return nil, err
	}
	meeting.Status = "adjourned"

	if s.minutes != nil {
		commit, err := s.snapshotMinutes(ctx, meetingID, session.UserName, "Adjourn meeting")
		if err != nil {
			log.Printf("minutes: adjournment snapshot for %s: %v", meetingID, err)
		} else {
			tag := "adjourned-" + time.Now().UTC().Format("20060102-150405")
			if err := s.minutes.TagAdjournment(meetingID, commit.Hash, tag); err != nil {
				log.Printf("minutes: tag adjournment for %s: %v", meetingID, err)
			}
		}
	}

	s.publish(meetingID, "", "meeting_adjourned", session, nil)
	return meetingToMap(meeting), nil
}

func (s *Service) LeaveMeeting(ctx context.Context, session Session, meetingID string) error {
	role, err := s.store.GetAttendeeRole(ctx, meetingID, session.UserID)
	if err != nil {
		return err
	}
	if role == "" {
		return sql.ErrNoRows
	}
	if role == "owner" {
		return domainError(http.StatusConflict, "INVALID_STATE", "the owner cannot leave the meeting", nil)
	}
	removed, err := s.store.RemoveAttendee(ctx, meetingID, session.UserID)
	if err != nil {
		return err
	}
	if !removed {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Service) TransferChair(ctx context.Context, session Session, meetingID, toUserID string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionManage); err != nil {
		return nil, err
	}
	moved, err := s.store.TransferChair(ctx, meetingID, toUserID)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "attendee not found", nil)
	}
	s.publish(meetingID, "", "chair_transferred", session, map[string]any{"to": toUserID})
	return map[string]any{"meetingId": meetingID, "chairUserId": toUserID}, nil
}

// Attendees

func (s *Service) ListAttendees(ctx context.Context, session Session, meetingID string) ([]map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	attendees, err := s.store.ListAttendees(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(attendees))
	for _, attendee := range attendees {
		payload = append(payload, attendeeToMap(attendee))
	}
	return payload, nil
}

func (s *Service) SetAttendeeRole(ctx context.Context, session Session, meetingID, userID, role string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionManage); err != nil {
		return nil, err
	}
	if !assignableRole(role) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be observer, member or chair", nil)
	}
	current, err := s.store.GetAttendeeRole(ctx, meetingID, userID)
	if err != nil {
		return nil, err
	}
	if current == "" {
		return nil, sql.ErrNoRows
	}
	if current == "owner" {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "the owner role cannot be reassigned", nil)
	}
	if err := s.store.UpsertAttendee(ctx, meetingID, userID, role); err != nil {
		return nil, err
	}
	return map[string]any{"meetingId": meetingID, "userId": userID, "role": role}, nil
}

func (s *Service) RemoveAttendee(ctx context.Context, session Session, meetingID, userID string) error {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionManage); err != nil {
		return err
	}
	current, err := s.store.GetAttendeeRole(ctx, meetingID, userID)
	if err != nil {
		return err
	}
	if current == "" {
		return sql.ErrNoRows
	}
	if current == "owner" {
		return domainError(http.StatusConflict, "INVALID_STATE", "the owner cannot be removed", nil)
	}
	removed, err := s.store.RemoveAttendee(ctx, meetingID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return sql.ErrNoRows
	}
	return nil
}

// Invitations

func (s *Service) InviteAttendee(ctx context.Context, session Session, meetingID, emailAddr, role string) (map[string]any, error) {
	if _, err := s.requireRole(ctx, meetingID, session.UserID, rbac.ActionManage); err != nil {
		return nil, err
	}
	emailAddr = strings.TrimSpace(strings.ToLower(emailAddr))
	if emailAddr == "" || !strings.Contains(emailAddr, "@") {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "a valid email is required", nil)
	}
	if role == "" {
		role = "member"
	}
	if !assignableRole(role) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be observer, member or chair", nil)
	}

	meeting, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	token := util.NewID("invt") + util.NewID("")
	invitation := store.Invitation{
		ID:        util.NewID("inv"),
		MeetingID: meetingID,
		Email:     emailAddr,
		Role:      role,
		TokenHash: auth.HashToken(token),
		InvitedBy: session.UserID,
	}
	if err := s.store.InsertInvitation(ctx, invitation); err != nil {
		return nil, err
	}

	if s.SMTPConfigured() {
		acceptURL := s.cfg.AppBaseURL + "/invitations?token=" + token
		go func() {
			if err := s.email.SendInvitationEmail(emailAddr, meeting.Title, session.UserName, acceptURL); err != nil {
				log.Printf("email: invitation to %s: %v", emailAddr, err)
			}
		}()
	}

	payload := map[string]any{
		"invitationId": invitation.ID,
		"meetingId":    meetingID,
		"email":        emailAddr,
		"role":         role,
	}
	if !s.SMTPConfigured() {
		payload["devInviteToken"] = token
	}
	return payload, nil
}

func (s *Service) MyInvitations(ctx context.Context, session Session) ([]map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	invitations, err := s.store.ListInvitationsByEmail(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(invitations))
	for _, invitation := range invitations {
		payload = append(payload, map[string]any{
			"invitationId": invitation.ID,
			"meetingId":    invitation.MeetingID,
			"meetingTitle": invitation.MeetingTitle,
			"role":         invitation.Role,
			"invitedBy":    invitation.InviterName,
			"createdAt":    invitation.CreatedAt,
		})
	}
	return payload, nil
}

func (s *Service) AcceptInvitation(ctx context.Context, session Session, token string) (map[string]any, error) {
	if strings.TrimSpace(token) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "token is required", nil)
	}
	invitation, err := s.store.AcceptInvitation(ctx, auth.HashToken(token), session.UserID)
	if err != nil {
		return nil, err
	}
	s.publish(invitation.MeetingID, "", "attendee_joined", session, map[string]any{"role": invitation.Role})
	return map[string]any{"meetingId": invitation.MeetingID, "role": invitation.Role}, nil
}

func (s *Service) DeclineInvitation(ctx context.Context, session Session, invitationID string) error {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return err
	}
	declined, err := s.store.DeclineInvitation(ctx, invitationID, user.Email)
	if err != nil {
		return err
	}
	if !declined {
		return sql.ErrNoRows
	}
	return nil
}

// Search

func (s *Service) Search(ctx context.Context, session Session, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	if q.FilterMeetingID != "" {
		if _, err := s.requireRole(ctx, q.FilterMeetingID, session.UserID, rbac.ActionRead); err != nil {
			return search.Response{}, err
		}
		return s.search.Search(q), nil
	}

	// Unscoped queries hit the whole index, so hits from meetings the
	// caller does not attend are stripped before the response leaves.
	meetings, err := s.store.ListMeetings(ctx, session.UserID)
	if err != nil {
		return search.Response{}, err
	}
	attended := make(map[string]bool, len(meetings))
	for _, meeting := range meetings {
		attended[meeting.ID] = true
	}

	resp := s.search.Search(q)
	visible := make([]search.Result, 0, len(resp.Results))
	for _, hit := range resp.Results {
		if attended[hit.MeetingID] {
			visible = append(visible, hit)
		}
	}
	resp.Total -= len(resp.Results) - len(visible)
	if resp.Total < 0 {
		resp.Total = 0
	}
	resp.Results = visible
	return resp, nil
}

// requireRole resolves the caller's role in the meeting and checks the
// capability. A non-attendee gets NOT_FOUND so membership stays private.
func (s *Service) requireRole(ctx context.Context, meetingID, userID string, action rbac.Action) (string, error) {
	role, err := s.store.GetAttendeeRole(ctx, meetingID, userID)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", sql.ErrNoRows
	}
	if !rbac.Can(rbac.Normalize(role), action) {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return role, nil
}

func (s *Service) appendHistory(ctx context.Context, meetingID, motionID, eventType, actorID string, payload map[string]any) {
	event := store.HistoryEvent{
		MeetingID: meetingID,
		EventType: eventType,
		ActorID:   actorID,
		Payload:   payload,
	}
	if motionID != "" {
		event.MotionID = &motionID
	}
	if err := s.store.InsertHistoryEvent(ctx, event); err != nil {
		log.Printf("history: append %s for %s: %v", eventType, meetingID, err)
	}
}

func (s *Service) publish(meetingID, motionID, eventType string, session Session, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	event := notify.Event{
		MeetingID: meetingID,
		MotionID:  motionID,
		EventType: eventType,
		ActorID:   session.UserID,
		ActorName: session.UserName,
		Payload:   payload,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.Publish(ctx, event); err != nil {
			log.Printf("notify: publish %s for %s: %v", eventType, meetingID, err)
		}
	}()
}

func assignableRole(role string) bool {
	switch role {
	case "observer", "member", "chair":
		return true
	default:
		return false
	}
}

func voteTally(votes []store.Vote) map[string]any {
	choices := make([]tally.Choice, 0, len(votes))
	for _, vote := range votes {
		choices = append(choices, tally.Choice(vote.Choice))
	}
	return countToMap(tally.Tally(choices))
}

func countToMap(count tally.Count) map[string]any {
	return map[string]any{"for": count.For, "against": count.Against, "abstain": count.Abstain}
}

func meetingToMap(meeting store.Meeting) map[string]any {
	payload := map[string]any{
		"id":          meeting.ID,
		"title":       meeting.Title,
		"description": meeting.Description,
		"status":      meeting.Status,
		"ownerId":     meeting.OwnerID,
		"ownerName":   meeting.OwnerName,
		"createdAt":   meeting.CreatedAt,
		"updatedAt":   meeting.UpdatedAt,
	}
	if meeting.ScheduledFor != nil {
		payload["scheduledFor"] = meeting.ScheduledFor
	}
	if meeting.ViewerRole != "" {
		payload["viewerRole"] = meeting.ViewerRole
	}
	return payload
}

func attendeeToMap(attendee store.Attendee) map[string]any {
	return map[string]any{
		"userId":      attendee.UserID,
		"displayName": attendee.DisplayName,
		"email":       attendee.Email,
		"role":        attendee.Role,
		"joinedAt":    attendee.JoinedAt,
	}
}

func motionToMap(motion store.Motion) map[string]any {
	payload := map[string]any{
		"id":           motion.ID,
		"meetingId":    motion.MeetingID,
		"title":        motion.Title,
		"description":  motion.Description,
		"status":       motion.Status,
		"special":      motion.Special,
		"proposerId":   motion.ProposerID,
		"proposerName": motion.ProposerName,
		"createdAt":    motion.CreatedAt,
		"updatedAt":    motion.UpdatedAt,
	}
	if motion.ParentID != nil {
		payload["parentId"] = *motion.ParentID
	}
	if motion.DecidedAt != nil {
		payload["decidedAt"] = motion.DecidedAt
	}
	if motion.OverturnedBy != nil {
		payload["overturnedBy"] = *motion.OverturnedBy
	}
	if motion.OverturnOf != nil {
		payload["overturnOf"] = *motion.OverturnOf
	}
	return payload
}

func voteToMap(vote store.Vote) map[string]any {
	return map[string]any{
		"voterId":   vote.VoterID,
		"voterName": vote.VoterName,
		"choice":    vote.Choice,
		"castAt":    vote.CastAt,
	}
}

func replyToMap(reply store.Reply) map[string]any {
	return map[string]any{
		"id":         reply.ID,
		"motionId":   reply.MotionID,
		"authorId":   reply.AuthorID,
		"authorName": reply.AuthorName,
		"stance":     reply.Stance,
		"body":       reply.Body,
		"createdAt":  reply.CreatedAt,
		"updatedAt":  reply.UpdatedAt,
	}
}

func historyEventToMap(event store.HistoryEvent) map[string]any {
	payload := map[string]any{
		"id":        event.ID,
		"meetingId": event.MeetingID,
		"eventType": event.EventType,
		"actorId":   event.ActorID,
		"actorName": event.ActorName,
		"payload":   event.Payload,
		"createdAt": event.CreatedAt,
	}
	if event.MotionID != nil {
		payload["motionId"] = *event.MotionID
	}
	return payload
}
