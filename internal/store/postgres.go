package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gavel/api/internal/tally"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, LOWER($3), $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) SavePasswordReset(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, used_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE password_resets
		SET used_at=NOW()
		WHERE token_hash=$1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING user_id
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) InsertMeeting(ctx context.Context, meeting Meeting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meetings (id, title, description, status, owner_id, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, meeting.ID, meeting.Title, meeting.Description, meeting.Status, meeting.OwnerID, meeting.ScheduledFor)
	if err != nil {
		return fmt.Errorf("insert meeting: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO meeting_attendees (meeting_id, user_id, role)
		VALUES ($1, $2, 'owner')
		ON CONFLICT (meeting_id, user_id) DO NOTHING
	`, meeting.ID, meeting.OwnerID); err != nil {
		return fmt.Errorf("seed owner attendee: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMeetings(ctx context.Context, userID string) ([]Meeting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.title, m.description, m.status, m.owner_id, u.display_name, m.scheduled_for, a.role, m.created_at, m.updated_at
		FROM meetings m
		JOIN users u ON u.id = m.owner_id
		JOIN meeting_attendees a ON a.meeting_id = m.id
		WHERE a.user_id = $1
		ORDER BY m.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	items := make([]Meeting, 0)
	for rows.Next() {
		var item Meeting
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.Status, &item.OwnerID, &item.OwnerName, &item.ScheduledFor, &item.ViewerRole, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meetings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetMeeting(ctx context.Context, meetingID string) (Meeting, error) {
	var item Meeting
	err := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.title, m.description, m.status, m.owner_id, u.display_name, m.scheduled_for, m.created_at, m.updated_at
		FROM meetings m
		JOIN users u ON u.id = m.owner_id
		WHERE m.id=$1
	`, meetingID).Scan(&item.ID, &item.Title, &item.Description, &item.Status, &item.OwnerID, &item.OwnerName, &item.ScheduledFor, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Meeting{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateMeeting(ctx context.Context, meetingID, title, description string, scheduledFor *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE meetings
		SET title=$2, description=$3, scheduled_for=$4, updated_at=NOW()
		WHERE id=$1
	`, meetingID, title, description, scheduledFor)
	if err != nil {
		return fmt.Errorf("update meeting: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetMeetingStatus(ctx context.Context, meetingID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE meetings SET status=$2, updated_at=NOW() WHERE id=$1`, meetingID, status)
	if err != nil {
		return fmt.Errorf("set meeting status: %w", err)
	}
	return nil
}

// DeleteMeeting removes a meeting and, through the schema's cascades, its
// attendees, invitations, motions, ballots, replies and history.
func (s *PostgresStore) DeleteMeeting(ctx context.Context, meetingID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM meetings WHERE id=$1`, meetingID)
	if err != nil {
		return false, fmt.Errorf("delete meeting: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete meeting rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpsertAttendee(ctx context.Context, meetingID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meeting_attendees (meeting_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (meeting_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, meetingID, userID, role)
	if err != nil {
		return fmt.Errorf("upsert attendee: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveAttendee(ctx context.Context, meetingID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM meeting_attendees WHERE meeting_id=$1 AND user_id=$2 AND role <> 'owner'
	`, meetingID, userID)
	if err != nil {
		return false, fmt.Errorf("remove attendee: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove attendee rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListAttendees(ctx context.Context, meetingID string) ([]Attendee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.meeting_id, a.user_id, u.display_name, u.email, a.role, a.joined_at
		FROM meeting_attendees a
		JOIN users u ON u.id = a.user_id
		WHERE a.meeting_id=$1
		ORDER BY a.joined_at ASC
	`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	defer rows.Close()

	items := make([]Attendee, 0)
	for rows.Next() {
		var item Attendee
		if err := rows.Scan(&item.MeetingID, &item.UserID, &item.DisplayName, &item.Email, &item.Role, &item.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan attendee: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendees: %w", err)
	}
	return items, nil
}

// TransferChair demotes the current chair to member and raises the target
// attendee in one transaction. The owner keeps the owner role throughout.
// Returns false when the target is not an attendee or already holds owner.
func (s *PostgresStore) TransferChair(ctx context.Context, meetingID, toUserID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin chair transfer: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE meeting_attendees SET role='member'
		WHERE meeting_id=$1 AND role='chair'
	`, meetingID); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("demote chair: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE meeting_attendees SET role='chair'
		WHERE meeting_id=$1 AND user_id=$2 AND role <> 'owner'
	`, meetingID, toUserID)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("promote chair: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("promote chair rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit chair transfer: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) GetAttendeeRole(ctx context.Context, meetingID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM meeting_attendees WHERE meeting_id=$1 AND user_id=$2
	`, meetingID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read attendee role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) InsertInvitation(ctx context.Context, invitation Invitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invitations (id, meeting_id, email, role, token_hash, invited_by)
		VALUES ($1, $2, LOWER($3), $4, $5, $6)
	`, invitation.ID, invitation.MeetingID, invitation.Email, invitation.Role, invitation.TokenHash, invitation.InvitedBy)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) AcceptInvitation(ctx context.Context, tokenHash, userID string) (Invitation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Invitation{}, fmt.Errorf("begin accept invitation: %w", err)
	}

	var invitation Invitation
	err = tx.QueryRowContext(ctx, `
		UPDATE invitations
		SET accepted_at=NOW()
		WHERE token_hash=$1 AND accepted_at IS NULL
		RETURNING id, meeting_id, email, role, invited_by, created_at
	`, tokenHash).Scan(&invitation.ID, &invitation.MeetingID, &invitation.Email, &invitation.Role, &invitation.InvitedBy, &invitation.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		return Invitation{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meeting_attendees (meeting_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (meeting_id, user_id) DO NOTHING
	`, invitation.MeetingID, userID, invitation.Role); err != nil {
		_ = tx.Rollback()
		return Invitation{}, fmt.Errorf("insert invited attendee: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Invitation{}, fmt.Errorf("commit accept invitation: %w", err)
	}
	return invitation, nil
}

func (s *PostgresStore) ListInvitationsByEmail(ctx context.Context, email string) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.meeting_id, m.title, i.email, i.role, i.invited_by, u.display_name, i.created_at
		FROM invitations i
		JOIN meetings m ON m.id = i.meeting_id
		JOIN users u ON u.id = i.invited_by
		WHERE i.email = LOWER($1) AND i.accepted_at IS NULL
		ORDER BY i.created_at DESC
	`, email)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	items := make([]Invitation, 0)
	for rows.Next() {
		var item Invitation
		if err := rows.Scan(&item.ID, &item.MeetingID, &item.MeetingTitle, &item.Email, &item.Role, &item.InvitedBy, &item.InviterName, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invitation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitations: %w", err)
	}
	return items, nil
}

// DeclineInvitation drops a pending invitation addressed to email. Accepted
// invitations are kept as part of the membership record.
func (s *PostgresStore) DeclineInvitation(ctx context.Context, invitationID, email string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM invitations
		WHERE id=$1 AND email=LOWER($2) AND accepted_at IS NULL
	`, invitationID, email)
	if err != nil {
		return false, fmt.Errorf("decline invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decline invitation rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) InsertMotion(ctx context.Context, motion Motion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO motions (id, meeting_id, parent_id, title, description, status, special, proposer_id, overturn_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, motion.ID, motion.MeetingID, motion.ParentID, motion.Title, motion.Description, motion.Status, motion.Special, motion.ProposerID, motion.OverturnOf)
	if err != nil {
		return fmt.Errorf("insert motion: %w", err)
	}
	return nil
}

// InsertSubMotion creates the child motion and postpones its open parent in
// one transaction so no reader ever observes the child without the parent
// already parked. Returns false when the parent was not open.
// InsertSubMotion creates a child motion and postpones its parent in one
// transaction. A parent that is already postponed accepts further siblings;
// a parent in any terminal state rejects the insert.
func (s *PostgresStore) InsertSubMotion(ctx context.Context, motion Motion) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin sub-motion tx: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE motions SET status='postponed', updated_at=NOW()
		WHERE id=$1 AND status IN ('open', 'postponed')
	`, *motion.ParentID)
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("postpone parent motion: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("postpone parent rows: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO motions (id, meeting_id, parent_id, title, description, status, special, proposer_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, motion.ID, motion.MeetingID, motion.ParentID, motion.Title, motion.Description, motion.Status, motion.Special, motion.ProposerID); err != nil {
		_ = tx.Rollback()
		return false, fmt.Errorf("insert sub-motion: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit sub-motion tx: %w", err)
	}
	return true, nil
}

const motionColumns = `
	m.id, m.meeting_id, m.parent_id, m.title, m.description, m.status, m.special,
	m.proposer_id, u.display_name, m.decided_at, m.overturned_by, m.overturn_of,
	m.created_at, m.updated_at
`

func scanMotion(row interface{ Scan(...any) error }) (Motion, error) {
	var item Motion
	err := row.Scan(
		&item.ID,
		&item.MeetingID,
		&item.ParentID,
		&item.Title,
		&item.Description,
		&item.Status,
		&item.Special,
		&item.ProposerID,
		&item.ProposerName,
		&item.DecidedAt,
		&item.OverturnedBy,
		&item.OverturnOf,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) GetMotion(ctx context.Context, motionID string) (Motion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+motionColumns+`
		FROM motions m
		JOIN users u ON u.id = m.proposer_id
		WHERE m.id=$1
	`, motionID)
	return scanMotion(row)
}

func (s *PostgresStore) ListMotions(ctx context.Context, meetingID string, includeCompleted bool) ([]Motion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+motionColumns+`
		FROM motions m
		JOIN users u ON u.id = m.proposer_id
		WHERE m.meeting_id=$1
		  AND ($2::boolean OR m.status <> 'completed')
		ORDER BY m.created_at ASC
	`, meetingID, includeCompleted)
	if err != nil {
		return nil, fmt.Errorf("list motions: %w", err)
	}
	defer rows.Close()

	items := make([]Motion, 0)
	for rows.Next() {
		item, err := scanMotion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan motion: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate motions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateMotionText(ctx context.Context, motionID, title, description string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE motions SET title=$2, description=$3, updated_at=NOW()
		WHERE id=$1 AND status IN ('proposed', 'open', 'postponed')
	`, motionID, title, description)
	if err != nil {
		return false, fmt.Errorf("update motion text: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update motion text rows: %w", err)
	}
	return affected > 0, nil
}

// SetMotionStatus transitions the motion only when its current status is one
// of from. Returns false when the guard did not match.
func (s *PostgresStore) SetMotionStatus(ctx context.Context, motionID, to string, from ...string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE motions SET status=$2, updated_at=NOW()
		WHERE id=$1 AND status = ANY($3::text[])
	`, motionID, to, pqStringArray(from))
	if err != nil {
		return false, fmt.Errorf("set motion status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set motion status rows: %w", err)
	}
	return affected > 0, nil
}

// CountBlockingChildren counts direct children still in a non-terminal
// status. A parent cannot resume or go to a vote while this is non-zero.
func (s *PostgresStore) CountBlockingChildren(ctx context.Context, motionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM motions
		WHERE parent_id=$1 AND status IN ('proposed', 'open', 'postponed')
	`, motionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count blocking children: %w", err)
	}
	return count, nil
}

// FinalizeMotion locks the open motion row, tallies its ballots inside the
// same transaction, and when the tally resolves marks the motion passed or
// failed and appends the motion_completed history event carrying the ballot
// snapshot. The ballots are read under the row lock so a vote that lands
// after the close can never diverge from the ledgered snapshot. A tied or
// empty ballot leaves the motion open and only reports the count.
func (s *PostgresStore) FinalizeMotion(ctx context.Context, motionID, meetingID, actorID string) (FinalizeResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("begin finalize tx: %w", err)
	}

	var title, description string
	err = tx.QueryRowContext(ctx, `
		SELECT title, description FROM motions
		WHERE id=$1 AND meeting_id=$2 AND status='open'
		FOR UPDATE
	`, motionID, meetingID).Scan(&title, &description)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return FinalizeResult{}, nil
	}
	if err != nil {
		_ = tx.Rollback()
		return FinalizeResult{}, fmt.Errorf("lock motion for finalize: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT voter_id, choice FROM votes WHERE motion_id=$1
	`, motionID)
	if err != nil {
		_ = tx.Rollback()
		return FinalizeResult{}, fmt.Errorf("read ballots: %w", err)
	}
	voters := map[string]string{}
	choices := make([]tally.Choice, 0)
	for rows.Next() {
		var voterID, choice string
		if err := rows.Scan(&voterID, &choice); err != nil {
			rows.Close()
			_ = tx.Rollback()
			return FinalizeResult{}, fmt.Errorf("scan ballot: %w", err)
		}
		voters[voterID] = choice
		choices = append(choices, tally.Choice(choice))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		_ = tx.Rollback()
		return FinalizeResult{}, fmt.Errorf("iterate ballots: %w", err)
	}
	rows.Close()

	count := tally.Tally(choices)
	outcome := tally.Resolve(count)
	result := FinalizeResult{
		Open:     true,
		Outcome:  outcome,
		Count:    count,
		Snapshot: VoteSnapshot{For: count.For, Against: count.Against, Abstain: count.Abstain, Voters: voters},
	}
	if outcome == tally.OutcomeTied || outcome == tally.OutcomeUnresolved {
		_ = tx.Rollback()
		return result, nil
	}

	status := string(outcome)
	if _, err := tx.ExecContext(ctx, `
		UPDATE motions SET status=$2, decided_at=NOW(), updated_at=NOW()
		WHERE id=$1
	`, motionID, status); err != nil {
		_ = tx.Rollback()
		return FinalizeResult{}, fmt.Errorf("finalize motion: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"title":       title,
		"description": description,
		"outcome":     status,
		"for":         count.For,
		"against":     count.Against,
		"abstain":     count.Abstain,
		"voters":      voters,
	})
	if err != nil {
		_ = tx.Rollback()
		return FinalizeResult{}, fmt.Errorf("marshal vote snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meeting_history (meeting_id, motion_id, event_type, actor_id, payload)
		VALUES ($1, $2, 'motion_completed', $3, $4::jsonb)
	`, meetingID, motionID, actorID, string(payload)); err != nil {
		_ = tx.Rollback()
		return FinalizeResult{}, fmt.Errorf("record motion completion: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return FinalizeResult{}, fmt.Errorf("commit finalize tx: %w", err)
	}
	return result, nil
}

// ArchiveDecidedMotions sweeps passed and failed motions of a meeting into
// completed, returning the IDs that moved.
func (s *PostgresStore) ArchiveDecidedMotions(ctx context.Context, meetingID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE motions SET status='completed', updated_at=NOW()
		WHERE meeting_id=$1 AND status IN ('passed', 'failed')
		RETURNING id
	`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("archive decided motions: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan archived motion: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived motions: %w", err)
	}
	return ids, nil
}

// MarkMotionOverturned annotates a completed motion with the replacement
// motion's ID. The archived record itself is never deleted.
func (s *PostgresStore) MarkMotionOverturned(ctx context.Context, motionID, successorID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE motions SET overturned_by=$2, updated_at=NOW()
		WHERE id=$1 AND status='completed' AND overturned_by IS NULL
	`, motionID, successorID)
	if err != nil {
		return false, fmt.Errorf("mark motion overturned: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark motion overturned rows: %w", err)
	}
	return affected > 0, nil
}

// UpsertVote records or replaces a ballot. The insert is guarded on the
// motion still being open, with a share lock on the motion row so a ballot
// blocks behind a concurrent finalize instead of slipping past it. Returns
// false when the ballots were already closed.
func (s *PostgresStore) UpsertVote(ctx context.Context, motionID, voterID, choice string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO votes (motion_id, voter_id, choice)
		SELECT $1, $2, $3
		WHERE EXISTS (SELECT 1 FROM motions WHERE id=$1 AND status='open' FOR SHARE)
		ON CONFLICT (motion_id, voter_id)
		DO UPDATE SET choice=EXCLUDED.choice, updated_at=NOW()
	`, motionID, voterID, choice)
	if err != nil {
		return false, fmt.Errorf("upsert vote: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert vote rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteVote(ctx context.Context, motionID, voterID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM votes WHERE motion_id=$1 AND voter_id=$2
		AND EXISTS (SELECT 1 FROM motions WHERE id=$1 AND status='open' FOR SHARE)
	`, motionID, voterID)
	if err != nil {
		return false, fmt.Errorf("delete vote: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete vote rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListVotes(ctx context.Context, motionID string) ([]Vote, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.motion_id, v.voter_id, u.display_name, v.choice, v.cast_at, v.updated_at
		FROM votes v
		JOIN users u ON u.id = v.voter_id
		WHERE v.motion_id=$1
		ORDER BY v.cast_at ASC
	`, motionID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	items := make([]Vote, 0)
	for rows.Next() {
		var item Vote
		if err := rows.Scan(&item.MotionID, &item.VoterID, &item.VoterName, &item.Choice, &item.CastAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertReply(ctx context.Context, reply Reply) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO motion_replies (id, motion_id, author_id, stance, body)
		VALUES ($1, $2, $3, $4, $5)
	`, reply.ID, reply.MotionID, reply.AuthorID, reply.Stance, reply.Body)
	if err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReply(ctx context.Context, replyID string) (Reply, error) {
	var item Reply
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.motion_id, r.author_id, u.display_name, r.stance, r.body, r.created_at, r.updated_at
		FROM motion_replies r
		JOIN users u ON u.id = r.author_id
		WHERE r.id=$1
	`, replyID).Scan(&item.ID, &item.MotionID, &item.AuthorID, &item.AuthorName, &item.Stance, &item.Body, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Reply{}, err
	}
	return item, nil
}

func (s *PostgresStore) UpdateReply(ctx context.Context, replyID, authorID, stance, body string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE motion_replies SET stance=$3, body=$4, updated_at=NOW()
		WHERE id=$1 AND author_id=$2
	`, replyID, authorID, stance, body)
	if err != nil {
		return false, fmt.Errorf("update reply: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update reply rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) DeleteReply(ctx context.Context, replyID, authorID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM motion_replies WHERE id=$1 AND author_id=$2
	`, replyID, authorID)
	if err != nil {
		return false, fmt.Errorf("delete reply: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete reply rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListReplies(ctx context.Context, motionID string) ([]Reply, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.motion_id, r.author_id, u.display_name, r.stance, r.body, r.created_at, r.updated_at
		FROM motion_replies r
		JOIN users u ON u.id = r.author_id
		WHERE r.motion_id=$1
		ORDER BY r.created_at ASC
	`, motionID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	items := make([]Reply, 0)
	for rows.Next() {
		var item Reply
		if err := rows.Scan(&item.ID, &item.MotionID, &item.AuthorID, &item.AuthorName, &item.Stance, &item.Body, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertChat(ctx context.Context, message ChatMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meeting_chats (id, meeting_id, author_id, body)
		VALUES ($1, $2, $3, $4)
	`, message.ID, message.MeetingID, message.AuthorID, message.Body)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListChats(ctx context.Context, meetingID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.meeting_id, c.author_id, u.display_name, c.body, c.created_at
		FROM meeting_chats c
		JOIN users u ON u.id = c.author_id
		WHERE c.meeting_id=$1
		ORDER BY c.created_at ASC, c.id ASC
		LIMIT $2
	`, meetingID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	items := make([]ChatMessage, 0)
	for rows.Next() {
		var item ChatMessage
		if err := rows.Scan(&item.ID, &item.MeetingID, &item.AuthorID, &item.AuthorName, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertHistoryEvent(ctx context.Context, event HistoryEvent) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal history payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO meeting_history (meeting_id, motion_id, event_type, actor_id, payload)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`, event.MeetingID, event.MotionID, event.EventType, event.ActorID, string(encoded))
	if err != nil {
		return fmt.Errorf("insert history event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListHistory(ctx context.Context, meetingID, motionID, eventType string, limit int) ([]HistoryEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.meeting_id, h.motion_id, h.event_type, h.actor_id, COALESCE(u.display_name, ''), h.payload, h.created_at
		FROM meeting_history h
		LEFT JOIN users u ON u.id = h.actor_id
		WHERE h.meeting_id=$1
		  AND ($2='' OR h.motion_id=$2)
		  AND ($3='' OR h.event_type=$3)
		ORDER BY h.created_at ASC, h.id ASC
		LIMIT $4
	`, meetingID, motionID, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := make([]HistoryEvent, 0)
	for rows.Next() {
		var item HistoryEvent
		var payloadRaw []byte
		if err := rows.Scan(&item.ID, &item.MeetingID, &item.MotionID, &item.EventType, &item.ActorID, &item.ActorName, &payloadRaw, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history event: %w", err)
		}
		_ = json.Unmarshal(payloadRaw, &item.Payload)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}

// LatestCompletionEvent fetches the most recent motion_completed event for a
// motion. The ballot snapshot inside it is the authority for overturns.
func (s *PostgresStore) LatestCompletionEvent(ctx context.Context, motionID string) (HistoryEvent, error) {
	var item HistoryEvent
	var payloadRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, meeting_id, motion_id, event_type, actor_id, payload, created_at
		FROM meeting_history
		WHERE motion_id=$1 AND event_type='motion_completed'
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, motionID).Scan(&item.ID, &item.MeetingID, &item.MotionID, &item.EventType, &item.ActorID, &payloadRaw, &item.CreatedAt)
	if err != nil {
		return HistoryEvent{}, err
	}
	_ = json.Unmarshal(payloadRaw, &item.Payload)
	return item, nil
}

func (s *PostgresStore) DeleteHistoryEvent(ctx context.Context, meetingID string, eventID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM meeting_history WHERE meeting_id=$1 AND id=$2
	`, meetingID, eventID)
	if err != nil {
		return false, fmt.Errorf("delete history event: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete history event rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ClearHistory(ctx context.Context, meetingID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM meeting_history WHERE meeting_id=$1`, meetingID)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear history rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// pqStringArray renders a Postgres text array literal for ANY() guards
// without pulling in a driver-specific array type.
func pqStringArray(values []string) string {
	out := "{"
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out + "}"
}
