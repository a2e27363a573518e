package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/huddle/internal/domain"
	"github.com/splax/huddle/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.MeetingRepository     = (*Repository)(nil)
	_ repository.ParticipantRepository = (*Repository)(nil)
	_ repository.ResourceRepository    = (*Repository)(nil)
	_ repository.NoteRepository        = (*Repository)(nil)
)

// CreateMeeting inserts a meeting aggregate.
func (r *Repository) CreateMeeting(ctx context.Context, meeting *domain.Meeting) error {
	const query = `INSERT INTO meetings (id, org_id, created_by, title, description, kind, status, team_id, channel_id, meeting_url, scheduled_start, scheduled_end, actual_start, actual_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.pool.Exec(ctx, query,
		meeting.ID,
		meeting.OrgID,
		meeting.CreatedBy,
		meeting.Title,
		meeting.Description,
		meeting.Kind,
		meeting.Status,
		emptyToNil(meeting.TeamID),
		emptyToNil(meeting.ChannelID),
		emptyToNil(meeting.MeetingURL),
		timePtrToNil(meeting.ScheduledStart),
		timePtrToNil(meeting.ScheduledEnd),
		timePtrToNil(meeting.ActualStart),
		timePtrToNil(meeting.ActualEnd),
		meeting.CreatedAt,
		meeting.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505", "23514", "22P02":
				return repository.ErrInvalidArgument
			}
		}
		return err
	}
	return nil
}

// GetMeeting fetches a meeting scoped to the caller's organization.
func (r *Repository) GetMeeting(ctx context.Context, meetingID, orgID string) (*domain.Meeting, error) {
	const query = `SELECT id, org_id, created_by, title, description, kind, status, team_id, channel_id, meeting_url, scheduled_start, scheduled_end, actual_start, actual_end, created_at, updated_at
		FROM meetings WHERE id = $1 AND org_id = $2`
	row := r.pool.QueryRow(ctx, query, meetingID, orgID)
	meeting, err := scanMeeting(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return meeting, nil
}

// ListMeetingsByOrg returns recent meetings for an organization.
func (r *Repository) ListMeetingsByOrg(ctx context.Context, orgID string, limit int) ([]domain.Meeting, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, org_id, created_by, title, description, kind, status, team_id, channel_id, meeting_url, scheduled_start, scheduled_end, actual_start, actual_end, created_at, updated_at
		FROM meetings WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	meetings := make([]domain.Meeting, 0)
	for rows.Next() {
		meeting, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, *meeting)
	}
	return meetings, rows.Err()
}

// UpdateMeetingStatus advances the meeting state machine fields.
func (r *Repository) UpdateMeetingStatus(ctx context.Context, update repository.MeetingStatusUpdate) error {
	const query = `UPDATE meetings
		SET status = $2,
			actual_start = COALESCE($3, actual_start),
			actual_end = COALESCE($4, actual_end),
			updated_at = NOW()
		WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query,
		update.MeetingID,
		update.Status,
		timePtrToNil(update.ActualStart),
		timePtrToNil(update.ActualEnd),
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (*domain.Meeting, error) {
	var (
		m              domain.Meeting
		teamID         sql.NullString
		channelID      sql.NullString
		meetingURL     sql.NullString
		scheduledStart sql.NullTime
		scheduledEnd   sql.NullTime
		actualStart    sql.NullTime
		actualEnd      sql.NullTime
	)
	if err := row.Scan(
		&m.ID,
		&m.OrgID,
		&m.CreatedBy,
		&m.Title,
		&m.Description,
		&m.Kind,
		&m.Status,
		&teamID,
		&channelID,
		&meetingURL,
		&scheduledStart,
		&scheduledEnd,
		&actualStart,
		&actualEnd,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if teamID.Valid {
		m.TeamID = teamID.String
	}
	if channelID.Valid {
		m.ChannelID = channelID.String
	}
	if meetingURL.Valid {
		m.MeetingURL = meetingURL.String
	}
	m.ScheduledStart = nullTimePtr(scheduledStart)
	m.ScheduledEnd = nullTimePtr(scheduledEnd)
	m.ActualStart = nullTimePtr(actualStart)
	m.ActualEnd = nullTimePtr(actualEnd)
	return &m, nil
}

// CreateParticipant inserts a presence row.
func (r *Repository) CreateParticipant(ctx context.Context, participant *domain.Participant) error {
	const query = `INSERT INTO meeting_participants (meeting_id, user_id, org_id, active, joined_at, left_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		participant.MeetingID,
		participant.UserID,
		participant.OrgID,
		participant.Active,
		participant.JoinedAt,
		timePtrToNil(participant.LeftAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23503":
				return repository.ErrNotFound
			case "23505", "23514", "22P02":
				return repository.ErrInvalidArgument
			}
		}
		return err
	}
	return nil
}

// GetParticipant returns the presence row for a user within a meeting.
func (r *Repository) GetParticipant(ctx context.Context, meetingID, userID string) (*domain.Participant, error) {
	const query = `SELECT meeting_id, user_id, org_id, active, joined_at, left_at
		FROM meeting_participants WHERE meeting_id = $1 AND user_id = $2`
	row := r.pool.QueryRow(ctx, query, meetingID, userID)
	var (
		p      domain.Participant
		leftAt sql.NullTime
	)
	if err := row.Scan(&p.MeetingID, &p.UserID, &p.OrgID, &p.Active, &p.JoinedAt, &leftAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	p.LeftAt = nullTimePtr(leftAt)
	return &p, nil
}

// ReactivateParticipant marks a returning participant active again.
func (r *Repository) ReactivateParticipant(ctx context.Context, meetingID, userID string, joinedAt time.Time) error {
	const query = `UPDATE meeting_participants
		SET active = TRUE, joined_at = $3, left_at = NULL
		WHERE meeting_id = $1 AND user_id = $2`
	cmdTag, err := r.pool.Exec(ctx, query, meetingID, userID, joinedAt)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeactivateParticipant records a participant leaving the meeting.
func (r *Repository) DeactivateParticipant(ctx context.Context, meetingID, userID string, leftAt time.Time) error {
	const query = `UPDATE meeting_participants
		SET active = FALSE, left_at = $3
		WHERE meeting_id = $1 AND user_id = $2`
	cmdTag, err := r.pool.Exec(ctx, query, meetingID, userID, leftAt)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CountActiveParticipants counts currently connected participants.
func (r *Repository) CountActiveParticipants(ctx context.Context, meetingID string) (int, error) {
	const query = `SELECT COUNT(1) FROM meeting_participants WHERE meeting_id = $1 AND active = TRUE`
	row := r.pool.QueryRow(ctx, query, meetingID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListParticipantsByMeeting returns all presence rows for a meeting.
func (r *Repository) ListParticipantsByMeeting(ctx context.Context, meetingID string) ([]domain.Participant, error) {
	const query = `SELECT meeting_id, user_id, org_id, active, joined_at, left_at
		FROM meeting_participants WHERE meeting_id = $1 ORDER BY joined_at ASC`
	rows, err := r.pool.Query(ctx, query, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	participants := make([]domain.Participant, 0)
	for rows.Next() {
		var (
			p      domain.Participant
			leftAt sql.NullTime
		)
		if err := rows.Scan(&p.MeetingID, &p.UserID, &p.OrgID, &p.Active, &p.JoinedAt, &leftAt); err != nil {
			return nil, err
		}
		p.LeftAt = nullTimePtr(leftAt)
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// CreateResource inserts a new exclusive sub-resource session. The partial
// unique index on (meeting_id, kind) WHERE active backstops the arbiter's
// at-most-one-active invariant.
func (r *Repository) CreateResource(ctx context.Context, resource *domain.MeetingResource) error {
	const query = `INSERT INTO meeting_resources (id, meeting_id, org_id, kind, started_by, active, recording_url, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		resource.ID,
		resource.MeetingID,
		resource.OrgID,
		resource.Kind,
		resource.StartedBy,
		resource.Active,
		emptyToNil(resource.RecordingURL),
		resource.StartedAt,
		timePtrToNil(resource.EndedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23503":
				return repository.ErrNotFound
			case "23505", "23514", "22P02":
				return repository.ErrInvalidArgument
			}
		}
		return err
	}
	return nil
}

// GetActiveResource returns the active session for a resource kind, if any.
func (r *Repository) GetActiveResource(ctx context.Context, meetingID, kind string) (*domain.MeetingResource, error) {
	const query = `SELECT id, meeting_id, org_id, kind, started_by, active, recording_url, started_at, ended_at
		FROM meeting_resources WHERE meeting_id = $1 AND kind = $2 AND active = TRUE`
	row := r.pool.QueryRow(ctx, query, meetingID, kind)
	resource, err := scanResource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return resource, nil
}

// StopActiveResource closes the active session for a resource kind and
// returns the closed row. ErrNotFound when nothing is active.
func (r *Repository) StopActiveResource(ctx context.Context, meetingID, kind string, endedAt time.Time, recordingURL string) (*domain.MeetingResource, error) {
	const query = `UPDATE meeting_resources
		SET active = FALSE,
			ended_at = $3,
			recording_url = COALESCE($4, recording_url)
		WHERE meeting_id = $1 AND kind = $2 AND active = TRUE
		RETURNING id, meeting_id, org_id, kind, started_by, active, recording_url, started_at, ended_at`
	row := r.pool.QueryRow(ctx, query, meetingID, kind, endedAt, emptyToNil(recordingURL))
	resource, err := scanResource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return resource, nil
}

func scanResource(row rowScanner) (*domain.MeetingResource, error) {
	var (
		res          domain.MeetingResource
		recordingURL sql.NullString
		endedAt      sql.NullTime
	)
	if err := row.Scan(
		&res.ID,
		&res.MeetingID,
		&res.OrgID,
		&res.Kind,
		&res.StartedBy,
		&res.Active,
		&recordingURL,
		&res.StartedAt,
		&endedAt,
	); err != nil {
		return nil, err
	}
	if recordingURL.Valid {
		res.RecordingURL = recordingURL.String
	}
	res.EndedAt = nullTimePtr(endedAt)
	return &res, nil
}

// CreateNote appends a note to the meeting log.
func (r *Repository) CreateNote(ctx context.Context, note *domain.Note) error {
	const query = `INSERT INTO meeting_notes (id, meeting_id, org_id, created_by, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query,
		note.ID,
		note.MeetingID,
		note.OrgID,
		note.CreatedBy,
		note.Content,
		note.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23503":
				return repository.ErrNotFound
			case "23514", "22P02":
				return repository.ErrInvalidArgument
			}
		}
		return err
	}
	return nil
}

// ListNotesByMeeting returns notes for a meeting scoped to the organization.
func (r *Repository) ListNotesByMeeting(ctx context.Context, meetingID, orgID string, limit int) ([]domain.Note, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, meeting_id, org_id, created_by, content, created_at
		FROM meeting_notes WHERE meeting_id = $1 AND org_id = $2 ORDER BY created_at DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, meetingID, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := make([]domain.Note, 0)
	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.MeetingID, &n.OrgID, &n.CreatedBy, &n.Content, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func emptyToNil(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func timePtrToNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time.UTC()
	return &value
}
