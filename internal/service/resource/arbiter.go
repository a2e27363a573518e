package resource

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/huddle/internal/domain"
	"github.com/splax/huddle/internal/repository"
)

// Arbiter errors. All map to invalid-state at the transport layer.
var (
	ErrNotLive       = errors.New("resource can only start in a live meeting")
	ErrAlreadyActive = errors.New("resource already active")
	ErrNotActive     = errors.New("resource not active")
)

// Arbiter owns the exclusive sub-resources of a meeting. Screen share and
// recording are two instances of the same pattern, discriminated by kind;
// at most one active session exists per (meeting, kind).
type Arbiter struct {
	repo   repository.ResourceRepository
	logger *slog.Logger
}

// New constructs an Arbiter.
func New(repo repository.ResourceRepository, logger *slog.Logger) Arbiter {
	return Arbiter{repo: repo, logger: logger}
}

// Start opens a new session for the kind. The meeting must be live and no
// session of this kind may currently be active. Callers hold the meeting
// lock; the partial unique index backstops the exclusivity check.
func (a Arbiter) Start(ctx context.Context, meeting *domain.Meeting, kind, userID string) (*domain.MeetingResource, error) {
	if meeting.Status != domain.MeetingStatusLive {
		return nil, ErrNotLive
	}
	if _, err := a.repo.GetActiveResource(ctx, meeting.ID, kind); err == nil {
		return nil, ErrAlreadyActive
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	res := &domain.MeetingResource{
		ID:        uuid.NewString(),
		MeetingID: meeting.ID,
		OrgID:     meeting.OrgID,
		Kind:      kind,
		StartedBy: userID,
		Active:    true,
		StartedAt: time.Now().UTC(),
	}
	if err := a.repo.CreateResource(ctx, res); err != nil {
		if errors.Is(err, repository.ErrInvalidArgument) {
			return nil, ErrAlreadyActive
		}
		return nil, err
	}
	a.logger.Info("resource started", "meeting_id", meeting.ID, "kind", kind, "started_by", userID)
	return res, nil
}

// Stop closes the active session for the kind. Any participant may stop a
// running session, not only its starter. For recordings a non-empty URL is
// persisted on the closed row.
func (a Arbiter) Stop(ctx context.Context, meeting *domain.Meeting, kind, recordingURL string) (*domain.MeetingResource, error) {
	res, err := a.repo.StopActiveResource(ctx, meeting.ID, kind, time.Now().UTC(), recordingURL)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotActive
		}
		return nil, err
	}
	a.logger.Info("resource stopped", "meeting_id", meeting.ID, "kind", kind)
	return res, nil
}

// Snapshot returns the active session for the kind, or nil when none exists.
func (a Arbiter) Snapshot(ctx context.Context, meetingID, kind string) (*domain.MeetingResource, error) {
	res, err := a.repo.GetActiveResource(ctx, meetingID, kind)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}
