package participant

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/splax/huddle/internal/domain"
	"github.com/splax/huddle/internal/repository"
)

// ErrNotParticipant is returned when an operation requires an existing
// presence row for the caller and none exists, or the caller already left.
var ErrNotParticipant = errors.New("caller is not an active meeting participant")

// Registry owns presence rows for meetings.
type Registry struct {
	repo   repository.ParticipantRepository
	logger *slog.Logger
}

// New constructs a Registry.
func New(repo repository.ParticipantRepository, logger *slog.Logger) Registry {
	return Registry{repo: repo, logger: logger}
}

// JoinOrReactivate ensures the user has an active presence row. First join
// inserts an active row; a rejoin after leaving resets joined_at and clears
// left_at; joining while already active is a no-op.
func (r Registry) JoinOrReactivate(ctx context.Context, meeting *domain.Meeting, userID string) (*domain.Participant, error) {
	now := time.Now().UTC()
	existing, err := r.repo.GetParticipant(ctx, meeting.ID, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		p := &domain.Participant{
			MeetingID: meeting.ID,
			UserID:    userID,
			OrgID:     meeting.OrgID,
			Active:    true,
			JoinedAt:  now,
		}
		if err := r.repo.CreateParticipant(ctx, p); err != nil {
			return nil, err
		}
		return p, nil
	}
	if existing.Active {
		return existing, nil
	}
	if err := r.repo.ReactivateParticipant(ctx, meeting.ID, userID, now); err != nil {
		return nil, err
	}
	existing.Active = true
	existing.JoinedAt = now
	existing.LeftAt = nil
	return existing, nil
}

// RegisterInvited inserts inactive presence rows for users named at meeting
// creation. They become active only when they join themselves. Users who
// already have a row are skipped.
func (r Registry) RegisterInvited(ctx context.Context, meeting *domain.Meeting, userIDs []string) error {
	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(userIDs))
	for _, userID := range userIDs {
		if userID == "" {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		if _, err := r.repo.GetParticipant(ctx, meeting.ID, userID); err == nil {
			continue
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		p := &domain.Participant{
			MeetingID: meeting.ID,
			UserID:    userID,
			OrgID:     meeting.OrgID,
			Active:    false,
			JoinedAt:  now,
		}
		if err := r.repo.CreateParticipant(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Leave marks the caller's presence row inactive. It requires an existing,
// currently active row.
func (r Registry) Leave(ctx context.Context, meetingID, userID string) error {
	existing, err := r.repo.GetParticipant(ctx, meetingID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotParticipant
		}
		return err
	}
	if !existing.Active {
		return ErrNotParticipant
	}
	return r.repo.DeactivateParticipant(ctx, meetingID, userID, time.Now().UTC())
}

// ActiveCount returns the number of currently connected participants.
func (r Registry) ActiveCount(ctx context.Context, meetingID string) (int, error) {
	return r.repo.CountActiveParticipants(ctx, meetingID)
}

// List returns all presence rows for a meeting.
func (r Registry) List(ctx context.Context, meetingID string) ([]domain.Participant, error) {
	return r.repo.ListParticipantsByMeeting(ctx, meetingID)
}
