package repository

import (
	"context"
	"time"

	"github.com/splax/huddle/internal/domain"
)

// MeetingStatusUpdate captures the mutable state-machine fields of a meeting.
type MeetingStatusUpdate struct {
	MeetingID   string
	Status      string
	ActualStart *time.Time
	ActualEnd   *time.Time
}

// MeetingRepository persists meeting aggregates. Meetings are never deleted.
type MeetingRepository interface {
	CreateMeeting(ctx context.Context, meeting *domain.Meeting) error
	GetMeeting(ctx context.Context, meetingID, orgID string) (*domain.Meeting, error)
	ListMeetingsByOrg(ctx context.Context, orgID string, limit int) ([]domain.Meeting, error)
	UpdateMeetingStatus(ctx context.Context, update MeetingStatusUpdate) error
}

// ParticipantRepository manages presence rows keyed by (meeting_id, user_id).
type ParticipantRepository interface {
	CreateParticipant(ctx context.Context, participant *domain.Participant) error
	GetParticipant(ctx context.Context, meetingID, userID string) (*domain.Participant, error)
	ReactivateParticipant(ctx context.Context, meetingID, userID string, joinedAt time.Time) error
	DeactivateParticipant(ctx context.Context, meetingID, userID string, leftAt time.Time) error
	CountActiveParticipants(ctx context.Context, meetingID string) (int, error)
	ListParticipantsByMeeting(ctx context.Context, meetingID string) ([]domain.Participant, error)
}

// ResourceRepository stores exclusive sub-resource sessions.
type ResourceRepository interface {
	CreateResource(ctx context.Context, resource *domain.MeetingResource) error
	GetActiveResource(ctx context.Context, meetingID, kind string) (*domain.MeetingResource, error)
	StopActiveResource(ctx context.Context, meetingID, kind string, endedAt time.Time, recordingURL string) (*domain.MeetingResource, error)
}

// NoteRepository handles the append-only note log.
type NoteRepository interface {
	CreateNote(ctx context.Context, note *domain.Note) error
	ListNotesByMeeting(ctx context.Context, meetingID, orgID string, limit int) ([]domain.Note, error)
}
