package note

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/huddle/internal/domain"
	"github.com/splax/huddle/internal/repository"
)

var errEmptyContent = errors.New("note content is required")

// Service appends and lists meeting notes. The note log is independent of
// the meeting state machine; notes can be added to ended meetings.
type Service struct {
	meetings repository.MeetingRepository
	notes    repository.NoteRepository
	logger   *slog.Logger
}

// New constructs a note service.
func New(meetings repository.MeetingRepository, notes repository.NoteRepository, logger *slog.Logger) Service {
	return Service{meetings: meetings, notes: notes, logger: logger}
}

// Add appends a note to the meeting log.
func (s Service) Add(ctx context.Context, meetingID, content string, auth domain.AuthContext) (*domain.Note, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errEmptyContent
	}
	meeting, err := s.meetings.GetMeeting(ctx, meetingID, auth.OrgID)
	if err != nil {
		return nil, err
	}
	n := &domain.Note{
		ID:        uuid.NewString(),
		MeetingID: meeting.ID,
		OrgID:     meeting.OrgID,
		CreatedBy: auth.UserID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.notes.CreateNote(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// List returns notes for a meeting, newest first.
func (s Service) List(ctx context.Context, meetingID string, limit int, auth domain.AuthContext) ([]domain.Note, error) {
	if _, err := s.meetings.GetMeeting(ctx, meetingID, auth.OrgID); err != nil {
		return nil, err
	}
	return s.notes.ListNotesByMeeting(ctx, meetingID, auth.OrgID, limit)
}
