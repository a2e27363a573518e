package meeting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/huddle/internal/domain"
	"github.com/splax/huddle/internal/repository"
	"github.com/splax/huddle/internal/service/participant"
	"github.com/splax/huddle/internal/service/policy"
	"github.com/splax/huddle/internal/service/resource"
)

// Lifecycle errors.
var (
	ErrPolicyDisabled  = errors.New("meetings are disabled for this organization")
	ErrMeetingEnded    = errors.New("meeting has ended")
	ErrInvalidSchedule = errors.New("invalid meeting schedule")

	errMissingTitle = errors.New("meeting title is required")
)

// Notifier receives committed state changes for best-effort fan-out.
type Notifier interface {
	Notify(event domain.MeetingEvent)
}

// CreateInput holds attributes shared by instant and scheduled creation.
type CreateInput struct {
	Title          string
	Description    string
	TeamID         string
	ChannelID      string
	MeetingURL     string
	ParticipantIDs []string
}

// ScheduleInput extends CreateInput with the planned window.
type ScheduleInput struct {
	CreateInput
	Start time.Time
	End   time.Time
}

// Service owns the meeting status state machine. Every state-changing
// operation for a meeting runs under that meeting's lock, so the
// check-then-act sequences (lazy start, auto-end, resource exclusivity)
// are single-writer. Reads bypass the lock and may observe a slightly
// stale snapshot.
type Service struct {
	meetings  repository.MeetingRepository
	registry  participant.Registry
	resources resource.Arbiter
	policy    policy.Gate
	notifier  Notifier
	logger    *slog.Logger
	locks     *meetingLocker
	now       func() time.Time
}

// New returns a meeting lifecycle service.
func New(meetings repository.MeetingRepository, registry participant.Registry, resources resource.Arbiter, gate policy.Gate, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		meetings:  meetings,
		registry:  registry,
		resources: resources,
		policy:    gate,
		notifier:  notifier,
		logger:    logger,
		locks:     newMeetingLocker(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateInstant creates a meeting that is live immediately. The creator and
// any invited users are registered as inactive participants; each must join
// explicitly to become active.
func (s *Service) CreateInstant(ctx context.Context, input CreateInput, auth domain.AuthContext) (*domain.Meeting, error) {
	if !s.policy.Enabled(ctx, auth.OrgID) {
		return nil, ErrPolicyDisabled
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, errMissingTitle
	}
	now := s.now()
	meeting := &domain.Meeting{
		ID:          uuid.NewString(),
		OrgID:       auth.OrgID,
		CreatedBy:   auth.UserID,
		Title:       input.Title,
		Description: input.Description,
		Kind:        domain.MeetingKindInstant,
		Status:      domain.MeetingStatusLive,
		TeamID:      input.TeamID,
		ChannelID:   input.ChannelID,
		MeetingURL:  input.MeetingURL,
		ActualStart: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.create(ctx, meeting, input.ParticipantIDs, auth); err != nil {
		return nil, err
	}
	return meeting, nil
}

// Schedule creates a meeting planned for a future window.
func (s *Service) Schedule(ctx context.Context, input ScheduleInput, auth domain.AuthContext) (*domain.Meeting, error) {
	if !s.policy.Enabled(ctx, auth.OrgID) {
		return nil, ErrPolicyDisabled
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, errMissingTitle
	}
	now := s.now()
	start := input.Start.UTC()
	end := input.End.UTC()
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: start and end are required", ErrInvalidSchedule)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: start must be before end", ErrInvalidSchedule)
	}
	if start.Before(now) {
		return nil, fmt.Errorf("%w: start is in the past", ErrInvalidSchedule)
	}
	meeting := &domain.Meeting{
		ID:             uuid.NewString(),
		OrgID:          auth.OrgID,
		CreatedBy:      auth.UserID,
		Title:          input.Title,
		Description:    input.Description,
		Kind:           domain.MeetingKindScheduled,
		Status:         domain.MeetingStatusScheduled,
		TeamID:         input.TeamID,
		ChannelID:      input.ChannelID,
		MeetingURL:     input.MeetingURL,
		ScheduledStart: &start,
		ScheduledEnd:   &end,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.create(ctx, meeting, input.ParticipantIDs, auth); err != nil {
		return nil, err
	}
	return meeting, nil
}

func (s *Service) create(ctx context.Context, meeting *domain.Meeting, participantIDs []string, auth domain.AuthContext) error {
	if err := s.meetings.CreateMeeting(ctx, meeting); err != nil {
		return err
	}
	invited := append([]string{auth.UserID}, participantIDs...)
	if err := s.registry.RegisterInvited(ctx, meeting, invited); err != nil {
		return err
	}
	s.logger.Info("meeting created", "meeting_id", meeting.ID, "org_id", meeting.OrgID, "kind", meeting.Kind, "created_by", auth.UserID)
	s.notifier.Notify(domain.MeetingEvent{
		Type:      domain.EventMeetingCreated,
		MeetingID: meeting.ID,
		OrgID:     meeting.OrgID,
		UserID:    auth.UserID,
		Status:    meeting.Status,
	})
	return nil
}

// Join adds the caller as an active participant. Joining a scheduled meeting
// past its start time flips it live as a side effect of this call; no timer
// drives that transition.
func (s *Service) Join(ctx context.Context, meetingID string, auth domain.AuthContext) (*domain.Participant, error) {
	var (
		joined *domain.Participant
		status string
	)
	err := s.withMeeting(ctx, meetingID, auth.OrgID, func(meeting *domain.Meeting) error {
		if meeting.Ended() {
			return ErrMeetingEnded
		}
		now := s.now()
		if meeting.DueToStart(now) {
			update := repository.MeetingStatusUpdate{
				MeetingID:   meeting.ID,
				Status:      domain.MeetingStatusLive,
				ActualStart: &now,
			}
			if err := s.meetings.UpdateMeetingStatus(ctx, update); err != nil {
				return err
			}
			meeting.Status = domain.MeetingStatusLive
			meeting.ActualStart = &now
			s.logger.Info("meeting went live", "meeting_id", meeting.ID, "org_id", meeting.OrgID)
		}
		p, err := s.registry.JoinOrReactivate(ctx, meeting, auth.UserID)
		if err != nil {
			return err
		}
		joined = p
		status = meeting.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(domain.MeetingEvent{
		Type:      domain.EventUserJoined,
		MeetingID: meetingID,
		OrgID:     auth.OrgID,
		UserID:    auth.UserID,
		Status:    status,
	})
	return joined, nil
}

// Leave marks the caller inactive. When the last active participant leaves a
// live meeting, the meeting ends in the same call; exactly one leave observes
// the zero count because leaves are serialized per meeting.
func (s *Service) Leave(ctx context.Context, meetingID string, auth domain.AuthContext) error {
	var status string
	err := s.withMeeting(ctx, meetingID, auth.OrgID, func(meeting *domain.Meeting) error {
		if err := s.registry.Leave(ctx, meeting.ID, auth.UserID); err != nil {
			return err
		}
		status = meeting.Status
		count, err := s.registry.ActiveCount(ctx, meeting.ID)
		if err != nil {
			return err
		}
		if count == 0 && meeting.Status == domain.MeetingStatusLive {
			now := s.now()
			update := repository.MeetingStatusUpdate{
				MeetingID: meeting.ID,
				Status:    domain.MeetingStatusEnded,
				ActualEnd: &now,
			}
			if err := s.meetings.UpdateMeetingStatus(ctx, update); err != nil {
				return err
			}
			status = domain.MeetingStatusEnded
			s.logger.Info("meeting ended", "meeting_id", meeting.ID, "org_id", meeting.OrgID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notifier.Notify(domain.MeetingEvent{
		Type:      domain.EventUserLeft,
		MeetingID: meetingID,
		OrgID:     auth.OrgID,
		UserID:    auth.UserID,
		Status:    status,
	})
	return nil
}

// StartScreenShare opens the exclusive screen share for the meeting.
func (s *Service) StartScreenShare(ctx context.Context, meetingID string, auth domain.AuthContext) (*domain.MeetingResource, error) {
	return s.startResource(ctx, meetingID, domain.ResourceKindScreenShare, domain.EventScreenShareStarted, auth)
}

// StopScreenShare closes the active screen share.
func (s *Service) StopScreenShare(ctx context.Context, meetingID string, auth domain.AuthContext) (*domain.MeetingResource, error) {
	return s.stopResource(ctx, meetingID, domain.ResourceKindScreenShare, domain.EventScreenShareStopped, "", auth)
}

// StartRecording opens the exclusive recording for the meeting.
func (s *Service) StartRecording(ctx context.Context, meetingID string, auth domain.AuthContext) (*domain.MeetingResource, error) {
	return s.startResource(ctx, meetingID, domain.ResourceKindRecording, domain.EventRecordingStarted, auth)
}

// StopRecording closes the active recording, persisting the URL when given.
func (s *Service) StopRecording(ctx context.Context, meetingID, recordingURL string, auth domain.AuthContext) (*domain.MeetingResource, error) {
	return s.stopResource(ctx, meetingID, domain.ResourceKindRecording, domain.EventRecordingStopped, recordingURL, auth)
}

func (s *Service) startResource(ctx context.Context, meetingID, kind, eventType string, auth domain.AuthContext) (*domain.MeetingResource, error) {
	var started *domain.MeetingResource
	err := s.withMeeting(ctx, meetingID, auth.OrgID, func(meeting *domain.Meeting) error {
		res, err := s.resources.Start(ctx, meeting, kind, auth.UserID)
		if err != nil {
			return err
		}
		started = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(domain.MeetingEvent{
		Type:      eventType,
		MeetingID: meetingID,
		OrgID:     auth.OrgID,
		UserID:    auth.UserID,
		Resource:  kind,
	})
	return started, nil
}

func (s *Service) stopResource(ctx context.Context, meetingID, kind, eventType, recordingURL string, auth domain.AuthContext) (*domain.MeetingResource, error) {
	var stopped *domain.MeetingResource
	err := s.withMeeting(ctx, meetingID, auth.OrgID, func(meeting *domain.Meeting) error {
		res, err := s.resources.Stop(ctx, meeting, kind, recordingURL)
		if err != nil {
			return err
		}
		stopped = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(domain.MeetingEvent{
		Type:      eventType,
		MeetingID: meetingID,
		OrgID:     auth.OrgID,
		UserID:    auth.UserID,
		Resource:  kind,
	})
	return stopped, nil
}

// Get composes the current meeting with participants and resource state.
// It is lock-free.
func (s *Service) Get(ctx context.Context, meetingID string, auth domain.AuthContext) (*domain.MeetingSnapshot, error) {
	meeting, err := s.meetings.GetMeeting(ctx, meetingID, auth.OrgID)
	if err != nil {
		return nil, err
	}
	participants, err := s.registry.List(ctx, meeting.ID)
	if err != nil {
		return nil, err
	}
	screenShare, err := s.resources.Snapshot(ctx, meeting.ID, domain.ResourceKindScreenShare)
	if err != nil {
		return nil, err
	}
	recording, err := s.resources.Snapshot(ctx, meeting.ID, domain.ResourceKindRecording)
	if err != nil {
		return nil, err
	}
	return &domain.MeetingSnapshot{
		Meeting:      *meeting,
		Participants: participants,
		ScreenShare:  screenShare,
		Recording:    recording,
	}, nil
}

// List returns recent meetings for the caller's organization.
func (s *Service) List(ctx context.Context, limit int, auth domain.AuthContext) ([]domain.Meeting, error) {
	return s.meetings.ListMeetingsByOrg(ctx, auth.OrgID, limit)
}

// withMeeting loads the meeting under its lock and runs fn while the lock is
// held. The tenant filter happens in the lookup, so cross-tenant calls fail
// with repository.ErrNotFound before fn runs.
func (s *Service) withMeeting(ctx context.Context, meetingID, orgID string, fn func(*domain.Meeting) error) error {
	release := s.locks.acquire(meetingID)
	defer release()

	meeting, err := s.meetings.GetMeeting(ctx, meetingID, orgID)
	if err != nil {
		return err
	}
	return fn(meeting)
}
