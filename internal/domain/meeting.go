package domain

import "time"

// Meeting kinds.
const (
	MeetingKindInstant   = "instant"
	MeetingKindScheduled = "scheduled"
)

// Meeting statuses. Transitions are monotone: scheduled -> live -> ended
// (instant meetings begin at live). Ended is terminal.
const (
	MeetingStatusScheduled = "scheduled"
	MeetingStatusLive      = "live"
	MeetingStatusEnded     = "ended"
)

// Meeting is the aggregate root for one call session. Meetings are never
// deleted; they remain as historical records.
type Meeting struct {
	ID             string
	OrgID          string
	CreatedBy      string
	Title          string
	Description    string
	Kind           string
	Status         string
	TeamID         string
	ChannelID      string
	MeetingURL     string
	ScheduledStart *time.Time
	ScheduledEnd   *time.Time
	ActualStart    *time.Time
	ActualEnd      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Ended reports whether the meeting reached its terminal status.
func (m Meeting) Ended() bool {
	return m.Status == MeetingStatusEnded
}

// DueToStart reports whether a scheduled meeting has passed its start time.
func (m Meeting) DueToStart(now time.Time) bool {
	if m.Status != MeetingStatusScheduled || m.ScheduledStart == nil {
		return false
	}
	return !now.UTC().Before(m.ScheduledStart.UTC())
}

// MeetingSnapshot composes a meeting with its current child state for reads.
type MeetingSnapshot struct {
	Meeting      Meeting
	Participants []Participant
	ScreenShare  *MeetingResource
	Recording    *MeetingResource
}
