package domain

import "time"

// Event types published to the durable stream and broadcast to meeting rooms.
const (
	EventMeetingCreated     = "MEETING_CREATED"
	EventUserJoined         = "USER_JOINED"
	EventUserLeft           = "USER_LEFT"
	EventRecordingStarted   = "RECORDING_STARTED"
	EventRecordingStopped   = "RECORDING_STOPPED"
	EventScreenShareStarted = "SCREEN_SHARE_STARTED"
	EventScreenShareStopped = "SCREEN_SHARE_STOPPED"
)

// MeetingEvent is the payload fanned out after a committed state change.
// The realtime room key is MeetingID; the durable stream is partitioned by
// OrgID.
type MeetingEvent struct {
	Type       string    `json:"type"`
	MeetingID  string    `json:"meeting_id"`
	OrgID      string    `json:"org_id"`
	UserID     string    `json:"user_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Resource   string    `json:"resource,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
