package domain

import "time"

// Exclusive sub-resource kinds. At most one active row per (meeting, kind).
const (
	ResourceKindScreenShare = "screen_share"
	ResourceKindRecording   = "recording"
)

// MeetingResource captures one session of an exclusive sub-resource
// (screen share or recording) inside a meeting. RecordingURL is only
// populated for the recording kind, when supplied at stop time.
type MeetingResource struct {
	ID           string
	MeetingID    string
	OrgID        string
	Kind         string
	StartedBy    string
	Active       bool
	RecordingURL string
	StartedAt    time.Time
	EndedAt      *time.Time
}
