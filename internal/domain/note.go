package domain

import "time"

// Note is an append-only annotation attached to a meeting. Notes carry no
// state-machine coupling.
type Note struct {
	ID        string
	MeetingID string
	OrgID     string
	CreatedBy string
	Content   string
	CreatedAt time.Time
}
