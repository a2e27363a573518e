package domain

import "time"

// Participant tracks a user's presence within a meeting. Active reflects the
// current connection, not historical membership; rows are reactivated on
// rejoin and never physically deleted.
// Primary key: (MeetingID, UserID).
type Participant struct {
	MeetingID string
	UserID    string
	OrgID     string
	Active    bool
	JoinedAt  time.Time
	LeftAt    *time.Time
}
