package meeting

import "sync"

// meetingLocker serializes state-changing operations per meeting. Every
// mutation runs single-writer for its meeting ID; entries are reference
// counted so idle meetings do not accumulate locks.
type meetingLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newMeetingLocker() *meetingLocker {
	return &meetingLocker{locks: make(map[string]*lockEntry)}
}

// acquire blocks until the caller holds the meeting's lock and returns the
// release function.
func (l *meetingLocker) acquire(meetingID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[meetingID]
	if !ok {
		entry = &lockEntry{}
		l.locks[meetingID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, meetingID)
		}
		l.mu.Unlock()
	}
}
