package participant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/splax/huddle/internal/domain"
	"github.com/splax/huddle/internal/repository"
)

type fakeParticipantRepo struct {
	rows map[string]domain.Participant

	createErr error
}

func newFakeParticipantRepo() *fakeParticipantRepo {
	return &fakeParticipantRepo{rows: make(map[string]domain.Participant)}
}

func rowKey(meetingID, userID string) string {
	return meetingID + "/" + userID
}

func (r *fakeParticipantRepo) CreateParticipant(_ context.Context, p *domain.Participant) error {
	if r.createErr != nil {
		return r.createErr
	}
	key := rowKey(p.MeetingID, p.UserID)
	if _, ok := r.rows[key]; ok {
		return repository.ErrInvalidArgument
	}
	r.rows[key] = *p
	return nil
}

func (r *fakeParticipantRepo) GetParticipant(_ context.Context, meetingID, userID string) (*domain.Participant, error) {
	p, ok := r.rows[rowKey(meetingID, userID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (r *fakeParticipantRepo) ReactivateParticipant(_ context.Context, meetingID, userID string, joinedAt time.Time) error {
	key := rowKey(meetingID, userID)
	p, ok := r.rows[key]
	if !ok {
		return repository.ErrNotFound
	}
	p.Active = true
	p.JoinedAt = joinedAt
	p.LeftAt = nil
	r.rows[key] = p
	return nil
}

func (r *fakeParticipantRepo) DeactivateParticipant(_ context.Context, meetingID, userID string, leftAt time.Time) error {
	key := rowKey(meetingID, userID)
	p, ok := r.rows[key]
	if !ok {
		return repository.ErrNotFound
	}
	p.Active = false
	p.LeftAt = &leftAt
	r.rows[key] = p
	return nil
}

func (r *fakeParticipantRepo) CountActiveParticipants(_ context.Context, meetingID string) (int, error) {
	count := 0
	for _, p := range r.rows {
		if p.MeetingID == meetingID && p.Active {
			count++
		}
	}
	return count, nil
}

func (r *fakeParticipantRepo) ListParticipantsByMeeting(_ context.Context, meetingID string) ([]domain.Participant, error) {
	var out []domain.Participant
	for _, p := range r.rows {
		if p.MeetingID == meetingID {
			out = append(out, p)
		}
	}
	return out, nil
}

func newTestRegistry() (Registry, *fakeParticipantRepo) {
	repo := newFakeParticipantRepo()
	return New(repo, slog.New(slog.NewTextHandler(io.Discard, nil))), repo
}

func testMeeting() *domain.Meeting {
	return &domain.Meeting{ID: "m-1", OrgID: "org-1", Status: domain.MeetingStatusLive}
}

func TestJoinOrReactivateFirstJoin(t *testing.T) {
	registry, repo := newTestRegistry()

	p, err := registry.JoinOrReactivate(context.Background(), testMeeting(), "alice")
	if err != nil {
		t.Fatalf("JoinOrReactivate returned error: %v", err)
	}
	if !p.Active {
		t.Fatal("expected new participant to be active")
	}
	if p.OrgID != "org-1" {
		t.Fatalf("expected org carried from meeting, got %q", p.OrgID)
	}
	if len(repo.rows) != 1 {
		t.Fatalf("expected one row, got %d", len(repo.rows))
	}
}

func TestJoinOrReactivateIdempotentWhileActive(t *testing.T) {
	registry, _ := newTestRegistry()
	meeting := testMeeting()

	first, err := registry.JoinOrReactivate(context.Background(), meeting, "alice")
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	second, err := registry.JoinOrReactivate(context.Background(), meeting, "alice")
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if !second.Active || !second.JoinedAt.Equal(first.JoinedAt) {
		t.Fatalf("expected join to be a no-op while active, got %+v", second)
	}
}

func TestJoinOrReactivateAfterLeave(t *testing.T) {
	registry, _ := newTestRegistry()
	meeting := testMeeting()

	if _, err := registry.JoinOrReactivate(context.Background(), meeting, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := registry.Leave(context.Background(), meeting.ID, "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	p, err := registry.JoinOrReactivate(context.Background(), meeting, "alice")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !p.Active || p.LeftAt != nil {
		t.Fatalf("expected reactivated row, got %+v", p)
	}
}

func TestRegisterInvitedDeduplicates(t *testing.T) {
	registry, repo := newTestRegistry()
	meeting := testMeeting()

	if _, err := registry.JoinOrReactivate(context.Background(), meeting, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	err := registry.RegisterInvited(context.Background(), meeting, []string{"alice", "bob", "bob", "", "carol"})
	if err != nil {
		t.Fatalf("RegisterInvited returned error: %v", err)
	}

	if len(repo.rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(repo.rows))
	}
	alice, err := registry.repo.GetParticipant(context.Background(), meeting.ID, "alice")
	if err != nil {
		t.Fatalf("get alice: %v", err)
	}
	if !alice.Active {
		t.Fatal("existing active row must not be downgraded by an invite")
	}
	bob, err := registry.repo.GetParticipant(context.Background(), meeting.ID, "bob")
	if err != nil {
		t.Fatalf("get bob: %v", err)
	}
	if bob.Active {
		t.Fatal("invited row should start inactive")
	}
}

func TestLeaveRequiresActiveRow(t *testing.T) {
	registry, _ := newTestRegistry()
	meeting := testMeeting()

	if err := registry.Leave(context.Background(), meeting.ID, "ghost"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant for missing row, got %v", err)
	}

	if _, err := registry.JoinOrReactivate(context.Background(), meeting, "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := registry.Leave(context.Background(), meeting.ID, "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := registry.Leave(context.Background(), meeting.ID, "alice"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant for double leave, got %v", err)
	}
}

func TestActiveCount(t *testing.T) {
	registry, _ := newTestRegistry()
	meeting := testMeeting()

	for _, user := range []string{"alice", "bob", "carol"} {
		if _, err := registry.JoinOrReactivate(context.Background(), meeting, user); err != nil {
			t.Fatalf("join %s: %v", user, err)
		}
	}
	if err := registry.Leave(context.Background(), meeting.ID, "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	count, err := registry.ActiveCount(context.Background(), meeting.ID)
	if err != nil {
		t.Fatalf("ActiveCount returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 active participants, got %d", count)
	}
}
