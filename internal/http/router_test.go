package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/splax/huddle/internal/domain"
	"github.com/splax/huddle/internal/repository"
	"github.com/splax/huddle/internal/service/meeting"
	"github.com/splax/huddle/internal/service/note"
	"github.com/splax/huddle/internal/service/participant"
	"github.com/splax/huddle/internal/service/policy"
	"github.com/splax/huddle/internal/service/resource"
	"github.com/splax/huddle/internal/ws"
	jwtpkg "github.com/splax/huddle/pkg/jwt"
)

const testSecret = "router-test-secret"

type memStore struct {
	mu           sync.Mutex
	meetings     map[string]domain.Meeting
	participants map[string]domain.Participant
	resources    map[string]domain.MeetingResource
	notes        []domain.Note
}

func newMemStore() *memStore {
	return &memStore{
		meetings:     make(map[string]domain.Meeting),
		participants: make(map[string]domain.Participant),
		resources:    make(map[string]domain.MeetingResource),
	}
}

func (s *memStore) CreateMeeting(_ context.Context, m *domain.Meeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meetings[m.ID] = *m
	return nil
}

func (s *memStore) GetMeeting(_ context.Context, meetingID, orgID string) (*domain.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[meetingID]
	if !ok || m.OrgID != orgID {
		return nil, repository.ErrNotFound
	}
	copied := m
	return &copied, nil
}

func (s *memStore) ListMeetingsByOrg(_ context.Context, orgID string, limit int) ([]domain.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Meeting
	for _, m := range s.meetings {
		if m.OrgID == orgID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) UpdateMeetingStatus(_ context.Context, update repository.MeetingStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meetings[update.MeetingID]
	if !ok {
		return repository.ErrNotFound
	}
	m.Status = update.Status
	if update.ActualStart != nil {
		m.ActualStart = update.ActualStart
	}
	if update.ActualEnd != nil {
		m.ActualEnd = update.ActualEnd
	}
	s.meetings[update.MeetingID] = m
	return nil
}

func participantKey(meetingID, userID string) string { return meetingID + "/" + userID }

func (s *memStore) CreateParticipant(_ context.Context, p *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := participantKey(p.MeetingID, p.UserID)
	if _, ok := s.participants[key]; ok {
		return repository.ErrInvalidArgument
	}
	s.participants[key] = *p
	return nil
}

func (s *memStore) GetParticipant(_ context.Context, meetingID, userID string) (*domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantKey(meetingID, userID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (s *memStore) ReactivateParticipant(_ context.Context, meetingID, userID string, joinedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := participantKey(meetingID, userID)
	p, ok := s.participants[key]
	if !ok {
		return repository.ErrNotFound
	}
	p.Active = true
	p.JoinedAt = joinedAt
	p.LeftAt = nil
	s.participants[key] = p
	return nil
}

func (s *memStore) DeactivateParticipant(_ context.Context, meetingID, userID string, leftAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := participantKey(meetingID, userID)
	p, ok := s.participants[key]
	if !ok {
		return repository.ErrNotFound
	}
	p.Active = false
	p.LeftAt = &leftAt
	s.participants[key] = p
	return nil
}

func (s *memStore) CountActiveParticipants(_ context.Context, meetingID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, p := range s.participants {
		if p.MeetingID == meetingID && p.Active {
			count++
		}
	}
	return count, nil
}

func (s *memStore) ListParticipantsByMeeting(_ context.Context, meetingID string) ([]domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Participant
	for _, p := range s.participants {
		if p.MeetingID == meetingID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) CreateResource(_ context.Context, res *domain.MeetingResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := res.MeetingID + "/" + res.Kind
	if _, ok := s.resources[key]; ok {
		return repository.ErrInvalidArgument
	}
	s.resources[key] = *res
	return nil
}

func (s *memStore) GetActiveResource(_ context.Context, meetingID, kind string) (*domain.MeetingResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[meetingID+"/"+kind]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := res
	return &copied, nil
}

func (s *memStore) StopActiveResource(_ context.Context, meetingID, kind string, endedAt time.Time, recordingURL string) (*domain.MeetingResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := meetingID + "/" + kind
	res, ok := s.resources[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	delete(s.resources, key)
	res.Active = false
	res.EndedAt = &endedAt
	if recordingURL != "" {
		res.RecordingURL = recordingURL
	}
	copied := res
	return &copied, nil
}

func (s *memStore) CreateNote(_ context.Context, n *domain.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, *n)
	return nil
}

func (s *memStore) ListNotesByMeeting(_ context.Context, meetingID, orgID string, limit int) ([]domain.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Note
	for _, n := range s.notes {
		if n.MeetingID == meetingID && n.OrgID == orgID {
			out = append(out, n)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type noopNotifier struct{}

func (noopNotifier) Notify(domain.MeetingEvent) {}

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   int
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

func (rl *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	rl.mu.Lock()
	rl.calls++
	rl.mu.Unlock()
	if rl.allowFn != nil {
		return rl.allowFn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1, windowEnd: time.Now().Add(window)}
}

func (rl *rateLimiterStub) Close() {}

func setupRouter(t *testing.T, limiter RateLimiter) (*Router, *memStore) {
	t.Helper()
	store := newMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	meetingSvc := meeting.New(
		store,
		participant.New(store, logger),
		resource.New(store, logger),
		policy.StaticGate{Value: true},
		noopNotifier{},
		logger,
	)
	noteSvc := note.New(store, store, logger)
	router := NewRouter(logger, meetingSvc, noteSvc, ws.NewHub(), limiter, testSecret, nil)
	t.Cleanup(router.Close)
	return router, store
}

func issueToken(t *testing.T, userID, orgID string) string {
	t.Helper()
	token, err := jwtpkg.GenerateToken(userID, orgID, "member", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func doJSON(t *testing.T, router *Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response is not valid JSON: %v (%s)", err, rr.Body.String())
	}
	return payload
}

func TestRoutesRequireAuthentication(t *testing.T) {
	router, _ := setupRouter(t, &rateLimiterStub{})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/meetings"},
		{http.MethodGet, "/meetings"},
		{http.MethodPost, "/meetings/schedule"},
		{http.MethodPost, "/meetings/m-1/join"},
		{http.MethodGet, "/ws/meetings"},
	}
	for _, tc := range paths {
		rr := doJSON(t, router, tc.method, tc.path, "", nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s without token: expected 401, got %d", tc.method, tc.path, rr.Code)
		}
	}

	rr := doJSON(t, router, http.MethodGet, "/meetings", "not-a-jwt", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: expected 401, got %d", rr.Code)
	}
}

func TestCreateJoinLeaveFlow(t *testing.T) {
	router, _ := setupRouter(t, &rateLimiterStub{})
	token := issueToken(t, "alice", "org-1")

	rr := doJSON(t, router, http.MethodPost, "/meetings", token, map[string]any{
		"title":           "standup",
		"participant_ids": []string{"bob"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	created := decodeBody(t, rr)
	meetingID, _ := created["id"].(string)
	if meetingID == "" {
		t.Fatalf("missing meeting id in %v", created)
	}
	if created["status"] != domain.MeetingStatusLive {
		t.Fatalf("expected live status, got %v", created["status"])
	}

	rr = doJSON(t, router, http.MethodPost, "/meetings/"+meetingID+"/join", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("join: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	joined := decodeBody(t, rr)
	if joined["active"] != true {
		t.Fatalf("expected active participant, got %v", joined)
	}

	rr = doJSON(t, router, http.MethodPost, "/meetings/"+meetingID+"/leave", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("leave: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodGet, "/meetings/"+meetingID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	snapshot := decodeBody(t, rr)
	if snapshot["status"] != domain.MeetingStatusEnded {
		t.Fatalf("expected meeting ended after last leave, got %v", snapshot["status"])
	}
	if _, ok := snapshot["actual_end"]; !ok {
		t.Fatalf("expected actual_end in snapshot, got %v", snapshot)
	}
}

func TestScheduleEndpointValidation(t *testing.T) {
	router, _ := setupRouter(t, &rateLimiterStub{})
	token := issueToken(t, "alice", "org-1")

	rr := doJSON(t, router, http.MethodPost, "/meetings/schedule", token, map[string]any{
		"title": "planning",
		"start": time.Now().UTC().Add(2 * time.Hour).Format(time.RFC3339),
		"end":   time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted window, got %d (%s)", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodPost, "/meetings/schedule", token, map[string]any{
		"title": "planning",
		"start": time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
		"end":   time.Now().UTC().Add(2 * time.Hour).Format(time.RFC3339),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 for valid window, got %d (%s)", rr.Code, rr.Body.String())
	}
	if payload := decodeBody(t, rr); payload["status"] != domain.MeetingStatusScheduled {
		t.Fatalf("expected scheduled status, got %v", payload["status"])
	}
}

func TestErrorStatusMapping(t *testing.T) {
	router, _ := setupRouter(t, &rateLimiterStub{})
	token := issueToken(t, "alice", "org-1")

	rr := doJSON(t, router, http.MethodPost, "/meetings/does-not-exist/join", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown meeting join: expected 404, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodPost, "/meetings", token, map[string]any{"title": "standup"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rr.Code)
	}
	meetingID := decodeBody(t, rr)["id"].(string)

	rr = doJSON(t, router, http.MethodPost, "/meetings/"+meetingID+"/screen-share/stop", token, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("stop inactive share: expected 409, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodPost, "/meetings/"+meetingID+"/leave", token, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("leave without join: expected 403, got %d", rr.Code)
	}

	outsider := issueToken(t, "mallory", "org-2")
	rr = doJSON(t, router, http.MethodGet, "/meetings/"+meetingID, outsider, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("cross-tenant get: expected 404, got %d", rr.Code)
	}
}

func TestResourceEndpoints(t *testing.T) {
	router, _ := setupRouter(t, &rateLimiterStub{})
	token := issueToken(t, "alice", "org-1")

	rr := doJSON(t, router, http.MethodPost, "/meetings", token, map[string]any{"title": "standup"})
	meetingID := decodeBody(t, rr)["id"].(string)

	rr = doJSON(t, router, http.MethodPost, "/meetings/"+meetingID+"/recording/start", token, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("recording start: expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodPost, "/meetings/"+meetingID+"/recording/start", token, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("double recording start: expected 409, got %d", rr.Code)
	}

	rr = doJSON(t, router, http.MethodPost, "/meetings/"+meetingID+"/recording/stop", token, map[string]any{
		"recording_url": "https://cdn.example/rec.mp4",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("recording stop: expected 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	stopped := decodeBody(t, rr)
	if stopped["recording_url"] != "https://cdn.example/rec.mp4" {
		t.Fatalf("expected recording URL echoed, got %v", stopped)
	}
	if stopped["active"] != false {
		t.Fatalf("expected closed session, got %v", stopped)
	}
}

func TestNotesEndpoints(t *testing.T) {
	router, _ := setupRouter(t, &rateLimiterStub{})
	token := issueToken(t, "alice", "org-1")

	rr := doJSON(t, router, http.MethodPost, "/meetings", token, map[string]any{"title": "standup"})
	meetingID := decodeBody(t, rr)["id"].(string)

	rr = doJSON(t, router, http.MethodPost, "/meetings/"+meetingID+"/notes", token, map[string]any{
		"content": "action item: follow up",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add note: expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodGet, "/meetings/"+meetingID+"/notes", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list notes: expected 200, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	notes, ok := payload["notes"].([]any)
	if !ok || len(notes) != 1 {
		t.Fatalf("expected one note, got %v", payload)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	reset := time.Unix(1_950_000_000, 0)
	limiter := &rateLimiterStub{
		allowFn: func(key string, limit int, window time.Duration) rateDecision {
			return rateDecision{allowed: false, count: limit, windowEnd: reset}
		},
	}
	router, _ := setupRouter(t, limiter)
	token := issueToken(t, "alice", "org-1")

	rr := doJSON(t, router, http.MethodGet, "/meetings", token, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("unexpected remaining header: %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1950000000" {
		t.Fatalf("unexpected reset header: %q", got)
	}
}

func TestHealthzReportsComponents(t *testing.T) {
	store := newMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	meetingSvc := meeting.New(store, participant.New(store, logger), resource.New(store, logger), policy.StaticGate{Value: true}, noopNotifier{}, logger)
	noteSvc := note.New(store, store, logger)

	healthy := NewRouter(logger, meetingSvc, noteSvc, ws.NewHub(), &rateLimiterStub{}, testSecret, func(context.Context) error { return nil })
	t.Cleanup(healthy.Close)

	rr := httptest.NewRecorder()
	healthy.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", payload["status"])
	}

	degraded := NewRouter(logger, meetingSvc, noteSvc, ws.NewHub(), &rateLimiterStub{}, testSecret, func(context.Context) error { return context.DeadlineExceeded })
	t.Cleanup(degraded.Close)

	rr = httptest.NewRecorder()
	degraded.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
