package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/huddle/internal/domain"
	"github.com/splax/huddle/internal/repository"
	"github.com/splax/huddle/internal/service/meeting"
	"github.com/splax/huddle/internal/service/note"
	"github.com/splax/huddle/internal/service/participant"
	"github.com/splax/huddle/internal/service/resource"
	"github.com/splax/huddle/internal/ws"
)

// Router wires HTTP endpoints to the meeting engine.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	meetings  *meeting.Service
	notes     note.Service
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	jwtSecret string
	dbHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	wsSessions         prometheus.Gauge
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitWrite     = 60
	rateLimitRead      = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, meetingSvc *meeting.Service, noteSvc note.Service, hub *ws.Hub, limiter RateLimiter, jwtSecret string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		meetings: meetingSvc,
		notes:    noteSvc,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:   limiter,
		jwtSecret: jwtSecret,
		dbHealth:  dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/meetings", r.audit("/meetings", r.handlerAuthRate("/meetings", rateLimitWrite, rateWindowDefault, r.handleMeetings)))
	r.mux.HandleFunc("/meetings/schedule", r.audit("/meetings/schedule", r.handlerAuthRate("/meetings/schedule", rateLimitWrite, rateWindowDefault, r.handleSchedule)))
	r.mux.HandleFunc("/meetings/", r.audit("/meetings/*", r.handlerAuthRate("/meetings/*", rateLimitWrite, rateWindowDefault, r.handleMeetingSubroutes)))
	r.mux.HandleFunc("/ws/meetings", r.audit("/ws/meetings", r.handlerAuthRate("/ws/meetings", rateLimitWebsocket, rateWindowRealtime, r.handleMeetingsWS)))
}

func (r *Router) handleMeetings(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.handleCreateInstant(w, req)
	case http.MethodGet:
		r.handleListMeetings(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

type createPayload struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	TeamID         string   `json:"team_id"`
	ChannelID      string   `json:"channel_id"`
	MeetingURL     string   `json:"meeting_url"`
	ParticipantIDs []string `json:"participant_ids"`
}

func (p createPayload) toInput() meeting.CreateInput {
	return meeting.CreateInput{
		Title:          p.Title,
		Description:    p.Description,
		TeamID:         p.TeamID,
		ChannelID:      p.ChannelID,
		MeetingURL:     p.MeetingURL,
		ParticipantIDs: p.ParticipantIDs,
	}
}

func (r *Router) handleCreateInstant(w http.ResponseWriter, req *http.Request) {
	auth, ok := r.mustAuth(w, req)
	if !ok {
		return
	}
	var payload createPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	created, err := r.meetings.CreateInstant(req.Context(), payload.toInput(), auth)
	if err != nil {
		r.writeMeetingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meetingPayload(*created))
}

func (r *Router) handleSchedule(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	auth, ok := r.mustAuth(w, req)
	if !ok {
		return
	}
	var payload struct {
		createPayload
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	created, err := r.meetings.Schedule(req.Context(), meeting.ScheduleInput{
		CreateInput: payload.toInput(),
		Start:       payload.Start,
		End:         payload.End,
	}, auth)
	if err != nil {
		r.writeMeetingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meetingPayload(*created))
}

func (r *Router) handleListMeetings(w http.ResponseWriter, req *http.Request) {
	auth, ok := r.mustAuth(w, req)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	meetings, err := r.meetings.List(req.Context(), limit, auth)
	if err != nil {
		r.writeMeetingError(w, err)
		return
	}
	items := make([]map[string]any, 0, len(meetings))
	for _, m := range meetings {
		items = append(items, meetingPayload(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"meetings": items})
}

func (r *Router) handleMeetingSubroutes(w http.ResponseWriter, req *http.Request) {
	auth, ok := r.mustAuth(w, req)
	if !ok {
		return
	}
	rest := strings.Trim(strings.TrimPrefix(req.URL.Path, "/meetings/"), "/")
	segments := strings.Split(rest, "/")
	meetingID := segments[0]
	if meetingID == "" {
		r.notFound(w)
		return
	}
	action := strings.Join(segments[1:], "/")

	switch action {
	case "":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		r.handleGetMeeting(w, req, meetingID, auth)
	case "join":
		r.postOnly(w, req, func() { r.handleJoin(w, req, meetingID, auth) })
	case "leave":
		r.postOnly(w, req, func() { r.handleLeave(w, req, meetingID, auth) })
	case "screen-share/start":
		r.postOnly(w, req, func() { r.handleResourceStart(w, req, meetingID, domain.ResourceKindScreenShare, auth) })
	case "screen-share/stop":
		r.postOnly(w, req, func() { r.handleResourceStop(w, req, meetingID, domain.ResourceKindScreenShare, auth) })
	case "recording/start":
		r.postOnly(w, req, func() { r.handleResourceStart(w, req, meetingID, domain.ResourceKindRecording, auth) })
	case "recording/stop":
		r.postOnly(w, req, func() { r.handleResourceStop(w, req, meetingID, domain.ResourceKindRecording, auth) })
	case "notes":
		r.handleNotes(w, req, meetingID, auth)
	default:
		r.notFound(w)
	}
}

func (r *Router) postOnly(w http.ResponseWriter, req *http.Request, fn func()) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	fn()
}

func (r *Router) handleGetMeeting(w http.ResponseWriter, req *http.Request, meetingID string, auth domain.AuthContext) {
	snapshot, err := r.meetings.Get(req.Context(), meetingID, auth)
	if err != nil {
		r.writeMeetingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotPayload(snapshot))
}

func (r *Router) handleJoin(w http.ResponseWriter, req *http.Request, meetingID string, auth domain.AuthContext) {
	joined, err := r.meetings.Join(req.Context(), meetingID, auth)
	if err != nil {
		r.writeMeetingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participantPayload(*joined))
}

func (r *Router) handleLeave(w http.ResponseWriter, req *http.Request, meetingID string, auth domain.AuthContext) {
	if err := r.meetings.Leave(req.Context(), meetingID, auth); err != nil {
		r.writeMeetingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func (r *Router) handleResourceStart(w http.ResponseWriter, req *http.Request, meetingID, kind string, auth domain.AuthContext) {
	var (
		res *domain.MeetingResource
		err error
	)
	if kind == domain.ResourceKindRecording {
		res, err = r.meetings.StartRecording(req.Context(), meetingID, auth)
	} else {
		res, err = r.meetings.StartScreenShare(req.Context(), meetingID, auth)
	}
	if err != nil {
		r.writeMeetingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resourcePayload(res))
}

func (r *Router) handleResourceStop(w http.ResponseWriter, req *http.Request, meetingID, kind string, auth domain.AuthContext) {
	var (
		res *domain.MeetingResource
		err error
	)
	if kind == domain.ResourceKindRecording {
		var payload struct {
			RecordingURL string `json:"recording_url"`
		}
		if req.Body != nil {
			_ = json.NewDecoder(req.Body).Decode(&payload)
		}
		res, err = r.meetings.StopRecording(req.Context(), meetingID, payload.RecordingURL, auth)
	} else {
		res, err = r.meetings.StopScreenShare(req.Context(), meetingID, auth)
	}
	if err != nil {
		r.writeMeetingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resourcePayload(res))
}

func (r *Router) handleNotes(w http.ResponseWriter, req *http.Request, meetingID string, auth domain.AuthContext) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.notes.Add(req.Context(), meetingID, payload.Content, auth)
		if err != nil {
			r.writeMeetingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, notePayload(*created))
	case http.MethodGet:
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		notes, err := r.notes.List(req.Context(), meetingID, limit, auth)
		if err != nil {
			r.writeMeetingError(w, err)
			return
		}
		items := make([]map[string]any, 0, len(notes))
		for _, n := range notes {
			items = append(items, notePayload(n))
		}
		writeJSON(w, http.StatusOK, map[string]any{"notes": items})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleMeetingsWS(w http.ResponseWriter, req *http.Request) {
	auth, ok := r.mustAuth(w, req)
	if !ok {
		return
	}
	meetingID := req.URL.Query().Get("meeting_id")
	if meetingID == "" {
		writeError(w, http.StatusBadRequest, "meeting_id query parameter required")
		return
	}
	// visibility check before subscribing: cross-tenant IDs read as missing
	if _, err := r.meetings.Get(req.Context(), meetingID, auth); err != nil {
		r.writeMeetingError(w, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(meetingID, client)
	r.recordWSSession(1)
	go func() {
		defer func() {
			r.hub.Unregister(meetingID, client)
			client.Close()
			r.recordWSSession(-1)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	status := "ok"
	components := map[string]any{}
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) mustAuth(w http.ResponseWriter, req *http.Request) (domain.AuthContext, bool) {
	auth, ok := authFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return domain.AuthContext{}, false
	}
	return auth, true
}

// writeMeetingError maps engine errors onto HTTP statuses.
func (r *Router) writeMeetingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "meeting not found")
	case errors.Is(err, meeting.ErrPolicyDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, participant.ErrNotParticipant):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, meeting.ErrMeetingEnded),
		errors.Is(err, resource.ErrNotLive),
		errors.Is(err, resource.ErrAlreadyActive),
		errors.Is(err, resource.ErrNotActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, meeting.ErrInvalidSchedule), errors.Is(err, repository.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		r.logger.Error("request failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func meetingPayload(m domain.Meeting) map[string]any {
	payload := map[string]any{
		"id":          m.ID,
		"org_id":      m.OrgID,
		"created_by":  m.CreatedBy,
		"title":       m.Title,
		"description": m.Description,
		"kind":        m.Kind,
		"status":      m.Status,
		"created_at":  m.CreatedAt.Format(time.RFC3339Nano),
	}
	if m.TeamID != "" {
		payload["team_id"] = m.TeamID
	}
	if m.ChannelID != "" {
		payload["channel_id"] = m.ChannelID
	}
	if m.MeetingURL != "" {
		payload["meeting_url"] = m.MeetingURL
	}
	putTime(payload, "scheduled_start", m.ScheduledStart)
	putTime(payload, "scheduled_end", m.ScheduledEnd)
	putTime(payload, "actual_start", m.ActualStart)
	putTime(payload, "actual_end", m.ActualEnd)
	return payload
}

func participantPayload(p domain.Participant) map[string]any {
	payload := map[string]any{
		"meeting_id": p.MeetingID,
		"user_id":    p.UserID,
		"active":     p.Active,
		"joined_at":  p.JoinedAt.Format(time.RFC3339Nano),
	}
	putTime(payload, "left_at", p.LeftAt)
	return payload
}

func resourcePayload(res *domain.MeetingResource) map[string]any {
	payload := map[string]any{
		"id":         res.ID,
		"meeting_id": res.MeetingID,
		"kind":       res.Kind,
		"started_by": res.StartedBy,
		"active":     res.Active,
		"started_at": res.StartedAt.Format(time.RFC3339Nano),
	}
	if res.RecordingURL != "" {
		payload["recording_url"] = res.RecordingURL
	}
	putTime(payload, "ended_at", res.EndedAt)
	return payload
}

func notePayload(n domain.Note) map[string]any {
	return map[string]any{
		"id":         n.ID,
		"meeting_id": n.MeetingID,
		"created_by": n.CreatedBy,
		"content":    n.Content,
		"created_at": n.CreatedAt.Format(time.RFC3339Nano),
	}
}

func snapshotPayload(s *domain.MeetingSnapshot) map[string]any {
	participants := make([]map[string]any, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, participantPayload(p))
	}
	payload := meetingPayload(s.Meeting)
	payload["participants"] = participants
	if s.ScreenShare != nil {
		payload["screen_share"] = resourcePayload(s.ScreenShare)
	}
	if s.Recording != nil {
		payload["recording"] = resourcePayload(s.Recording)
	}
	return payload
}

func putTime(payload map[string]any, key string, t *time.Time) {
	if t == nil {
		return
	}
	payload[key] = t.UTC().Format(time.RFC3339Nano)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if auth, ok := authFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", auth.UserID, "org_id", auth.OrgID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
