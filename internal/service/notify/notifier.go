package notify

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/splax/huddle/internal/domain"
	"github.com/splax/huddle/internal/ws"
)

// durableTypes lists the event types that also go to the durable stream for
// cross-service fan-out. Everything else rides the realtime channel only.
var durableTypes = map[string]struct{}{
	domain.EventMeetingCreated:   {},
	domain.EventUserJoined:       {},
	domain.EventUserLeft:         {},
	domain.EventRecordingStarted: {},
	domain.EventRecordingStopped: {},
}

// Notifier fans out committed state changes. Both channels are best-effort:
// a failure is logged and dropped, never surfaced to the caller and never
// rolled back into the already-committed mutation.
type Notifier struct {
	hub     *ws.Hub
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	maxLen  int64
	timeout time.Duration
}

// New constructs a Notifier. The Redis client may be nil, in which case only
// realtime broadcast is performed.
func New(hub *ws.Hub, client *redis.Client, logger *slog.Logger, streamMaxLen int64) Notifier {
	if streamMaxLen <= 0 {
		streamMaxLen = 10000
	}
	return Notifier{
		hub:     hub,
		client:  client,
		logger:  logger,
		prefix:  "huddle:events:",
		maxLen:  streamMaxLen,
		timeout: 500 * time.Millisecond,
	}
}

// NewStream constructs a Redis client for the durable event stream.
func NewStream(addr, password string, db int) (*redis.Client, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Notify broadcasts the event to the meeting room and, for durable types,
// appends it to the per-type stream partitioned by organization.
func (n Notifier) Notify(event domain.MeetingEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("failed to marshal event payload", "type", event.Type, "error", err)
		return
	}
	if n.hub != nil {
		n.hub.Broadcast(event.MeetingID, payload)
	}
	if n.client == nil {
		return
	}
	if _, durable := durableTypes[event.Type]; !durable {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	err = n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.prefix + event.Type,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]any{
			"org_id":     event.OrgID,
			"meeting_id": event.MeetingID,
			"payload":    string(payload),
		},
	}).Err()
	if err != nil {
		n.logger.Warn("durable event publish failed", "type", event.Type, "meeting_id", event.MeetingID, "error", err)
	}
}

// Hub returns the websocket hub (useful for HTTP handlers).
func (n Notifier) Hub() *ws.Hub {
	return n.hub
}

// Close releases the stream connection.
func (n Notifier) Close() {
	if n.client != nil {
		_ = n.client.Close()
	}
}
