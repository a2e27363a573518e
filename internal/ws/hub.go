package ws

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages realtime subscriptions by meeting ID. A single goroutine owns
// the room map, so registration and fan-out never race.
type Hub struct {
	rooms     map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

// message couples payload with its meeting room.
type message struct {
	meetingID string
	payload   []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	meetingID string
	client    Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		rooms:     make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.rooms[sub.meetingID]; !ok {
				h.rooms[sub.meetingID] = make(map[Subscriber]struct{})
			}
			h.rooms[sub.meetingID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.rooms[sub.meetingID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.rooms, sub.meetingID)
				}
			}
		case msg := <-h.broadcast:
			if clients, ok := h.rooms[msg.meetingID]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.rooms, msg.meetingID)
				}
			}
		}
	}
}

// Register adds a client to a meeting room.
func (h *Hub) Register(meetingID string, client Subscriber) {
	h.register <- subscription{meetingID: meetingID, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(meetingID string, client Subscriber) {
	h.unreg <- subscription{meetingID: meetingID, client: client}
}

// Broadcast sends payload to every subscriber of the meeting room.
func (h *Hub) Broadcast(meetingID string, payload []byte) {
	h.broadcast <- message{meetingID: meetingID, payload: payload}
}
