package realtime

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vantive/pulse/pkg/json"
)

// ErrSlowClient is returned when a connection's outbound buffer is full. The
// frame is dropped for that connection only.
var ErrSlowClient = errors.New("outbound buffer full, frame dropped")

// ErrSinkClosed is returned when sending on a connection that has been
// disconnected. Fan-out may still hold a snapshot that includes it.
var ErrSinkClosed = errors.New("connection closed")

// EventIngestor accepts a raw domain event at the transport boundary.
type EventIngestor interface {
	Ingest(domain string, payload map[string]interface{}) error
}

const sendBufferSize = 32

// wsSink adapts a websocket connection to the Sink interface. Each sink owns
// a buffered outgoing channel drained by a single write goroutine, so
// per-connection delivery order follows publish order and a slow connection
// delays only itself. The send channel is never closed: fan-out snapshots
// can outlive a disconnect, so Close only flips the closed flag and Send
// checks it under the same mutex.
type wsSink struct {
	conn *websocket.Conn
	send chan Event
	done chan struct{}
	log  *zap.Logger

	mu     sync.Mutex
	closed bool
}

func newWSSink(conn *websocket.Conn, log *zap.Logger) *wsSink {
	s := &wsSink{
		conn: conn,
		send: make(chan Event, sendBufferSize),
		done: make(chan struct{}),
		log:  log,
	}
	go s.writeLoop()
	return s
}

func (s *wsSink) writeLoop() {
	defer func() {
		_ = s.Close()
		if err := s.conn.Close(); err != nil {
			s.log.Debug("websocket close failed", zap.Error(err))
		}
	}()
	for {
		select {
		case <-s.done:
			return
		case event := <-s.send:
			if err := s.conn.WriteJSON(event); err != nil {
				s.log.Warn("websocket write failed, closing client", zap.Error(err))
				return
			}
		}
	}
}

func (s *wsSink) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.send <- event:
		return nil
	default:
		return ErrSlowClient
	}
}

func (s *wsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

// Handler upgrades /ws/{user_id} requests and speaks the JSON wire protocol:
// inbound frames carry a required type discriminator (subscribe, unsubscribe,
// chat_message, data_preference, ping); unknown types are logged and ignored.
type Handler struct {
	registry    *Registry
	broadcaster *Broadcaster
	ingestor    EventIngestor
	log         *zap.Logger
	upgrader    websocket.Upgrader
}

// NewHandler creates the WebSocket transport handler.
func NewHandler(registry *Registry, broadcaster *Broadcaster, ingestor EventIngestor, log *zap.Logger) *Handler {
	return &Handler{
		registry:    registry,
		broadcaster: broadcaster,
		ingestor:    ingestor,
		log:         log.With(zap.String("module", "websocket")),
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(log),
		},
	}
}

func checkOrigin(log *zap.Logger) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}

		allowedOrigins := os.Getenv("WS_ALLOWED_ORIGINS")
		if allowedOrigins == "" {
			allowedOrigins = "localhost,127.0.0.1"
		}

		originHost := origin
		if strings.Contains(origin, "://") {
			parts := strings.Split(origin, "://")
			if len(parts) != 2 {
				return false
			}
			originHost = parts[1]
		}
		if strings.Contains(originHost, ":") {
			originHost = strings.Split(originHost, ":")[0]
		}

		for _, allowed := range strings.Split(allowedOrigins, ",") {
			if allowed == "*" || allowed == originHost {
				return true
			}
			if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(originHost, allowed[1:]) {
				return true
			}
		}

		log.Warn("Rejected WebSocket connection",
			zap.String("origin", origin),
			zap.String("allowed_origins", allowedOrigins))
		return false
	}
}

// ServeHTTP handles /ws/{user_id}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimPrefix(r.URL.Path, "/ws/")
	if userID == "" || strings.Contains(userID, "/") {
		w.WriteHeader(http.StatusNotFound)
		h.log.Warn("websocket connection attempt with invalid path", zap.String("path", r.URL.Path))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", zap.Error(err), zap.String("user_id", userID))
		return
	}

	sink := newWSSink(conn, h.log.With(zap.String("user_id", userID)))
	session := h.registry.Connect(userID, sink)
	defer h.registry.Disconnect(session.ID)

	if err := session.Send(Event{
		Type: EventInitialData,
		Payload: map[string]interface{}{
			"connection_id": session.ID,
			"connected_at":  session.ConnectedAt.Format(time.RFC3339),
		},
	}); err != nil {
		h.log.Warn("failed to send initial data", zap.String("connection_id", session.ID), zap.Error(err))
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			h.log.Debug("websocket read error or connection closed",
				zap.Error(err),
				zap.String("connection_id", session.ID))
			return
		}
		session.Touch(time.Now())
		h.handleMessage(session, msg)
	}
}

type inboundMessage struct {
	Type    string                 `json:"type"`
	Topic   string                 `json:"topic,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

func (h *Handler) handleMessage(session *Session, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.Warn("invalid JSON from websocket client",
			zap.Error(err),
			zap.String("connection_id", session.ID))
		return
	}

	switch msg.Type {
	case MsgSubscribe:
		ack, ok := h.registry.Subscribe(session.ID, msg.Topic)
		if ok {
			h.reply(session, ack)
		}
	case MsgUnsubscribe:
		ack, ok := h.registry.Unsubscribe(session.ID, msg.Topic)
		if ok {
			h.reply(session, ack)
		}
	case MsgChatMessage:
		h.handleChat(session, msg.Payload)
	case MsgDataPreference:
		for k, v := range msg.Payload {
			session.SetPreference(k, v)
		}
		h.reply(session, Event{Type: EventPreferencesUpdated, Payload: session.Preferences()})
	case MsgPing:
		h.reply(session, Event{Type: EventPong})
	default:
		h.log.Info("unknown websocket message type",
			zap.String("type", msg.Type),
			zap.String("connection_id", session.ID))
	}
}

func (h *Handler) handleChat(session *Session, payload map[string]interface{}) {
	room, _ := payload["room"].(string)
	text, _ := payload["text"].(string)
	if room == "" || text == "" {
		h.log.Warn("chat message missing room or text", zap.String("connection_id", session.ID))
		return
	}

	message := map[string]interface{}{
		"room":    room,
		"from":    session.UserID,
		"text":    text,
		"sent_at": time.Now().Format(time.RFC3339),
	}

	// Live delivery to the room, plus buffering for the chat stream processor.
	h.broadcaster.Publish("chat:"+room, EventChatMessage, message)
	if err := h.ingestor.Ingest("chat", message); err != nil {
		h.log.Warn("failed to buffer chat event",
			zap.String("room", room),
			zap.Error(err))
	}
}

func (h *Handler) reply(session *Session, event Event) {
	if err := session.Send(event); err != nil {
		h.log.Warn("failed to send reply",
			zap.String("type", event.Type),
			zap.String("connection_id", session.ID),
			zap.Error(err))
	}
}
