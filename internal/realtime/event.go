package realtime

// Inbound message types accepted on a client connection.
const (
	MsgSubscribe      = "subscribe"
	MsgUnsubscribe    = "unsubscribe"
	MsgChatMessage    = "chat_message"
	MsgDataPreference = "data_preference"
	MsgPing           = "ping"
)

// Outbound event types pushed to a client connection.
const (
	EventInitialData           = "initial_data"
	EventSubscriptionConfirmed = "subscription_confirmed"
	EventUnsubscribeConfirmed  = "unsubscription_confirmed"
	EventChatMessage           = "chat_message"
	EventPong                  = "pong"
	EventPreferencesUpdated    = "preferences_updated"
)

// Event is the wire envelope for every outbound frame.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}
