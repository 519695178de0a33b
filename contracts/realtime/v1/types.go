package v1

import "time"

// JoinRoomPayload requests membership in a conversation room.
type JoinRoomPayload struct {
	Room string `json:"room"`
}

// SendMessagePayload requests creating a message in a room.
//
// ClientMsgID is a client-generated provisional token. Servers echo it back on
// messageSent and receiveMessage so the sender can correlate its pending entry
// without comparing message text.
type SendMessagePayload struct {
	Room        string `json:"room"`
	Content     string `json:"content"`
	To          string `json:"to"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// MessagePayload is a persisted message, as delivered by receiveMessage and by the
// REST history endpoint.
type MessagePayload struct {
	ID          string    `json:"_id"`
	ClientMsgID string    `json:"client_msg_id,omitempty"`
	Room        string    `json:"room,omitempty"`
	Sender      string    `json:"sender"`
	Receiver    string    `json:"receiver,omitempty"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}

// MessageSentPayload acknowledges persistence of a message to its sender.
type MessageSentPayload struct {
	ID          string    `json:"_id"`
	ClientMsgID string    `json:"client_msg_id,omitempty"`
	Room        string    `json:"room,omitempty"`
	Sender      string    `json:"sender"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
