package realtime

import (
	"context"
	"errors"
	"time"

	v1 "linkchat/contracts/realtime/v1"
)

// ErrInvalidMessage is returned by stores for inputs missing required fields.
var ErrInvalidMessage = errors.New("invalid message")

// StoredMessage is the canonical persisted message.
type StoredMessage struct {
	ID          string
	ClientMsgID string
	Room        string
	Sender      string
	Receiver    string
	Content     string
	Timestamp   time.Time
}

// Payload renders the message for receiveMessage and the history endpoint.
func (m StoredMessage) Payload() v1.MessagePayload {
	return v1.MessagePayload{
		ID:          m.ID,
		ClientMsgID: m.ClientMsgID,
		Room:        m.Room,
		Sender:      m.Sender,
		Receiver:    m.Receiver,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
	}
}

// Ack renders the messageSent confirmation for the sender.
func (m StoredMessage) Ack() v1.MessageSentPayload {
	return v1.MessageSentPayload{
		ID:          m.ID,
		ClientMsgID: m.ClientMsgID,
		Room:        m.Room,
		Sender:      m.Sender,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
	}
}

// MessageStore persists and queries messages.
//
// Requirements:
//   - Idempotency per (room, sender, client_msg_id) when client_msg_id is set
//   - Between returns a conversation in append order
type MessageStore interface {
	Append(ctx context.Context, in AppendInput) (AppendResult, error)
	Between(ctx context.Context, a, b string) ([]StoredMessage, error)
	Close() error
}

// AppendInput describes a message append request.
type AppendInput struct {
	Room        string
	ClientMsgID string
	Sender      string
	Receiver    string
	Content     string
	Now         time.Time
}

// AppendResult is the append outcome. Duplicated is set when the same
// client_msg_id was already stored for this sender and room.
type AppendResult struct {
	Stored     StoredMessage
	Duplicated bool
}
