// Package chat holds the message model shared by the transport, the reconciler,
// and the conversation controller.
package chat

import (
	"strings"
	"time"

	v1 "linkchat/contracts/realtime/v1"
)

// Status is the delivery status of a locally authored message.
// Values are ordered: a message only ever moves to a higher status.
type Status uint8

const (
	// StatusNone marks peer-authored messages, which carry no status badge.
	StatusNone Status = iota
	StatusSending
	StatusSent
	StatusDelivered
	StatusRead
)

func (s Status) String() string {
	switch s {
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return ""
	}
}

// Advance returns the later of s and next.
func (s Status) Advance(next Status) Status {
	if next > s {
		return next
	}
	return s
}

// Message is one entry of a conversation timeline.
type Message struct {
	// ID is server-assigned and empty until acknowledged.
	ID string
	// ClientMsgID is the provisional token minted when the message was composed locally.
	ClientMsgID string

	Room      string
	Sender    string
	Recipient string
	Content   string
	Timestamp time.Time
	Status    Status
}

// Key is the deduplication identity: (id-or-content, sender). Unacknowledged
// local messages are identified by their client token instead of their content,
// so two identical sends stay distinct.
func (m Message) Key() string {
	switch {
	case m.ID != "":
		return "id:" + m.ID + "\x00" + m.Sender
	case m.ClientMsgID != "":
		return "token:" + m.ClientMsgID + "\x00" + m.Sender
	default:
		return "content:" + m.Content + "\x00" + m.Sender
	}
}

// SameText reports whether m and o have the same author and body.
func (m Message) SameText(o Message) bool {
	return m.Sender == o.Sender && m.Content == o.Content
}

// Ack is the server confirmation that a locally sent message was persisted.
type Ack struct {
	ID          string
	ClientMsgID string
	Room        string
	Sender      string
	Content     string
	Timestamp   time.Time
}

// NormalizeContent trims the body the way the server does before persisting it.
func NormalizeContent(s string) string {
	return strings.TrimSpace(s)
}

// FromPayload converts a wire message into a Message. Status is left unset; the
// reconciler decides it from the source the message came from.
func FromPayload(p v1.MessagePayload) Message {
	return Message{
		ID:          p.ID,
		ClientMsgID: p.ClientMsgID,
		Room:        p.Room,
		Sender:      p.Sender,
		Recipient:   p.Receiver,
		Content:     p.Content,
		Timestamp:   p.Timestamp,
	}
}

// AckFromPayload converts a messageSent payload into an Ack.
func AckFromPayload(p v1.MessageSentPayload) Ack {
	return Ack{
		ID:          p.ID,
		ClientMsgID: p.ClientMsgID,
		Room:        p.Room,
		Sender:      p.Sender,
		Content:     p.Content,
		Timestamp:   p.Timestamp,
	}
}
