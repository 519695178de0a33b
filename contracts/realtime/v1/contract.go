// Package v1 defines the linkchat realtime protocol v1 contract.
//
// It is shared between the chat client core and the dev messaging server so both
// sides agree on one wire format. Keep it dependency-light.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "linkchat.realtime.v1"

// Type constants (wire-stable). The names match the event names the messaging
// server has always used.
const (
	// TypeJoinRoom requests membership in a conversation room (client -> server).
	TypeJoinRoom = "joinRoom"

	// TypeSendMessage requests creation of a message (client -> server).
	TypeSendMessage = "sendMessage"

	// TypeReceiveMessage delivers a persisted message to room members (server -> client).
	// The sender receives its own messages through this event as well.
	TypeReceiveMessage = "receiveMessage"

	// TypeMessageSent confirms persistence of a message to its sender (server -> client).
	TypeMessageSent = "messageSent"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeJoinRoom,
		TypeSendMessage,
		TypeReceiveMessage,
		TypeMessageSent,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// NewEnvelope builds a v1 envelope around an already-encoded payload.
func NewEnvelope(typ, id string, ts time.Time, payload json.RawMessage) Envelope {
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}

// Decode unmarshals the envelope payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", e.Type, err)
	}
	return nil
}
