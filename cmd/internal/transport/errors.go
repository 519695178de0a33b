package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthenticationMissing means no bearer credential was available when opening.
	ErrAuthenticationMissing = errors.New("transport: authentication missing")

	// ErrNotOpen is returned by writes while no connection is established.
	ErrNotOpen = errors.New("transport: session not open")

	// ErrRateLimited is returned when outbound sends exceed the client-side budget.
	ErrRateLimited = errors.New("transport: rate limited")

	// ErrSubprotocol means the server did not negotiate the realtime subprotocol.
	ErrSubprotocol = errors.New("transport: subprotocol not negotiated")
)

// ServerError is an error envelope pushed by the messaging server.
type ServerError struct {
	Code    string
	Message string
}

func (e ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}
