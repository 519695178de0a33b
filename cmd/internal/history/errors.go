package history

import "errors"

var (
	// ErrHistoryFetchFailed matches every failed history request.
	ErrHistoryFetchFailed = errors.New("history: fetch failed")

	// ErrSessionExpired means the refresh credential was rejected and the stored
	// credentials were cleared. The user has to log in again.
	ErrSessionExpired = errors.New("history: session expired")
)

// FetchError carries the server's explanation for a failed request.
// Message is shown to the user verbatim.
type FetchError struct {
	// Status is the HTTP status, or 0 when the request never got a response.
	Status  int
	Message string
}

func (e *FetchError) Error() string { return e.Message }

func (e *FetchError) Unwrap() error { return ErrHistoryFetchFailed }
