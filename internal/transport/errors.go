package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the chat server. It carries the status
// code and any textual error body so callers can decide presentation.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server error (%d)", e.Status)
	}
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsAbort reports whether err stems from caller-initiated cancellation rather
// than a transport or server failure. Cancellation is never conflated with an
// error condition further up the stack.
func IsAbort(err error) bool {
	return errors.Is(err, context.Canceled)
}
