package remote

import (
	"errors"
	"fmt"
)

// ErrConversationNotFound is returned when the remote reports 404 for a
// conversation fetch. The reconciler tolerates a few of these before
// treating the conversation as deleted.
var ErrConversationNotFound = errors.New("conversation not found")

// StatusError carries a non-2xx HTTP response so callers can classify it.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned status %d", e.Code)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.Code, e.Body)
}

// StatusCode extracts the HTTP status from err, or 0 if err is not a
// StatusError (transport failures, timeouts).
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
