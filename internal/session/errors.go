package session

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// ConnectError reports a failure to establish the bidirectional stream
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to open recognition stream to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SourceReadError reports a failure of the audio source. Production stops
// and the session fails.
type SourceReadError struct {
	BytesRead int64
	Err       error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("audio source failed after %d bytes: %v", e.BytesRead, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// TransportError reports a failure on the established stream. Partial holds
// the final transcripts received before the failure.
type TransportError struct {
	Code    codes.Code
	Partial []string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("recognition stream failed (%s): %v", e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether a new session may succeed where err failed.
// An Unauthenticated transport error usually means the token expired.
func Retryable(err error) bool {
	var connectErr *ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		switch transportErr.Code {
		case codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
			return true
		}
	}
	return false
}
