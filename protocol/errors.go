package protocol

import (
	"errors"
	"fmt"
)

// ErrRequestTimeout is returned when a correlated request gets no response
// in time.
var ErrRequestTimeout = errors.New("request timed out")

// ErrClosed is returned for requests pending when the connection closes.
var ErrClosed = errors.New("connection closed")

// RemoteError is a failure reported by the other side of the connection.
type RemoteError struct {
	Op      MessageType
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed remotely: %s", e.Op, e.Message)
}

// DecodeError is a line that could not be decoded. Readers skip these.
type DecodeError struct {
	Line []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
