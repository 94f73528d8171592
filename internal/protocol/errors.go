package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrUnsupported      = errors.New("command not supported over bluetooth")
)

// ConnectionError reports a failed open, or an exchange attempted while the
// client is not connected.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CommandError reports a command that could not complete
type CommandError struct {
	Command string
	Reason  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Reason {
		return fmt.Sprintf("command %q %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("command %q %s", e.Command, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
