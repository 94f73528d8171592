// internal/transport/transport.go
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anova-service/internal/model"
)

// Delimiter terminates every request and response frame
const Delimiter byte = '\r'

var (
	ErrNotOpen       = errors.New("link not open")
	ErrTimeout       = errors.New("timed out waiting for response")
	ErrEmptyResponse = errors.New("empty response")
	ErrLinkLost      = errors.New("link lost during exchange")
	ErrBusy          = errors.New("link already has an active subscription")
)

// Link is a direct, stateful connection to the appliance that speaks the
// write/notify protocol.
type Link interface {
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool
	Write(ctx context.Context, data []byte) error
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription delivers notification fragments in arrival order until closed.
// The channel is closed when the subscription ends or the link drops.
type Subscription interface {
	Fragments() <-chan []byte
	Close() error
}

// Transport performs whole request/response exchanges for one appliance
type Transport interface {
	Mode() model.TransportMode
	Identity() model.Identity
	Open(ctx context.Context) error
	Close() error
	// Exchange sends frame (without delimiter) and returns the stripped reply
	Exchange(ctx context.Context, frame string, timeout time.Duration) (string, error)
}

// Error is a failure reported by a remote relay
type Error struct {
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("relay %s failed", e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WriteError is a write that kept failing after its retries
type WriteError struct {
	Attempts int
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Stats provides link-level statistics
type Stats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	Exchanges      int64         `json:"exchanges"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
}

func (s *Stats) record(latency time.Duration, written, read int, err error) {
	s.Exchanges++
	s.BytesWritten += int64(written)
	s.BytesRead += int64(read)
	s.LastActivity = time.Now()
	if err != nil {
		s.ErrorCount++
		return
	}
	if s.AverageLatency == 0 {
		s.AverageLatency = latency
	} else {
		s.AverageLatency = (s.AverageLatency + latency) / 2
	}
}
