// Package transporttest provides an in-memory Link that answers writes with
// scripted notification fragments.
package transporttest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"anova-service/internal/transport"
)

// ErrWrite is returned by scripted write failures
var ErrWrite = errors.New("scripted write failure")

// Responder maps a written frame (delimiter stripped) to reply fragments.
// A nil result sends nothing.
type Responder func(frame string) [][]byte

// Split returns a responder that always answers reply cut into pieces of size n
func Split(reply string, n int) Responder {
	return func(string) [][]byte {
		return Chunk([]byte(reply), n)
	}
}

// Chunk cuts data into fragments of at most n bytes
func Chunk(data []byte, n int) [][]byte {
	var fragments [][]byte
	for len(data) > n {
		fragments = append(fragments, data[:n])
		data = data[n:]
	}
	return append(fragments, data)
}

// Link is a fake transport.Link
type Link struct {
	Respond       Responder
	OpenErr       error
	WriteFailures int
	ReplyDelay    time.Duration

	mu            sync.Mutex
	open          bool
	active        *transport.Stream
	writes        []string
	subscriptions int
	closedSubs    int
	inFlight      int
	maxInFlight   int
}

// New creates an open-able fake link
func New(respond Responder) *Link {
	return &Link{Respond: respond}
}

func (l *Link) Open(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.OpenErr != nil {
		return l.OpenErr
	}
	l.open = true
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	active := l.active
	l.open = false
	l.mu.Unlock()

	if active != nil {
		active.Close()
	}
	return nil
}

func (l *Link) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

func (l *Link) Subscribe(ctx context.Context) (transport.Subscription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return nil, transport.ErrNotOpen
	}
	if l.active != nil && !l.active.Closed() {
		return nil, transport.ErrBusy
	}

	l.subscriptions++
	l.inFlight++
	if l.inFlight > l.maxInFlight {
		l.maxInFlight = l.inFlight
	}

	var stream *transport.Stream
	stream = transport.NewStream(64, func() error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.closedSubs++
		l.inFlight--
		if l.active == stream {
			l.active = nil
		}
		return nil
	})
	l.active = stream
	return stream, nil
}

func (l *Link) Write(ctx context.Context, data []byte) error {
	l.mu.Lock()
	if !l.open {
		l.mu.Unlock()
		return transport.ErrNotOpen
	}
	frame := strings.TrimSuffix(string(data), string(transport.Delimiter))
	l.writes = append(l.writes, frame)
	if l.WriteFailures > 0 {
		l.WriteFailures--
		l.mu.Unlock()
		return ErrWrite
	}
	stream := l.active
	respond := l.Respond
	delay := l.ReplyDelay
	l.mu.Unlock()

	if stream == nil || respond == nil {
		return nil
	}
	fragments := respond(frame)
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		for _, fragment := range fragments {
			stream.Push(fragment)
		}
	}()
	return nil
}

// Drop simulates the radio link going away mid-exchange
func (l *Link) Drop() {
	l.Close()
}

// Writes returns every frame written so far
func (l *Link) Writes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.writes...)
}

// Subscriptions returns how many subscriptions were opened and closed
func (l *Link) Subscriptions() (opened, closed int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscriptions, l.closedSubs
}

// MaxInFlight returns the highest number of concurrently open subscriptions
func (l *Link) MaxInFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxInFlight
}
