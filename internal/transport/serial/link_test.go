package serial

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"anova-service/internal/model"
	"anova-service/internal/transport"
)

type readResult struct {
	data []byte
	err  error
}

// fakePort feeds scripted reads to the link. Reads are unbuffered, so a send
// returns only once the read loop has taken the chunk.
type fakePort struct {
	serial.Port

	reads   chan readResult
	onWrite func(p *fakePort, data []byte)

	mu       sync.Mutex
	writes   []string
	closed   chan struct{}
	closeErr error
	once     sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		reads:  make(chan readResult),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case r := <-p.reads:
		return copy(b, r.data), r.err
	case <-p.closed:
		return 0, io.EOF
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.writes = append(p.writes, string(b))
	onWrite := p.onWrite
	p.mu.Unlock()

	if onWrite != nil {
		onWrite(p, append([]byte(nil), b...))
	}
	return len(b), nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) ResetInputBuffer() error            { return nil }

func (p *fakePort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return p.closeErr
}

func (p *fakePort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// feed delivers chunks in order from a separate goroutine
func (p *fakePort) feed(chunks ...readResult) {
	go func() {
		for _, chunk := range chunks {
			select {
			case p.reads <- chunk:
			case <-p.closed:
				return
			}
		}
	}()
}

func newOpenLink(t *testing.T, port *fakePort) *Link {
	t.Helper()

	opener := func(name string, mode *serial.Mode) (serial.Port, error) {
		if name != "/dev/ttyUSB0" || mode.BaudRate != 9600 {
			t.Errorf("opened %s at %d baud", name, mode.BaudRate)
		}
		return port, nil
	}
	link := NewLinkWithOpener(&Config{Port: "/dev/ttyUSB0", BaudRate: 9600, DataBits: 8, StopBits: 1}, opener, zap.NewNop())
	if err := link.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { link.Close() })
	return link
}

func newDirect(link *Link) *transport.Direct {
	return transport.NewDirect(model.Identity{Address: "/dev/ttyUSB0"}, link, transport.DirectConfig{
		ResponseGrace: time.Second,
		WriteAttempts: 1,
	}, zap.NewNop())
}

func TestExchangeReplySplitAcrossReads(t *testing.T) {
	port := newFakePort()
	port.onWrite = func(p *fakePort, data []byte) {
		p.feed(
			readResult{data: []byte("Status: sto")},
			readResult{data: []byte("pped 23.5\r")},
		)
	}
	link := newOpenLink(t, port)

	reply, err := newDirect(link).Exchange(context.Background(), "read set temp", time.Second)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if reply != "Status: stopped 23.5" {
		t.Fatalf("reply = %q", reply)
	}

	port.mu.Lock()
	defer port.mu.Unlock()
	if len(port.writes) != 1 || port.writes[0] != "read set temp\r" {
		t.Fatalf("writes = %q", port.writes)
	}
}

func TestReadFailureLosesLink(t *testing.T) {
	port := newFakePort()
	port.onWrite = func(p *fakePort, data []byte) {
		p.feed(readResult{err: errors.New("device unplugged")})
	}
	link := newOpenLink(t, port)

	_, err := newDirect(link).Exchange(context.Background(), "status", time.Second)
	if !errors.Is(err, transport.ErrLinkLost) {
		t.Fatalf("Exchange error = %v, want ErrLinkLost", err)
	}
	if link.IsOpen() {
		t.Fatal("link still open after a read failure")
	}
	if !port.isClosed() {
		t.Fatal("port was not closed after a read failure")
	}
	if err := link.Write(context.Background(), []byte("status\r")); !errors.Is(err, transport.ErrNotOpen) {
		t.Fatalf("Write after drop = %v, want ErrNotOpen", err)
	}
}

func TestUnsolicitedBytesDiscarded(t *testing.T) {
	port := newFakePort()
	link := newOpenLink(t, port)

	// The second send completes only after the loop finished with the first
	port.reads <- readResult{data: []byte("stale reply\r")}
	port.reads <- readResult{}

	sub, err := link.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	port.reads <- readResult{data: []byte("fresh\r")}

	select {
	case fragment := <-sub.Fragments():
		if string(fragment) != "fresh\r" {
			t.Fatalf("fragment = %q, want only bytes read after subscribing", fragment)
		}
	case <-time.After(time.Second):
		t.Fatal("no fragment delivered")
	}
}

func TestSubscribeRules(t *testing.T) {
	closedLink := NewLinkWithOpener(&Config{Port: "/dev/ttyUSB0"}, nil, zap.NewNop())
	if _, err := closedLink.Subscribe(context.Background()); !errors.Is(err, transport.ErrNotOpen) {
		t.Fatalf("Subscribe before Open = %v, want ErrNotOpen", err)
	}

	link := newOpenLink(t, newFakePort())

	first, err := link.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := link.Subscribe(context.Background()); !errors.Is(err, transport.ErrBusy) {
		t.Fatalf("second Subscribe = %v, want ErrBusy", err)
	}

	first.Close()
	second, err := link.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe after close: %v", err)
	}
	second.Close()
}

func TestOpenFailure(t *testing.T) {
	opener := func(string, *serial.Mode) (serial.Port, error) {
		return nil, errors.New("permission denied")
	}
	link := NewLinkWithOpener(&Config{Port: "/dev/ttyUSB0", BaudRate: 9600}, opener, zap.NewNop())

	err := link.Open(context.Background())
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("Open = %v", err)
	}
	if link.IsOpen() {
		t.Fatal("link open after a failed Open")
	}
}
