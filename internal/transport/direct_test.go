package transport_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/model"
	"anova-service/internal/transport"
	"anova-service/internal/transport/transporttest"
)

var testIdentity = model.Identity{Address: "AA:BB:CC:DD:EE:FF", Name: "Anova"}

func newDirect(t *testing.T, link *transporttest.Link, grace time.Duration) *transport.Direct {
	t.Helper()
	d := transport.NewDirect(testIdentity, link, transport.DirectConfig{ResponseGrace: grace}, zap.NewNop())
	if err := d.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d
}

func TestExchangeSplitFragments(t *testing.T) {
	whole := newDirect(t, transporttest.New(transporttest.Split("Status: stopped 23.5\r", 64)), time.Second)
	split := newDirect(t, transporttest.New(transporttest.Split("Status: stopped 23.5\r", 3)), time.Second)

	a, err := whole.Exchange(context.Background(), "read set temp", 0)
	if err != nil {
		t.Fatalf("whole exchange: %v", err)
	}
	b, err := split.Exchange(context.Background(), "read set temp", 0)
	if err != nil {
		t.Fatalf("split exchange: %v", err)
	}
	if a != b || a != "Status: stopped 23.5" {
		t.Fatalf("replies differ: %q vs %q", a, b)
	}
}

func TestExchangeWritesDelimitedFrame(t *testing.T) {
	link := transporttest.New(transporttest.Split("ok\r", 8))
	d := newDirect(t, link, time.Second)

	if _, err := d.Exchange(context.Background(), "start", 0); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	writes := link.Writes()
	if len(writes) != 1 || writes[0] != "start" {
		t.Fatalf("writes = %q", writes)
	}
	opened, closed := link.Subscriptions()
	if opened != 1 || closed != 1 {
		t.Fatalf("subscriptions opened=%d closed=%d", opened, closed)
	}
}

func TestExchangeTimeout(t *testing.T) {
	link := transporttest.New(transporttest.Split("no delimiter", 64))
	d := newDirect(t, link, 20*time.Millisecond)

	_, err := d.Exchange(context.Background(), "read temp", 10*time.Millisecond)
	if !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if _, closed := link.Subscriptions(); closed != 1 {
		t.Fatalf("subscription not closed after timeout")
	}
	if !link.IsOpen() {
		t.Fatal("timeout must not close the link")
	}
}

func TestExchangeEmptyResponse(t *testing.T) {
	d := newDirect(t, transporttest.New(transporttest.Split("  \r", 64)), time.Second)
	if _, err := d.Exchange(context.Background(), "status", 0); !errors.Is(err, transport.ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestExchangeWriteRetry(t *testing.T) {
	link := transporttest.New(transporttest.Split("stopped\r", 64))
	link.WriteFailures = 2
	d := newDirect(t, link, time.Second)

	reply, err := d.Exchange(context.Background(), "status", 0)
	if err != nil || reply != "stopped" {
		t.Fatalf("reply = %q, err = %v", reply, err)
	}
	if n := len(link.Writes()); n != 3 {
		t.Fatalf("writes = %d, want 3", n)
	}

	link.WriteFailures = 3
	_, err = d.Exchange(context.Background(), "status", 0)
	var writeErr *transport.WriteError
	if !errors.As(err, &writeErr) || writeErr.Attempts != 3 {
		t.Fatalf("err = %v, want WriteError after 3 attempts", err)
	}
}

func TestExchangeCancellation(t *testing.T) {
	link := transporttest.New(nil)
	d := newDirect(t, link, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := d.Exchange(ctx, "status", time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, closed := link.Subscriptions(); closed != 1 {
		t.Fatal("subscription not closed after cancellation")
	}
}

func TestExchangeLinkLost(t *testing.T) {
	link := transporttest.New(nil)
	d := newDirect(t, link, time.Hour)

	go func() {
		time.Sleep(10 * time.Millisecond)
		link.Drop()
	}()

	if _, err := d.Exchange(context.Background(), "status", time.Hour); !errors.Is(err, transport.ErrLinkLost) {
		t.Fatalf("err = %v, want ErrLinkLost", err)
	}
	if _, err := d.Exchange(context.Background(), "status", 0); !errors.Is(err, transport.ErrNotOpen) {
		t.Fatalf("err = %v, want ErrNotOpen", err)
	}
}

func TestReplyText(t *testing.T) {
	tests := []struct {
		name    string
		buffer  string
		want    string
		wantErr error
	}{
		{"plain", " 56.0\r", "56.0", nil},
		{"trailing bytes after delimiter", " 56.0\r trailing", "56.0", nil},
		{"second frame after delimiter", "stopped\rrunning\r", "stopped", nil},
		{"crlf", "Status: stopped 23.5\r\n", "Status: stopped 23.5", nil},
		{"no delimiter", "  ok  ", "ok", nil},
		{"blank before delimiter", "  \r56.0", "", transport.ErrEmptyResponse},
		{"empty", "", "", transport.ErrEmptyResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := transport.ReplyText([]byte(tt.buffer))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReplyText(%q) error = %v, want %v", tt.buffer, err, tt.wantErr)
			}
			if text != tt.want {
				t.Fatalf("ReplyText(%q) = %q, want %q", tt.buffer, text, tt.want)
			}
		})
	}
}
