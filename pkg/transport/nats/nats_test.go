package nats

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nypyp/metahuman-stream/pkg/transport"
)

func TestNewDialer_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		url     string
		subject string
	}{
		{"empty url", "", "voicechat"},
		{"empty subject", "nats://localhost:4222", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewDialer(tc.url, tc.subject); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestWrapErr(t *testing.T) {
	t.Parallel()
	if err := wrapErr("receive", nats.ErrConnectionClosed); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("closed connection should map to ErrClosed, got %v", err)
	}
	if err := wrapErr("receive", nats.ErrBadSubscription); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("bad subscription should map to ErrClosed, got %v", err)
	}
	if err := wrapErr("send", nats.ErrMaxPayload); errors.Is(err, transport.ErrClosed) {
		t.Errorf("payload error must not map to ErrClosed")
	}
}

func TestDial_NoServer(t *testing.T) {
	t.Parallel()
	d, err := NewDialer("nats://127.0.0.1:1", "voicechat", WithDialTimeout(200*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Dial(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
}

// TestRoundTrip needs a running server; set WAKERELAY_TEST_NATS_URL to enable.
func TestRoundTrip(t *testing.T) {
	url := os.Getenv("WAKERELAY_TEST_NATS_URL")
	if url == "" {
		t.Skip("WAKERELAY_TEST_NATS_URL not set")
	}

	responder, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("responder connect: %v", err)
	}
	defer responder.Close()
	subject := fmt.Sprintf("wakerelay.test.%d", time.Now().UnixNano())
	sub, err := responder.Subscribe(subject, func(m *nats.Msg) {
		_ = m.Respond([]byte("ack: " + string(m.Data)))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	if err := responder.Flush(); err != nil {
		t.Fatal(err)
	}

	d, err := NewDialer(url, subject)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := d.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(ctx, "hello world"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	reply, err := conn.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if reply != "ack: hello world" {
		t.Errorf("reply = %q", reply)
	}

	conn.Close()
	if err := conn.Send(ctx, "again"); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("send after close: expected ErrClosed, got %v", err)
	}
}
