package playground

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/store"
)

func testServer(handler func(ctx context.Context, msg bus.InboundMessage) error) *Server {
	s := New(Options{
		Instance: &store.InstanceData{
			ID:       uuid.New(),
			TenantID: uuid.New(),
			Channel:  bus.ChannelPlayground,
		},
		Handler: handler,
		Listen:  "127.0.0.1:0",
		Log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s.connCtx = context.Background()
	return s
}

func dialWS(t *testing.T, s *Server, sessionID string) *websocket.Conn {
	t.Helper()
	httpSrv := httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(httpSrv.Close)

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "?session=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestInboundFrameReachesHandler(t *testing.T) {
	var mu sync.Mutex
	var got []bus.InboundMessage
	done := make(chan struct{}, 1)

	s := testServer(func(ctx context.Context, msg bus.InboundMessage) error {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	conn := dialWS(t, s, "sess-1")
	frame := map[string]any{"type": "message", "id": "m-1", "body": "oi", "sender_name": "Ana"}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	mu.Lock()
	defer mu.Unlock()
	msg := got[0]
	if msg.Sender != "sess-1" || msg.SenderKey != "sess-1" || msg.ChatID != "sess-1" {
		t.Fatalf("session identity = %q/%q/%q", msg.Sender, msg.SenderKey, msg.ChatID)
	}
	if msg.ID != "m-1" || msg.Body != "oi" || msg.ChatName != "Ana" {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Channel != bus.ChannelPlayground || msg.InstanceID != s.inst.ID.String() {
		t.Fatalf("channel/instance = %q/%q", msg.Channel, msg.InstanceID)
	}
}

func TestNonMessageFramesIgnored(t *testing.T) {
	called := make(chan struct{}, 1)
	s := testServer(func(ctx context.Context, msg bus.InboundMessage) error {
		called <- struct{}{}
		return nil
	})

	conn := dialWS(t, s, "sess-2")
	if err := conn.WriteJSON(map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "message", "body": ""}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	select {
	case <-called:
		t.Fatal("handler called for non-message frame")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSendDeliversReplyFrame(t *testing.T) {
	s := testServer(func(ctx context.Context, msg bus.InboundMessage) error { return nil })
	conn := dialWS(t, s, "sess-3")

	// Wait for the session to register.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		_, ok := s.sessions["sess-3"]
		s.mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	err := s.Send(context.Background(), bus.OutboundMessage{
		Channel:   bus.ChannelPlayground,
		Recipient: "sess-3",
		Body:      "@Maria: olá!",
		AsVoice:   true,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	var frame outboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if frame.Type != "reply" || frame.Body != "@Maria: olá!" || !frame.Voice {
		t.Fatalf("frame = %+v", frame)
	}
}

func TestSendToUnknownSessionFails(t *testing.T) {
	s := testServer(func(ctx context.Context, msg bus.InboundMessage) error { return nil })
	err := s.Send(context.Background(), bus.OutboundMessage{Recipient: "ghost"})
	if err == nil {
		t.Fatal("send to unknown session returned nil error")
	}
}
