// Package playground serves the browser playground over WebSocket.
// Each connection is one conversation; frames are small JSON messages.
// The playground has no transport-side identity, so the session id is
// the sender, the sender key, and the chat id all at once.
package playground

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ligolabs/ligo/internal/bus"
	"github.com/ligolabs/ligo/internal/channels"
	"github.com/ligolabs/ligo/internal/store"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 90 * time.Second
	pingEvery    = 30 * time.Second
)

// Options configures a Server.
type Options struct {
	Instance *store.InstanceData
	Handler  channels.Handler
	// Listen is the bind address; the instance's APIURL overrides it
	// when set.
	Listen string
	Log    *slog.Logger
}

// Server is the playground watcher: a WebSocket endpoint at /ws.
type Server struct {
	inst    *store.InstanceData
	handler channels.Handler
	addr    string
	log     *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu          sync.Mutex
	sessions    map[string]*session
	running     bool
	lastContact time.Time

	connCtx context.Context
}

type session struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

// inboundFrame is what the browser sends.
type inboundFrame struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Body       string `json:"body"`
	SenderName string `json:"sender_name,omitempty"`
}

// outboundFrame is what the browser receives.
type outboundFrame struct {
	Type  string   `json:"type"`
	Body  string   `json:"body,omitempty"`
	Media []string `json:"media,omitempty"`
	Voice bool     `json:"voice,omitempty"`
}

// New creates the playground server.
func New(opts Options) *Server {
	addr := opts.Listen
	if opts.Instance.APIURL != "" {
		addr = opts.Instance.APIURL
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		inst:    opts.Instance,
		handler: opts.Handler,
		addr:    addr,
		log:     log.With("channel", bus.ChannelPlayground, "instance_id", opts.Instance.ID),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The playground is a local dev surface; origin checks are
			// the reverse proxy's job in front of it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
}

func (s *Server) InstanceID() uuid.UUID { return s.inst.ID }
func (s *Server) Channel() string       { return bus.ChannelPlayground }

func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Server) LastContact() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastContact
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.connCtx = ctx

	s.mu.Lock()
	s.running = true
	s.lastContact = time.Now()
	s.mu.Unlock()

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("playground server failed", "error", err)
		}
	}()

	s.log.Info("playground listening", "addr", ln.Addr().String())
	return nil
}

// Stop shuts down the HTTP server and closes every session.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	for id, sess := range s.sessions {
		_ = sess.conn.Close()
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := r.URL.Query().Get("session")
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}

	sess := &session{id: id, conn: conn}
	s.mu.Lock()
	if old, ok := s.sessions[id]; ok {
		_ = old.conn.Close()
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	s.log.Info("playground session opened", "session", id)
	go s.readLoop(sess)
	go s.pingLoop(sess)
}

func (s *Server) readLoop(sess *session) {
	defer s.dropSession(sess)

	sess.conn.SetReadLimit(64 * 1024)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = sess.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		s.touch()

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.log.Debug("bad playground frame", "session", sess.id, "error", err)
			continue
		}
		if frame.Type != "message" || frame.Body == "" {
			continue
		}

		msgID := frame.ID
		if msgID == "" {
			msgID = uuid.Must(uuid.NewV7()).String()
		}
		msg := bus.InboundMessage{
			ID:         msgID,
			Sender:     sess.id,
			SenderKey:  sess.id,
			Body:       frame.Body,
			ChatID:     sess.id,
			ChatName:   frame.SenderName,
			Timestamp:  time.Now(),
			Channel:    bus.ChannelPlayground,
			InstanceID: s.inst.ID.String(),
		}
		go func() {
			if err := s.handler(s.connCtx, msg); err != nil {
				s.log.Error("message handling failed", "session", sess.id, "error", err)
			}
		}()
	}
}

func (s *Server) pingLoop(sess *session) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for range ticker.C {
		sess.mu.Lock()
		err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
		sess.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (s *Server) dropSession(sess *session) {
	_ = sess.conn.Close()
	s.mu.Lock()
	if cur, ok := s.sessions[sess.id]; ok && cur == sess {
		delete(s.sessions, sess.id)
	}
	s.mu.Unlock()
	s.log.Info("playground session closed", "session", sess.id)
}

func (s *Server) touch() {
	s.mu.Lock()
	s.lastContact = time.Now()
	s.mu.Unlock()
}

// Send writes a reply frame to the recipient's session.
func (s *Server) Send(_ context.Context, msg bus.OutboundMessage) error {
	s.mu.Lock()
	sess, ok := s.sessions[msg.Recipient]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no playground session %q", msg.Recipient)
	}

	frame := outboundFrame{Type: "reply", Body: msg.Body, Media: msg.MediaPaths, Voice: msg.AsVoice}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	_ = sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}
