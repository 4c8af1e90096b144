// Package transport exposes the shell as a remote WebSocket terminal, the
// way chazu-maggie's server package wraps a VM in an HTTP mux: one
// listener, one handler per connection, all VM access serialized onto the
// caller-supplied step driver rather than the network goroutine.
package transport

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Line is one line of input received from a remote terminal, tagged with
// the session it arrived on.
type Line struct {
	SessionID string
	Text      string
}

// Session is one connected remote terminal.
type Session struct {
	ID   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// Write sends text to the remote terminal as a single text frame. Safe
// for concurrent use by multiple writers (the VM's stdout sink and the
// server's own error reporting both call it).
func (s *Session) Write(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Server accepts WebSocket connections and turns each one into a Session,
// fanning inbound lines out through Lines and cleaning up on disconnect
// through the Closed callback.
type Server struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session

	Lines  chan Line
	Closed func(sessionID string)
}

// NewServer returns a Server with an unbuffered accept-anything upgrader
// (host-facing shells run behind a trusted reverse proxy, not directly on
// the open internet) and a buffered inbound line channel.
func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
		Lines:    make(chan Line, 64),
	}
}

// ServeHTTP upgrades the connection and reads lines from it until the
// client disconnects, forwarding each one onto s.Lines.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := &Session{ID: uuid.NewString(), conn: conn}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		s.mu.Unlock()
		conn.Close()
		if s.Closed != nil {
			s.Closed(sess.ID)
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.Lines <- Line{SessionID: sess.ID, Text: string(msg)}
	}
}

// Get returns the session for id, for the shell to route a process's
// stdout back to the terminal that spawned it.
func (s *Server) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// ListenAndServe starts the WebSocket listener on addr, serving every
// connection on path "/".
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/", s)
	fmt.Printf("optimuscore remote shell listening on %s\n", addr)
	return http.ListenAndServe(addr, mux)
}
