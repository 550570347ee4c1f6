package listener

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer is an http.Server that upgrades every request to a WebSocket
// and tunnels a binary NNTP session inside its message frames (spec §6
// "WebSocket bridge ... tunnels a binary NNTP session inside message
// frames; protocol semantics above are unchanged"). Grounded on the
// teacher's listener Start/serve split: it owns one base net.Listener
// and hands each upgraded connection to the same Handler every other
// acceptor uses, so the session engine never knows the transport differs.
type wsServer struct {
	base     net.Listener
	handle   Handler
	isTLS    bool
	upgrader websocket.Upgrader
	http     *http.Server
}

func newWSServer(base net.Listener, handle Handler, isTLS bool) *wsServer {
	return &wsServer{
		base:   base,
		handle: handle,
		isTLS:  isTLS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *wsServer) serve() {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.upgrade)
	s.http = &http.Server{Handler: mux}
	s.http.Serve(s.base) // returns once base is closed by Stop
}

func (s *wsServer) upgrade(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	go s.handle(newWSConn(c), s.isTLS)
}

func (s *wsServer) close() {
	if s.http != nil {
		s.http.Close()
	}
}

// wsConn adapts a *websocket.Conn to net.Conn by treating the sequence
// of binary messages as one continuous byte stream: a Read call that
// exhausts the buffered frame blocks for the next one.
type wsConn struct {
	c       *websocket.Conn
	reading []byte
}

func newWSConn(c *websocket.Conn) *wsConn { return &wsConn{c: c} }

func (w *wsConn) Read(p []byte) (int, error) {
	for len(w.reading) == 0 {
		_, msg, err := w.c.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.reading = msg
	}
	n := copy(p, w.reading)
	w.reading = w.reading[n:]
	return n, nil
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error                       { return w.c.Close() }
func (w *wsConn) LocalAddr() net.Addr                { return w.c.LocalAddr() }
func (w *wsConn) RemoteAddr() net.Addr               { return w.c.RemoteAddr() }
func (w *wsConn) SetDeadline(t time.Time) error {
	if err := w.c.SetReadDeadline(t); err != nil {
		return err
	}
	return w.c.SetWriteDeadline(t)
}
func (w *wsConn) SetReadDeadline(t time.Time) error  { return w.c.SetReadDeadline(t) }
func (w *wsConn) SetWriteDeadline(t time.Time) error { return w.c.SetWriteDeadline(t) }
