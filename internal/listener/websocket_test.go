package listener

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWSConnStreamsAcrossFrameBoundaries(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverDone := make(chan struct{})
	var serverConn *wsConn

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		serverConn = newWSConn(c)
		close(serverDone)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	defer client.Close()

	<-serverDone

	// Two short messages should read back as one continuous stream
	// regardless of the underlying frame boundaries.
	if err := client.WriteMessage(websocket.BinaryMessage, []byte("220 ")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := client.WriteMessage(websocket.BinaryMessage, []byte("renews ready\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 4)
	if _, err := io.ReadFull(serverConn, buf); err != nil {
		t.Fatalf("ReadFull first chunk: %v", err)
	}
	if string(buf) != "220 " {
		t.Fatalf("got %q, want %q", buf, "220 ")
	}

	rest := make([]byte, len("renews ready\r\n"))
	if _, err := io.ReadFull(serverConn, rest); err != nil {
		t.Fatalf("ReadFull second chunk: %v", err)
	}
	if string(rest) != "renews ready\r\n" {
		t.Fatalf("got %q", rest)
	}
}

func TestWSConnDeadlines(t *testing.T) {
	// SetDeadline/SetReadDeadline/SetWriteDeadline must not panic even
	// without a live peer; verifies the adapter satisfies net.Conn.
	var _ net.Conn = (*wsConn)(nil)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	done := make(chan *wsConn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		done <- newWSConn(c)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	defer client.Close()

	conn := <-done
	if err := conn.SetDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SetDeadline: %v", err)
	}
}
