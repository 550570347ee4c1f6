package server

import (
	"fmt"
	"net"
	"net/textproto"
	"os"
	"testing"
	"time"

	"github.com/renews-project/renews/internal/config"
)

func writeConfig(t *testing.T, addr string) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/renews.toml"
	body := fmt.Sprintf(`
addr = %q
site_name = "test.example.org"
db_path = %q
`, addr, dir+"/renews.db")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestServerStartAcceptsPlainConnectionAndQuits(t *testing.T) {
	addr := freeAddr(t)
	cfgPath := writeConfig(t, addr)

	mgr, err := config.NewManager(cfgPath)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	srv, err := New(mgr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop(2 * time.Second)

	var conn net.Conn
	for i := 0; i < 20; i++ {
		conn, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	text := textproto.NewConn(conn)
	code, _, err := text.ReadCodeLine(2)
	if err != nil || (code != 200 && code != 201) {
		t.Fatalf("welcome: %d %v", code, err)
	}

	if err := text.PrintfLine("QUIT"); err != nil {
		t.Fatalf("QUIT: %v", err)
	}
	if _, _, err := text.ReadCodeLine(205); err != nil {
		t.Fatalf("QUIT reply: %v", err)
	}
}
