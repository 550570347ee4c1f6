// Package listener runs the acceptor set renews exposes to the network
// (spec §4.3, §6): plain TCP, TLS, an optional WebSocket bridge, and
// systemd socket-activated file descriptors, all funneling accepted
// connections through the same Handler. Grounded on the teacher's
// internal/nntp NNTPServer (nntp-server.go): a Start/serve/handleConnection
// split driven by a shutdown channel and a WaitGroup, generalized here
// from two hardcoded listeners (plain + TLS) into an address-list-driven
// set that also knows how to mint a listener from a systemd socket name.
package listener

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
)

// Handler is invoked once per accepted connection, in its own goroutine.
type Handler func(conn net.Conn, isTLS bool)

// Config describes one acceptor. Addr of the form "systemd://<name>"
// resolves to a named inherited file descriptor instead of binding a
// new socket (spec §6 "fd inheritance from a systemd-style socket
// activation protocol").
type Config struct {
	Addr   string
	TLS    bool
	WS     bool // tunnel NNTP over WebSocket frames on this address
	Handle Handler
}

// Set owns every live acceptor and the shared, hot-reloadable TLS
// material they present.
type Set struct {
	tlsProvider *TLSProvider

	mu        sync.Mutex
	listeners []net.Listener
	servers   []*wsServer
	wg        sync.WaitGroup
	shutdown  chan struct{}
	running   bool
}

// NewSet constructs a Set. tlsProvider may be nil if no Config in Start
// sets TLS.
func NewSet(tlsProvider *TLSProvider) *Set {
	return &Set{tlsProvider: tlsProvider, shutdown: make(chan struct{})}
}

// Start binds (or inherits) every configured address and begins
// accepting. It returns once all listeners are up; acceptance itself
// runs in background goroutines tracked by the internal WaitGroup.
func (s *Set) Start(configs []Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("listener: already running")
	}

	for _, cfg := range configs {
		if cfg.Addr == "" {
			continue
		}
		base, err := s.bind(cfg.Addr)
		if err != nil {
			return fmt.Errorf("listener: binding %s: %w", cfg.Addr, err)
		}

		if cfg.WS {
			srv := newWSServer(base, cfg.Handle, cfg.TLS)
			s.servers = append(s.servers, srv)
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				srv.serve()
			}()
			log.Printf("[LISTENER]: websocket bridge listening on %s", cfg.Addr)
			continue
		}

		if cfg.TLS {
			if s.tlsProvider == nil {
				return fmt.Errorf("listener: %s requests TLS but no certificate was configured", cfg.Addr)
			}
			base = tls.NewListener(base, s.tlsProvider.Config())
		}

		s.listeners = append(s.listeners, base)
		s.wg.Add(1)
		go func(l net.Listener, isTLS bool) {
			defer s.wg.Done()
			s.serve(l, isTLS, cfg.Handle)
		}(base, cfg.TLS)
		log.Printf("[LISTENER]: listening on %s (tls=%v)", cfg.Addr, cfg.TLS)
	}

	s.running = true
	return nil
}

// bind resolves a configured address to a net.Listener, either by
// binding a fresh TCP socket or by claiming a systemd-activated one.
func (s *Set) bind(addr string) (net.Listener, error) {
	if name, ok := strings.CutPrefix(addr, "systemd://"); ok {
		return systemdListener(name)
	}
	return net.Listen("tcp", addr)
}

func (s *Set) serve(l net.Listener, isTLS bool, handle Handler) {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("[LISTENER]: accept error on %s: %v", l.Addr(), err)
				continue
			}
		}
		go handle(conn, isTLS)
	}
}

// Stop closes every listener and waits up to the given drain window for
// in-flight accept loops to notice (spec §5: shutdown broadcasts
// cancellation, listeners stop accepting; in-flight sessions get a
// brief drain window).
func (s *Set) Stop(drain time.Duration) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.shutdown)
	for _, l := range s.listeners {
		l.Close()
	}
	for _, srv := range s.servers {
		srv.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drain):
		log.Printf("[LISTENER]: shutdown drain window elapsed, continuing")
	}
}

func systemdListener(name string) (net.Listener, error) {
	named, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("listener: querying systemd sockets: %w", err)
	}
	ls, ok := named[name]
	if !ok || len(ls) == 0 {
		return nil, fmt.Errorf("listener: no systemd socket named %q", name)
	}
	return ls[0], nil
}
