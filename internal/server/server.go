// Package server is renews's composition root: it owns the
// configuration manager, storage backend, auth provider, filter
// pipeline, control-message processor, listener set, peer supervisor,
// and retention sweeper, and wires them together the way the teacher's
// cmd/nntp-server main() wires its own *database.Database,
// internal/nntp.NNTPServer, and internal/processor pipeline — except
// here the wiring lives in a reusable Server type instead of inline
// main() code, so cmd/renews stays a thin flag-parsing shell.
package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/renews-project/renews/internal/authn"
	"github.com/renews-project/renews/internal/config"
	"github.com/renews-project/renews/internal/control"
	"github.com/renews-project/renews/internal/filter"
	"github.com/renews-project/renews/internal/listener"
	"github.com/renews-project/renews/internal/logging"
	"github.com/renews-project/renews/internal/milter"
	"github.com/renews-project/renews/internal/peer"
	"github.com/renews-project/renews/internal/pgpkeys"
	"github.com/renews-project/renews/internal/retention"
	"github.com/renews-project/renews/internal/session"
	"github.com/renews-project/renews/internal/store"
	"github.com/renews-project/renews/internal/store/postgres"
	"github.com/renews-project/renews/internal/store/sqlite"
)

var log = logging.New("SERVER")

// Server owns every long-lived component of one renews process.
type Server struct {
	cfg *config.Manager

	store store.Storage
	auth  *authn.Provider

	listeners   *listener.Set
	tlsProvider *listener.TLSProvider
	peers       *peer.Supervisor
	sweeper     *retention.Sweeper

	stop chan struct{}
}

// New builds a Server from a loaded configuration manager, opening the
// storage backend and every collaborator it needs. It does not yet
// accept connections; call Start for that.
func New(cfg *config.Manager) (*Server, error) {
	snap := cfg.Current()

	st, err := openStore(snap.DBPath)
	if err != nil {
		return nil, fmt.Errorf("server: opening storage: %w", err)
	}

	s := &Server{
		cfg:   cfg,
		store: st,
		auth:  authn.NewProvider(st),
		stop:  make(chan struct{}),
	}

	var tlsProvider *listener.TLSProvider
	if snap.TLSCertPath != "" && snap.TLSKeyPath != "" {
		tlsProvider, err = listener.NewTLSProvider(snap.TLSCertPath, snap.TLSKeyPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("server: loading TLS material: %w", err)
		}
	}
	s.tlsProvider = tlsProvider
	s.listeners = listener.NewSet(tlsProvider)

	s.peers = peer.NewSupervisor(st)
	s.sweeper = retention.NewSweeper(st)

	return s, nil
}

// openStore selects the embedded sqlite backend for a plain filesystem
// path, or the networked postgres backend for a "postgres://" DSN.
func openStore(dbPath string) (store.Storage, error) {
	return OpenStore(dbPath)
}

// OpenStore opens the storage backend named by dbPath, using the same
// prefix convention Server itself uses: a "postgres://" or
// "postgresql://" DSN selects the networked backend, anything else is
// treated as a filesystem path for the embedded sqlite backend. Exported
// for cmd/renews's admin subcommands, which need a Storage handle
// without standing up a whole Server.
func OpenStore(dbPath string) (store.Storage, error) {
	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		return postgres.Open(context.Background(), postgres.Config{ConnString: dbPath})
	}
	return sqlite.Open(dbPath)
}

// buildPipeline constructs the article-acceptance pipeline from the
// current snapshot's [[filters]] list, in spec §4.5's fixed order:
// header validity, size, destination-group existence, and moderation
// run first and unconditionally; any configured milter stages run
// last, in declaration order.
func buildPipeline(snap *config.Snapshot) *filter.Pipeline {
	stages := []filter.Filter{
		filter.NewHeaderFilter(),
		filter.NewSizeFilter(),
		filter.NewGroupExistenceFilter(),
		filter.NewModerationFilter(),
	}
	for _, fr := range snap.Filters {
		if fr.Name != "milter" {
			log.Warnf("ignoring unknown filter %q", fr.Name)
			continue
		}
		client := milter.New(milter.Config{
			Addr:     fr.MilterAddr,
			UseTLS:   fr.MilterTLS,
			StrictCA: fr.MilterStrictCA,
			Timeout:  fr.MilterTimeout.Duration(),
		})
		stages = append(stages, filter.NewMilterFilter(client, ""))
	}
	return filter.NewPipeline(stages...)
}

// sessionDeps builds the Deps a freshly accepted connection's Session
// needs, resolved against the snapshot in force at accept time. A
// session's Deps are fixed for its whole lifetime; a config reload only
// affects connections accepted afterward (spec §4.10).
func (s *Server) sessionDeps(snap *config.Snapshot) session.Deps {
	keys := pgpkeys.NewCache(snap.PGPKeyServers, 0)
	return session.Deps{
		Store:                s.store,
		Auth:                 s.auth,
		Pipeline:             buildPipeline(snap),
		Control:              control.NewProcessor(s.store, s.store, keys, snap.SiteName),
		SiteName:             snap.SiteName,
		IdleTimeout:          snap.IdleTimeout,
		AllowInsecurePosting: snap.AllowPostingInsecureConnections,
	}
}

// Start binds every configured listener, starts the peer supervisor and
// retention sweeper on their configured schedules, and begins watching
// SIGHUP for configuration reloads. It returns once listeners are
// bound; Serve continues in background goroutines.
func (s *Server) Start() error {
	snap := s.cfg.Current()

	configs := []listener.Config{
		{Addr: snap.Addr, TLS: false, Handle: s.acceptHandler},
		{Addr: snap.TLSAddr, TLS: true, Handle: s.acceptHandler},
		{Addr: snap.WSAddr, TLS: false, WS: true, Handle: s.acceptHandler},
	}
	if err := s.listeners.Start(configs); err != nil {
		return err
	}

	s.peers.Start(snap.Peers)
	s.sweeper.Start(snap.RetentionSweepSchedule)

	s.cfg.WatchSIGHUP(s.stop)
	go s.watchReloads()

	return nil
}

// watchReloads reconciles the peer supervisor, retention sweeper, and
// TLS certificate/key against every new snapshot the config manager
// publishes. Listener addresses and the storage backend are
// non-reloadable (config.Manager keeps their previous values), so
// only these long-lived, in-place-reloadable components react here
// (spec §4.10, §6: TLS material is reloadable on SIGHUP).
func (s *Server) watchReloads() {
	ch := s.cfg.Subscribe()
	for {
		select {
		case <-s.stop:
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			s.peers.Reconcile(snap.Peers)
			s.sweeper.Reconcile(snap.RetentionSweepSchedule)
			if s.tlsProvider != nil {
				if err := s.tlsProvider.Reload(snap.TLSCertPath, snap.TLSKeyPath); err != nil {
					log.Errorf("reloading TLS material: %v", err)
				}
			}
		}
	}
}

// acceptHandler is the listener.Handler bound to every acceptor: it
// resolves the current configuration snapshot at accept time and runs
// one Session to completion.
func (s *Server) acceptHandler(conn net.Conn, isTLS bool) {
	session.New(conn, isTLS, s.sessionDeps(s.cfg.Current())).Serve()
}

// Stop drains listeners, stops the peer supervisor and retention
// sweeper, and closes storage.
func (s *Server) Stop(drain time.Duration) {
	close(s.stop)
	s.listeners.Stop(drain)
	s.peers.Stop()
	s.sweeper.Stop()
	if err := s.store.Close(); err != nil {
		log.Errorf("closing storage: %v", err)
	}
}
