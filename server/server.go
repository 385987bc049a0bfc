// Package server assembles the CoreContext (spec.md §9) from a
// config.Config: the client-facing IRC listener, the federation mesh,
// the chat history archive, health checks, and the metrics HTTP
// server, all supervised by one errgroup so a single context cancel
// tears the whole process down in order.
package server

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/didirc/icd/archive"
	"github.com/didirc/icd/config"
	icdcrypto "github.com/didirc/icd/crypto"
	"github.com/didirc/icd/crypto/keys"
	"github.com/didirc/icd/federation"
	"github.com/didirc/icd/health"
	"github.com/didirc/icd/identity"
	"github.com/didirc/icd/internal/logger"
	"github.com/didirc/icd/internal/metrics"
	"github.com/didirc/icd/ircd"
)

// federationKeyID names the server's Ed25519 link-identity key inside a
// crypto.KeyStorage; the `icd keygen` subcommand provisions it ahead of
// first `icd serve`.
const federationKeyID = "federation-link"

// Server is the top-level process: ircd.Server (the CoreContext proper)
// plus everything that listens on a socket on its behalf.
type Server struct {
	cfg *config.Config
	log logger.Logger

	Core       *ircd.Server
	Federation *federation.Engine
	Health     *health.HealthChecker

	listener net.Listener
	metaHTTP *http.Server
	healthHTTP *http.Server
}

// New assembles a Server from cfg. keyStore supplies the federation
// link identity key; if it holds none, one is generated and stored in
// it, and a nil keyStore gets a new unsaved key on every start. Pass a fresh crypto/storage.NewFileKeyStorage-backed store in
// production, crypto/storage.NewMemoryKeyStorage in tests.
func New(cfg *config.Config, keyStore icdcrypto.KeyStorage, log logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.GetDefaultLogger()
	}

	resolver := identity.NewMethodResolver(
		&http.Client{Timeout: cfg.SASL.ResolverTimeout},
		cfg.SASL.PLCDirectoryURL,
	)

	core := ircd.NewServer(ircd.RuntimeConfig{
		Name:        cfg.Server.Name,
		PingTimeout: cfg.Server.PingTimeout,
	}, resolver, cfg.SASL.ChallengeTTL, log)

	store, err := historyStore(cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("server: history store: %w", err)
	}
	core.History = store

	s := &Server{
		cfg:    cfg,
		log:    log,
		Core:   core,
		Health: health.NewHealthChecker(5 * time.Second),
	}

	if cfg.Federation != nil && cfg.Federation.ServerID != "" {
		engine, err := s.buildFederation(keyStore)
		if err != nil {
			return nil, fmt.Errorf("server: federation: %w", err)
		}
		s.Federation = engine
		core.Federator = engine
	}

	s.Health.SetLogger(log)
	s.registerHealthChecks()

	return s, nil
}

func historyStore(cfg *config.ArchiveConfig) (ircd.ChatHistoryStore, error) {
	if cfg == nil || cfg.Driver == "" || cfg.Driver == "memory" {
		limit := 500
		if cfg != nil && cfg.RingBufferLength > 0 {
			limit = cfg.RingBufferLength
		}
		return archive.NewMemoryStore(limit), nil
	}
	if cfg.Driver == "postgres" {
		return archive.NewPostgresStore(context.Background(), cfg.DSN)
	}
	return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
}

func (s *Server) buildFederation(keyStore icdcrypto.KeyStorage) (*federation.Engine, error) {
	fcfg := s.cfg.Federation

	signingKey, err := loadOrCreateSigningKey(keyStore)
	if err != nil {
		return nil, err
	}

	peerSpecs := make([]federation.PeerSpec, 0, len(fcfg.Peers))
	peerKeys := make(map[string]ed25519.PublicKey, len(fcfg.Peers))
	for _, p := range fcfg.Peers {
		peerSpecs = append(peerSpecs, federation.PeerSpec{PeerID: p.PeerID, Addr: p.Addr})
		pub, err := hex.DecodeString(p.PublicKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("peer %q: invalid public_key", p.PeerID)
		}
		peerKeys[p.PeerID] = ed25519.PublicKey(pub)
	}

	return federation.New(federation.Config{
		ServerID:          fcfg.ServerID,
		ListenAddr:        fcfg.ListenAddr,
		Peers:             peerSpecs,
		HeartbeatInterval: fcfg.HeartbeatInterval,
		HeartbeatGrace:    fcfg.HeartbeatGrace,
		ReconnectMinDelay: fcfg.ReconnectMinDelay,
		ReconnectMaxDelay: fcfg.ReconnectMaxDelay,
		SigningKey:        signingKey,
		PeerPublicKeys:    peerKeys,
	}, s.Core, s.log), nil
}

// loadOrCreateSigningKey returns the server's persistent federation
// link-identity key, generating and storing one on first run.
func loadOrCreateSigningKey(keyStore icdcrypto.KeyStorage) (ed25519.PrivateKey, error) {
	if keyStore == nil {
		kp, err := keys.GenerateEd25519KeyPair()
		if err != nil {
			return nil, err
		}
		return kp.PrivateKey().(ed25519.PrivateKey), nil
	}

	kp, err := keyStore.Load(federationKeyID)
	if err == icdcrypto.ErrKeyNotFound {
		kp, err = keys.GenerateEd25519KeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate federation key: %w", err)
		}
		if err := keyStore.Store(federationKeyID, kp); err != nil {
			return nil, fmt.Errorf("persist federation key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("load federation key: %w", err)
	}
	return kp.PrivateKey().(ed25519.PrivateKey), nil
}

func (s *Server) registerHealthChecks() {
	s.Health.RegisterCheck("registry", health.RegistryHealthCheck(func(context.Context) error {
		_ = s.Core.Registry.Count()
		return nil
	}))
	if s.Federation != nil {
		s.Health.RegisterCheck("federation", health.FederationHealthCheck(func() error {
			return nil // presence of zero peer links is not itself unhealthy
		}))
	}
	s.Health.RegisterCheck("listener", health.ListenerHealthCheck(func() error {
		if s.listener == nil {
			return fmt.Errorf("listener not started")
		}
		return nil
	}))
}

// Run starts the IRC listener, the federation engine, the metrics
// server, and the health server, and blocks until ctx is cancelled or
// any of them fails. On return every subsystem has been asked to stop.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Server.ListenAddr, err)
	}
	s.listener = ln
	s.log.Info("listening for clients", logger.String("addr", s.cfg.Server.ListenAddr))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		return s.acceptLoop(gctx, ln)
	})

	if s.Federation != nil {
		g.Go(func() error {
			return s.Federation.Start(gctx)
		})
	}

	if s.cfg.Metrics != nil && s.cfg.Metrics.Enabled {
		s.metaHTTP = &http.Server{Addr: s.cfg.Metrics.Addr, Handler: metricsMux(s.cfg.Metrics.Path)}
		g.Go(func() error { return s.runHTTP(gctx, s.metaHTTP) })
	}

	if s.cfg.Health != nil && s.cfg.Health.Enabled {
		s.healthHTTP = &http.Server{Addr: s.cfg.Health.Addr, Handler: s.healthMux(s.cfg.Health.Path)}
		g.Go(func() error { return s.runHTTP(gctx, s.healthHTTP) })
	}

	err = g.Wait()
	if s.Federation != nil {
		_ = s.Federation.Stop()
	}
	return err
}

func metricsMux(path string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())
	return mux
}

func (s *Server) healthMux(path string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		sys := s.Health.GetSystemHealth(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if sys.Status != health.StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(sys)
	})
	return mux
}

func (s *Server) runHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// acceptLoop accepts client TCP connections and runs each as its own
// connection actor in a dedicated goroutine (spec.md §4.4/§5: no
// blocking I/O is shared across connections).
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		metrics.ConnectionsAccepted.Inc()
		metrics.ConnectionsActive.Inc()

		actor := ircd.NewConn(s.Core, conn)
		go func() {
			defer metrics.ConnectionsActive.Dec()
			actor.Run(ctx)
		}()
	}
}
