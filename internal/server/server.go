// Package server runs the TLS listener and the per-connection command
// protocol of the chat service.
package server

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/luminet-im/luminet/internal/chat"
	"github.com/luminet-im/luminet/internal/config"
	"github.com/luminet-im/luminet/internal/events"
	"github.com/luminet-im/luminet/internal/limits"
	"github.com/luminet-im/luminet/internal/lmerr"
	"github.com/luminet-im/luminet/internal/logging"
	"github.com/luminet-im/luminet/internal/store"
)

const shutdownGrace = 10 * time.Second

// Server accepts TLS connections, admits them through the rate limiter
// and hands each to its own Connection.
type Server struct {
	cfg       *config.Config
	tlsConfig *tls.Config
	logger    zerolog.Logger

	manager  *chat.Manager
	registry *Registry
	pool     *WorkerPool
	limiter  *limits.RateLimiter
	events   events.Publisher
	store    store.Store

	requestTimeout time.Duration
	debug          bool

	listener net.Listener

	connMu sync.Mutex
	conns  map[*Connection]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer wires the server together. The TLS key pair is loaded from
// the configured files; a missing pair fails with null_tls_context.
func NewServer(cfg *config.Config, logger zerolog.Logger, st store.Store, pub events.Publisher) (*Server, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, lmerr.Ef(lmerr.CodeNullTLSContext, "load key pair: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg: cfg,
		tlsConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		logger:         logger.With().Str("component", "server").Logger(),
		registry:       defaultRegistry(),
		events:         pub,
		store:          st,
		requestTimeout: cfg.RequestTimeout,
		debug:          cfg.Debug,
		conns:          make(map[*Connection]struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
	s.manager = chat.NewManager(ctx, logger, st)
	s.pool = NewWorkerPool(cfg.EffectiveWorkerCount(), logger)
	s.limiter = limits.NewRateLimiter(limits.Config{
		GlobalCapacity: cfg.GlobalRateCapacity,
		GlobalRate:     float64(cfg.GlobalRateCapacity),
		PeerCapacity:   cfg.PeerRateCapacity,
		PeerRate:       float64(cfg.PeerRateCapacity),
		Logger:         logger,
	})
	return s, nil
}

// Manager exposes the registry, mainly for tests and the admin surface.
func (s *Server) Manager() *chat.Manager {
	return s.manager
}

// Start binds the listener and launches the accept loop. It returns
// immediately; Shutdown stops everything.
func (s *Server) Start() error {
	lc := net.ListenConfig{
		Control: func(_, _ string, raw syscall.RawConn) error {
			var sockErr error
			if err := raw.Control(func(fd uintptr) {
				sockErr = applySocketOptions(fd)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	inner, err := lc.Listen(s.ctx, "tcp", s.cfg.ListenAddr())
	if err != nil {
		return err
	}
	s.listener = tls.NewListener(inner, s.tlsConfig)

	s.pool.Start(s.ctx)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info().Str("addr", s.cfg.ListenAddr()).Msg("Server listening")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	defer logging.RecoverPanic(s.logger, "acceptLoop", nil)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			s.logger.Warn().Err(err).Msg("Accept failed")
			continue
		}

		addr := remoteHost(conn.RemoteAddr())
		if !s.limiter.Allow(addr) {
			_ = conn.Close()
			continue
		}

		c := newConnection(s, conn)
		s.connMu.Lock()
		s.conns[c] = struct{}{}
		s.connMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.serve()
		}()
	}
}

// remoteHost strips the port so rate limiting keys on the address only.
func remoteHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (s *Server) forgetConnection(c *Connection) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
}

// Shutdown stops accepting, closes every live connection and waits for
// the goroutines to drain, bounded by a grace period.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Shutting down")
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.connMu.Lock()
	for c := range s.conns {
		c.close()
	}
	s.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.logger.Warn().Msg("Shutdown grace period expired")
	}

	s.limiter.Stop()
	s.events.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Store close failed")
	}
	s.logger.Info().Msg("Shutdown complete")
	return nil
}
