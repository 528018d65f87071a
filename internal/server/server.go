package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/overlayctl/internal/config"
	"github.com/danmuck/overlayctl/internal/observability"
	"github.com/danmuck/overlayctl/internal/protocol"
	"github.com/danmuck/overlayctl/internal/store"
)

var (
	ErrAlreadyRunning = errors.New("server: already running")
	ErrNotRunning     = errors.New("server: not running")
	ErrStopped        = errors.New("server: stopped servers cannot restart")
)

// Server owns the listening socket, admission control, session lifecycle,
// and the periodic expiry sweep over the graphic store.
type Server struct {
	cfg       config.Config
	store     *store.Store
	validator *protocol.Validator
	counters  Counters
	startedAt time.Time

	mu            sync.Mutex
	running       bool
	stopped       bool
	listener      net.Listener
	cancel        context.CancelFunc
	admin         *adminServer
	sessions      map[int64]*session
	nextSessionID int64

	wg       sync.WaitGroup
	exitOnce sync.Once
	done     chan struct{}
}

// New builds a stopped server around st. The store outlives Start/Stop
// cycles so entities persist independent of producer connections.
func New(cfg config.Config, st *store.Store) *Server {
	observability.RegisterMetrics()
	return &Server{
		cfg:       cfg,
		store:     st,
		validator: protocol.NewValidator(cfg.ValidatorLimits()),
		sessions:  make(map[int64]*session),
		done:      make(chan struct{}),
	}
}

// Start binds the listener and begins accepting. A bind failure is returned
// to the caller and the server does not start; a second Start fails with
// ErrAlreadyRunning. A Server runs at most one accept cycle: once Stop has
// drained it, Start fails with ErrStopped and a fresh Server must be built.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr(), err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.listener = ln
	s.cancel = cancel
	s.startedAt = time.Now()
	s.mu.Unlock()

	if s.cfg.Admin.Addr != "" {
		admin, err := startAdmin(s)
		if err != nil {
			cancel()
			_ = ln.Close()
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return err
		}
		s.mu.Lock()
		s.admin = admin
		s.mu.Unlock()
	}

	s.wg.Add(2)
	go s.acceptLoop(ctx, ln)
	go s.sweepLoop(ctx)

	log.Info().
		Str("addr", ln.Addr().String()).
		Int("max_clients", s.cfg.Server.MaxClients).
		Msg("server started")
	return nil
}

// Stop cancels the accept and sweep loops, closes the listener, and waits up
// to the configured grace period for in-flight sessions to drain before
// force-closing the remainder.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.stopped = true
	ln := s.listener
	cancel := s.cancel
	admin := s.admin
	s.listener = nil
	s.cancel = nil
	s.admin = nil
	s.mu.Unlock()

	cancel()
	_ = ln.Close()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.cfg.ShutdownGrace()):
		log.Warn().Msg("shutdown grace elapsed, force-closing sessions")
		s.closeSessions()
		<-drained
	}

	if admin != nil {
		admin.stop()
	}
	close(s.done)
	log.Info().Msg("server stopped")
	return nil
}

// Done is closed once Stop has fully drained a started server. An `exit`
// command stops the server asynchronously; callers wait on Done to observe
// it. A server that never started never fires Done (Stop on it returns
// ErrNotRunning without draining anything).
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Addr returns the bound listener address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// AdminAddr returns the bound admin endpoint address, or "" when disabled
// or stopped.
func (s *Server) AdminAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.admin == nil {
		return ""
	}
	return s.admin.addr
}

// Status reports the observability surface polled by the status command and
// the admin endpoint.
type Status struct {
	Counters      CounterSnapshot `json:"counters"`
	ActiveClients int             `json:"active_clients"`
	LiveGraphics  int             `json:"live_graphics"`
	UptimeSeconds int64           `json:"uptime_seconds"`
}

func (s *Server) Status() Status {
	s.mu.Lock()
	clients := len(s.sessions)
	startedAt := s.startedAt
	s.mu.Unlock()
	uptime := int64(0)
	if !startedAt.IsZero() {
		uptime = int64(time.Since(startedAt).Seconds())
	}
	return Status{
		Counters:      s.counters.Snapshot(),
		ActiveClients: clients,
		LiveGraphics:  s.store.Len(),
		UptimeSeconds: uptime,
	}
}

// Counters exposes the aggregate message counters.
func (s *Server) Counters() *Counters {
	return &s.counters
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Msg("accept failed")
			continue
		}
		sess, ok := s.admit(conn)
		if !ok {
			// Over the client cap: close without reading a byte.
			_ = conn.Close()
			log.Debug().
				Str("remote", conn.RemoteAddr().String()).
				Msg("connection refused at client cap")
			continue
		}
		s.wg.Add(1)
		go sess.run(ctx)
	}
}

func (s *Server) admit(conn net.Conn) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || len(s.sessions) >= s.cfg.Server.MaxClients {
		return nil, false
	}
	s.nextSessionID++
	sess := newSession(s.nextSessionID, conn, s)
	s.sessions[sess.id] = sess
	observability.SetActiveClients(len(s.sessions))
	return sess, true
}

func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.id)
	observability.SetActiveClients(len(s.sessions))
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		_ = sess.conn.Close()
	}
}

func (s *Server) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed := s.store.SweepExpired(now)
			observability.RecordSwept(removed)
			observability.SetLiveGraphics(s.store.Len())
			if removed > 0 {
				log.Debug().Int("removed", removed).Msg("expiry sweep")
			}
		}
	}
}

// requestExit begins an orderly shutdown from inside a session (the `exit`
// command). Stop cannot run on the session goroutine itself, it would
// deadlock waiting for that session to drain.
func (s *Server) requestExit() {
	s.exitOnce.Do(func() {
		go func() {
			if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
				log.Error().Err(err).Msg("stop after exit command")
			}
		}()
	})
}
