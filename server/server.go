package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carloslauriano/glomail/protocol"
	"github.com/carloslauriano/glomail/session"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// ErrServerClosed é retornado por Serve após Shutdown
var ErrServerClosed = errors.New("servidor encerrado")

// Server aceita conexões GLO e atende cada uma em sua própria goroutine
type Server struct {
	logger   log.Logger
	service  Service
	table    *session.Table
	maxFrame int
	metrics  *Metrics

	mu       sync.Mutex
	listener net.Listener
	conns    map[session.ID]*protocol.Conn
	wg       sync.WaitGroup
	closing  atomic.Bool
}

// NewServer cria o multiplexador de conexões
func NewServer(logger log.Logger, service Service, table *session.Table, maxFrame int, metrics *Metrics) *Server {
	if metrics == nil {
		metrics = NewDiscardMetrics()
	}

	return &Server{
		logger:   logger,
		service:  service,
		table:    table,
		maxFrame: maxFrame,
		metrics:  metrics,
		conns:    make(map[session.ID]*protocol.Conn),
	}
}

// ListenAndServe escuta em addr e atende conexões até Shutdown
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("falha ao iniciar servidor GLO: %w", err)
	}

	return s.Serve(l)
}

// Serve aceita conexões de l. Retorna ErrServerClosed após Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	level.Info(s.logger).Log("msg", "listening", "addr", l.Addr().String())

	var delay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("falha ao aceitar conexão: %w", err)
			}

			// Erros como EMFILE ou ECONNABORTED são transitórios
			delay = backoff(delay)
			level.Warn(s.logger).Log("msg", "accept failed", "err", err, "retry", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		if !s.begin() {
			conn.Close()
			return ErrServerClosed
		}
		go s.handleConnection(conn)
	}
}

// begin reserva uma vaga no WaitGroup, a menos que Shutdown já tenha começado
func (s *Server) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

func backoff(delay time.Duration) time.Duration {
	if delay == 0 {
		return 5 * time.Millisecond
	}
	if delay *= 2; delay > time.Second {
		return time.Second
	}
	return delay
}

// Shutdown fecha o listener e todas as conexões, e aguarda as goroutines
func (s *Server) Shutdown() error {
	s.mu.Lock()
	s.closing.Store(true)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) track(id session.ID, c *protocol.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing.Load() {
		return false
	}
	s.conns[id] = c
	return true
}

func (s *Server) untrack(id session.ID) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

// handleConnection atende uma conexão até BYE, perda de enlace ou Shutdown
func (s *Server) handleConnection(nc net.Conn) {
	defer s.wg.Done()

	conn := protocol.NewConn(nc, s.maxFrame)
	defer conn.Close()

	id := s.table.Open()
	defer s.table.Drop(id)

	if !s.track(id, conn) {
		return
	}
	defer s.untrack(id)

	s.metrics.Connections.Add(1)
	defer s.metrics.Connections.Add(-1)

	logger := log.With(s.logger, "conn", uint64(id), "remote", conn.RemoteAddr())
	level.Debug(logger).Log("msg", "connection opened")
	defer level.Debug(logger).Log("msg", "connection closed")

	for {
		msg, err := conn.ReceiveMessage()
		if errors.Is(err, protocol.ErrMalformed) {
			level.Info(logger).Log("msg", "malformed frame", "err", err)
			if err := conn.SendMessage(protocol.NewError(msgMalformed)); err != nil {
				return
			}
			continue
		}
		if err != nil {
			if !s.closing.Load() {
				level.Debug(logger).Log("msg", "link lost", "err", err)
			}
			return
		}

		reply, done := Dispatch(s.service, id, msg)
		if done {
			return
		}

		if err := conn.SendMessage(reply); err != nil {
			level.Debug(logger).Log("msg", "send failed", "err", err)
			return
		}
	}
}
