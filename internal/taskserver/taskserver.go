// Package taskserver implements the task server (C6): a loopback listener
// that accepts one connection per request, dispatches it to the operation
// engine on a bounded worker pool, and closes the connection after writing
// exactly one response.
package taskserver

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/thsergitox/bank-system-distributed/internal/codec"
	"github.com/thsergitox/bank-system-distributed/internal/engine"
	"github.com/thsergitox/bank-system-distributed/internal/metrics"
)

// Server owns the listening socket and the bounded pool of in-flight
// request handlers.
type Server struct {
	listener      net.Listener
	engine        *engine.Engine
	metrics       *metrics.Metrics
	log           zerolog.Logger
	maxFrameBytes int64
	limiter       *rate.Limiter

	sem chan struct{} // bounds concurrent in-flight connections to the pool size
	wg  sync.WaitGroup
}

// New binds a loopback listener on port and returns a Server ready to Serve.
// acceptRatePerSec <= 0 disables accept-rate limiting.
func New(port int, poolSize int, acceptRatePerSec float64, maxFrameBytes int64, eng *engine.Engine, m *metrics.Metrics, log zerolog.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if acceptRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(acceptRatePerSec), 1)
	}

	return &Server{
		listener:      listener,
		engine:        eng,
		metrics:       m,
		log:           log,
		maxFrameBytes: maxFrameBytes,
		limiter:       limiter,
		sem:           make(chan struct{}, poolSize),
	}, nil
}

// Addr returns the bound listener address (useful for tests with port 0).
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. Accept errors are logged and the loop continues unless the
// listener itself has been closed.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				break
			}
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.log.Error().Err(err).Msg("accept failed")
			continue
		}

		s.sem <- struct{}{}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.handleConn(conn)
		}()
	}

	s.wg.Wait()
	return nil
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

// handleConn services exactly one request-response cycle, recovering from
// any panic in the engine so one bad request never takes down the server.
func (s *Server) handleConn(conn net.Conn) {
	connID := uuid.NewString()
	connLog := s.log.With().Str("conn_id", connID).Logger()

	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			connLog.Error().Interface("panic", r).Msg("recovered from panic while handling connection")
			_ = codec.WriteMessage(conn, codec.Message{"estado": engine.StatusErrorGeneralServidor, "mensaje": "internal error", "datos": nil})
		}
	}()

	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
		defer s.metrics.ActiveConnections.Dec()
	}

	_ = conn.SetDeadline(time.Now().Add(30 * time.Second))

	req, err := codec.ReadMessage(conn, s.maxFrameBytes, connLog)
	if err != nil {
		connLog.Warn().Err(err).Msg("failed to read request, closing connection")
		return
	}

	resp := s.engine.Handle(req)

	if err := codec.WriteMessage(conn, resp); err != nil {
		connLog.Warn().Err(err).Msg("failed to write response")
	}
}
