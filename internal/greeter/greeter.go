// Package greeter runs the inbound control listener: every client that
// connects receives one fixed greeting line and is disconnected.
package greeter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nypyp/metahuman-stream/internal/observe"
)

// Defaults.
const (
	DefaultAddr    = "0.0.0.0:8010"
	DefaultMessage = "Hello, this is a message from the local server!"
)

const writeTimeout = 5 * time.Second

// Option is a functional option for [New].
type Option func(*Server)

// WithMessage replaces the greeting.
func WithMessage(msg string) Option {
	return func(s *Server) {
		if msg != "" {
			s.message = msg
		}
	}
}

// WithOnce stops the server after the first session.
func WithOnce() Option {
	return func(s *Server) { s.once = true }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Server is the greeting listener.
type Server struct {
	addr    string
	message string
	once    bool
	metrics *observe.Metrics

	mu sync.Mutex
	ln net.Listener
}

// New creates a Server for addr. An empty addr selects [DefaultAddr].
func New(addr string, opts ...Option) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:    addr,
		message: DefaultMessage,
		metrics: observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Addr returns the bound address once listening, or the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Listen binds the listener. Serve calls it when needed; calling it first
// lets callers learn the bound port.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("greeter: listen %s: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Serve accepts connections until ctx is done, or after the first session
// when created with [WithOnce]. It returns nil on a clean stop.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	slog.Info("greeter listening", "addr", ln.Addr().String(), "once", s.once)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("greeter: accept: %w", err)
		}
		if s.once {
			s.greet(ctx, conn)
			return nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.greet(ctx, conn)
		}()
	}
}

func (s *Server) greet(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	slog.Info("greeter connection", "remote", remote)

	status := "ok"
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write([]byte(s.message)); err != nil {
		status = "error"
		slog.Warn("greeter write failed", "remote", remote, "err", err)
	}
	s.metrics.GreeterConnections.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
