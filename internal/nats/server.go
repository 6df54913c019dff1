package nats

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/smazurov/camkeeper/internal/logging"
)

// RandomPort asks the embedded server to pick a free port.
const RandomPort = server.RANDOM_PORT

// ErrNotReady is returned when the embedded server does not accept
// connections in time.
var ErrNotReady = errors.New("nats server not ready")

// ServerOptions configures the embedded NATS server.
type ServerOptions struct {
	Host string
	Port int // 0 selects 4222, RandomPort any free port
	Name string
	// ReadyTimeout bounds Start.
	ReadyTimeout time.Duration
}

// Server wraps an embedded NATS server.
type Server struct {
	ns     *server.Server
	opts   ServerOptions
	logger logging.Logger
}

// NewServer creates an embedded server bound to loopback by default.
func NewServer(opts ServerOptions, logger logging.Logger) *Server {
	if opts.Port == 0 {
		opts.Port = 4222
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Name == "" {
		opts.Name = "camkeeper"
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 5 * time.Second
	}
	return &Server{opts: opts, logger: logger}
}

// Start runs the server and waits until it accepts connections.
func (s *Server) Start() error {
	ns, err := server.NewServer(&server.Options{
		Host:           s.opts.Host,
		Port:           s.opts.Port,
		ServerName:     s.opts.Name,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
		MaxPayload:     1024 * 1024,
	})
	if err != nil {
		return fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(s.opts.ReadyTimeout) {
		ns.Shutdown()
		return fmt.Errorf("%w after %s", ErrNotReady, s.opts.ReadyTimeout)
	}

	s.ns = ns
	s.logger.Info("NATS server started", "url", s.ClientURL())
	return nil
}

// Stop shuts the server down and waits for it.
func (s *Server) Stop() {
	if s.ns == nil {
		return
	}
	s.logger.Info("Stopping NATS server")
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
	s.ns = nil
}

// ClientURL returns the URL clients should use to connect.
func (s *Server) ClientURL() string {
	if s.ns == nil {
		return fmt.Sprintf("nats://%s:%d", s.opts.Host, s.opts.Port)
	}
	return s.ns.ClientURL()
}

// IsRunning reports whether the server accepts connections.
func (s *Server) IsRunning() bool {
	return s.ns != nil && s.ns.Running()
}

// NumClients returns the number of connected clients.
func (s *Server) NumClients() int {
	if s.ns == nil {
		return 0
	}
	return s.ns.NumClients()
}
