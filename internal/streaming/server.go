// Package streaming embeds the RTSP server that carries the low-latency
// live feed. The live encoder publishes with ANNOUNCE/RECORD and viewers
// play with DESCRIBE/PLAY.
package streaming

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/AlexxIT/go2rtc/pkg/rtsp"

	"github.com/smazurov/camkeeper/internal/logging"
)

// Server handles RTSP connections from the encoder and viewers.
type Server struct {
	hub           *Hub
	listener      net.Listener
	logger        logging.Logger
	remotePublish bool
	wg            sync.WaitGroup
	closed        bool
	conns         map[net.Conn]struct{}
	mu            sync.Mutex
}

// NewServer creates a new streaming server. Publishing is accepted from
// loopback addresses only unless remotePublish is set.
func NewServer(hub *Hub, logger logging.Logger, remotePublish bool) *Server {
	return &Server{
		hub:           hub,
		logger:        logger,
		remotePublish: remotePublish,
		conns:         make(map[net.Conn]struct{}),
	}
}

// Start begins listening for RTSP connections on the specified address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.closed = false
	s.mu.Unlock()

	s.logger.Info("RTSP server started", "addr", ln.Addr().String())

	go s.acceptLoop()

	return nil
}

// PublishURL returns the loopback URL an encoder publishes path to.
func (s *Server) PublishURL(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return "", errors.New("rtsp server not started")
	}
	tcp, ok := s.listener.Addr().(*net.TCPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected listener address %s", s.listener.Addr())
	}
	return fmt.Sprintf("rtsp://127.0.0.1:%d/%s", tcp.Port, path), nil
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()

			if closed {
				return
			}
			s.logger.Error("Failed to accept connection", "error", err)
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
			s.mu.Lock()
			delete(s.conns, conn)
			s.mu.Unlock()
		}()
	}
}

func isLoopback(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	return ok && tcp.IP.IsLoopback()
}

// handleConn processes an incoming RTSP connection.
func (s *Server) handleConn(conn net.Conn) {
	rtspConn := rtsp.NewServer(conn)
	var producerPath, viewerPath string

	rtspConn.Listen(func(msg any) {
		if rtspConn.URL == nil || len(rtspConn.URL.Path) <= 1 {
			return
		}
		path := rtspConn.URL.Path[1:]

		switch msg {
		case rtsp.MethodAnnounce:
			if !s.remotePublish && !isLoopback(conn.RemoteAddr()) {
				s.logger.Warn("Rejecting remote publisher", "path", path, "remote", conn.RemoteAddr())
				_ = rtspConn.Stop()
				return
			}
			producerPath = path
			s.hub.AddProducer(path, rtspConn)
			s.logger.Info("RTSP producer connected", "path", path, "remote", conn.RemoteAddr())

		case rtsp.MethodDescribe:
			if err := s.hub.WireConsumer(path, rtspConn); err != nil {
				s.logger.Debug("No live feed for viewer", "path", path, "error", err)
				return
			}
			viewerPath = path
			s.logger.Info("RTSP viewer connected", "path", path, "remote", conn.RemoteAddr())
		}
	})

	// OPTIONS, ANNOUNCE/DESCRIBE, SETUP, PLAY/RECORD
	if err := rtspConn.Accept(); err != nil {
		if !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("RTSP accept error", "error", err)
		}
		_ = conn.Close()
		return
	}

	// blocks until the connection closes
	if err := rtspConn.Handle(); err != nil {
		if !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("RTSP handle error", "error", err)
		}
	}

	if producerPath != "" {
		s.hub.RemoveProducer(producerPath, rtspConn)
	}
	if viewerPath != "" {
		s.hub.ConsumerGone(viewerPath)
		s.logger.Info("RTSP viewer disconnected", "path", viewerPath)
	}
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	if ln != nil {
		if err := ln.Close(); err != nil {
			return err
		}
	}

	s.hub.Stop()
	s.wg.Wait()

	s.logger.Info("RTSP server stopped")
	return nil
}
