// Package console serves platter machines over QUIC. Every stream a client
// opens runs a fresh machine over the served program, with the stream as the
// machine's input and output. Closing the write side of the stream is end of
// input; the server closes its side when the machine stops.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ascrivener/um/pkg/platter"
	"github.com/ascrivener/um/pkg/um"
	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
)

// protocolVersion is the first byte a client sends on every stream. It also
// makes the stream visible to the server before any machine input exists.
const protocolVersion byte = 1

func quicConfig() *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: 10 * time.Second,
		MaxIdleTimeout:       30 * time.Second,
		KeepAlivePeriod:      15 * time.Second,
	}
}

// Server runs machine sessions for QUIC clients.
type Server struct {
	program     []platter.Platter
	listener    *quic.Listener
	fingerprint string
	log         *slog.Logger
	sessions    sync.WaitGroup
}

// Listen starts listening on addr. The program is copied into every session.
func Listen(addr string, program []platter.Platter, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tlsConfig, fingerprint, err := serverTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	listener, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Server{
		program:     program,
		listener:    listener,
		fingerprint: fingerprint,
		log:         logger,
	}, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Fingerprint returns the certificate fingerprint clients can pin.
func (s *Server) Fingerprint() string {
	return s.fingerprint
}

// Serve accepts connections until ctx is done or the server is closed, then
// waits for running sessions. Cancelling ctx stops every session's machine
// and cancels both directions of its stream.
func (s *Server) Serve(ctx context.Context) error {
	defer s.sessions.Wait()
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.log.Debug("accepted connection", "remote", conn.RemoteAddr())

		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			for {
				stream, err := conn.AcceptStream(ctx)
				if err != nil {
					s.log.Debug("connection closed", "remote", conn.RemoteAddr(), "error", err)
					return
				}
				s.sessions.Add(1)
				go func() {
					defer s.sessions.Done()
					s.runSession(ctx, stream)
				}()
			}
		}()
	}
}

// sessionStream is the part of a QUIC stream a session uses.
type sessionStream interface {
	io.ReadWriteCloser
	CancelRead(quic.StreamErrorCode)
	CancelWrite(quic.StreamErrorCode)
}

// runSession runs one machine over stream and closes the stream's write
// side when the machine stops.
func (s *Server) runSession(ctx context.Context, stream sessionStream) {
	log := s.log.With("session", uuid.NewString())
	defer stream.Close()
	stop := context.AfterFunc(ctx, func() {
		stream.CancelRead(0)
		stream.CancelWrite(0)
	})
	defer stop()

	var version [1]byte
	if _, err := io.ReadFull(stream, version[:]); err != nil {
		log.Warn("failed to read protocol version", "error", err)
		return
	}
	if version[0] != protocolVersion {
		log.Warn("unsupported protocol version", "version", version[0])
		return
	}

	e, err := um.New(s.program, um.Config{Input: stream, Output: stream, Logger: log})
	if err != nil {
		log.Error("failed to create machine", "error", err)
		return
	}
	defer e.Close()

	log.Info("session started", "platters", len(s.program))
	err = e.Run(ctx)
	var herr *um.HaltError
	switch {
	case err == nil:
		log.Info("machine halted", "stats", e.Stats())
	case errors.As(err, &herr):
		log.Info("machine halted abnormally", "reason", herr.Error())
	default:
		log.Warn("machine failed", "error", err)
	}
}

// Close stops accepting connections.
func (s *Server) Close() error {
	return s.listener.Close()
}
