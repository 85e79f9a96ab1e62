package console

import (
	"context"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"
)

// Session is the client end of one machine session.
type Session struct {
	stream io.ReadWriteCloser
	conn   interface {
		CloseWithError(quic.ApplicationErrorCode, string) error
	}
}

// Dial connects to a console server and starts a session. A non-empty
// fingerprint pins the server certificate.
func Dial(ctx context.Context, addr, fingerprint string) (*Session, error) {
	conn, err := quic.DialAddr(ctx, addr, clientTLSConfig(fingerprint), quicConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "stream setup failed")
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if _, err := stream.Write([]byte{protocolVersion}); err != nil {
		conn.CloseWithError(0, "stream setup failed")
		return nil, fmt.Errorf("failed to send protocol version: %w", err)
	}
	return &Session{stream: stream, conn: conn}, nil
}

// Read reads machine output.
func (s *Session) Read(p []byte) (int, error) {
	return s.stream.Read(p)
}

// Write sends machine input.
func (s *Session) Write(p []byte) (int, error) {
	return s.stream.Write(p)
}

// CloseWrite signals end of input to the machine.
func (s *Session) CloseWrite() error {
	return s.stream.Close()
}

// Close tears down the connection.
func (s *Session) Close() error {
	return s.conn.CloseWithError(0, "normal close")
}
