package docker

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// Stream is a duplex byte stream to the engine. Implementations may also
// provide CloseWrite to half-close the sending side.
type Stream interface {
	io.ReadWriteCloser
}

// Transport opens one Stream per engine request.
type Transport interface {
	Open(ctx context.Context) (Stream, error)
}

// UnixTransport connects to the engine's control socket.
type UnixTransport struct {
	Path           string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Open connects to the socket at Path. It fails with CodeSocketUnreachable
// when the path does not exist, is not a socket, or the connection cannot be
// established within ConnectTimeout.
func (t UnixTransport) Open(ctx context.Context) (Stream, error) {
	info, err := os.Stat(t.Path)
	if err != nil {
		return nil, newError(CodeSocketUnreachable, fmt.Sprintf("cannot stat socket %q", t.Path), err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return nil, newError(CodeSocketUnreachable, fmt.Sprintf("%q is not a unix socket", t.Path), nil)
	}

	dialer := net.Dialer{Timeout: t.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "unix", t.Path)
	if err != nil {
		return nil, newError(CodeSocketUnreachable, fmt.Sprintf("cannot connect to %q", t.Path), err)
	}

	return &deadlineConn{
		conn:         conn.(*net.UnixConn),
		readTimeout:  t.ReadTimeout,
		writeTimeout: t.WriteTimeout,
	}, nil
}

// deadlineConn re-arms the connection deadline before every Read and Write,
// so a timeout bounds each call rather than the whole exchange.
type deadlineConn struct {
	conn         *net.UnixConn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, err
		}
	}
	return c.conn.Read(p)
}

func (c *deadlineConn) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.conn.Write(p)
}

func (c *deadlineConn) CloseWrite() error {
	return c.conn.CloseWrite()
}

func (c *deadlineConn) Close() error {
	return c.conn.Close()
}

// withStream opens a stream, hands it to fn and closes it on every exit path.
func withStream[T any](ctx context.Context, t Transport, phase Phase, fn func(Stream) (T, error)) (T, error) {
	var zero T

	stream, err := t.Open(ctx)
	if err != nil {
		return zero, inPhase(err, phase)
	}
	defer stream.Close()

	result, err := fn(stream)
	if err != nil {
		return zero, inPhase(err, phase)
	}
	return result, nil
}

func closeWrite(s Stream) error {
	if cw, ok := s.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
