package docker_test

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/dockerrun/internal/docker"
)

type recordedRequest struct {
	Method   string
	Host     string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// engineHandler answers one request. br holds whatever the client sent
// after the request head.
type engineHandler func(conn net.Conn, br *bufio.Reader)

// fakeEngine is a minimal Docker engine listening on a unix socket.
type fakeEngine struct {
	Path string

	listener net.Listener
	done     chan struct{}

	mu       sync.Mutex
	requests []recordedRequest
	handlers map[string]engineHandler
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()

	// unix socket paths are length limited, so avoid the long t.TempDir paths.
	dir, err := os.MkdirTemp("", "engine")
	require.NoError(t, err)

	path := filepath.Join(dir, "docker.sock")
	listener, err := net.Listen("unix", path)
	require.NoError(t, err)

	e := &fakeEngine{
		Path:     path,
		listener: listener,
		done:     make(chan struct{}),
		handlers: make(map[string]engineHandler),
	}

	t.Cleanup(func() {
		close(e.done)
		listener.Close()
		os.RemoveAll(dir)
	})

	go e.serve()
	return e
}

func (e *fakeEngine) Transport() docker.UnixTransport {
	return docker.UnixTransport{
		Path:           e.Path,
		ConnectTimeout: time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

func (e *fakeEngine) Handle(method, path string, h engineHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[method+" "+path] = h
}

func (e *fakeEngine) Requests() []recordedRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]recordedRequest(nil), e.requests...)
}

func (e *fakeEngine) serve() {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			return
		}
		go e.handle(conn)
	}
}

func (e *fakeEngine) handle(conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		return
	}
	body, _ := io.ReadAll(req.Body)

	e.mu.Lock()
	e.requests = append(e.requests, recordedRequest{
		Method:   req.Method,
		Host:     req.Host,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     body,
	})
	h, ok := e.handlers[req.Method+" "+req.URL.Path]
	e.mu.Unlock()

	if !ok {
		h = jsonResponse(http.StatusNotFound, map[string]string{"message": "page not found"})
	}
	h(conn, br)
}

// Block returns a handler that holds the connection open until the test ends.
func (e *fakeEngine) Block(head string) engineHandler {
	return func(conn net.Conn, br *bufio.Reader) {
		fmt.Fprint(conn, head)
		_, _ = io.Copy(io.Discard, br)
		<-e.done
	}
}

func jsonResponse(status int, body any) engineHandler {
	return func(conn net.Conn, _ *bufio.Reader) {
		content, _ := json.Marshal(body)
		fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
			status, http.StatusText(status), len(content), content)
	}
}

func emptyResponse(status int) engineHandler {
	return func(conn net.Conn, _ *bufio.Reader) {
		fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\nConnection: close\r\n\r\n", status, http.StatusText(status))
	}
}

// attachResponse switches into the raw stream, waits for the client to
// finish stdin and lets write produce the frames.
func attachResponse(write func(w io.Writer, stdin []byte)) engineHandler {
	return func(conn net.Conn, br *bufio.Reader) {
		fmt.Fprint(conn, "HTTP/1.1 200 OK\r\nContent-Type: application/vnd.docker.raw-stream\r\n\r\n")
		stdin, _ := io.ReadAll(br)
		write(conn, stdin)
	}
}

func writeStdout(w io.Writer, p string) {
	_, _ = w.Write(frame(1, p))
}

func writeStderr(w io.Writer, p string) {
	_, _ = w.Write(frame(2, p))
}

func writeStdin(w io.Writer, p string) {
	_, _ = w.Write(frame(0, p))
}

// rawFrame builds a frame by hand so tests can declare lengths that do not
// match the payload.
func rawFrame(tag byte, length uint32, payload string) []byte {
	header := make([]byte, 8)
	header[0] = tag
	binary.BigEndian.PutUint32(header[4:], length)
	return append(header, payload...)
}

func frame(tag byte, payload string) []byte {
	return rawFrame(tag, uint32(len(payload)), payload)
}

func frames(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
