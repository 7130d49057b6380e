package docker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

const engineHost = "127.0.0.1"

// Request is an engine API request: method, path, headers and body.
// Builders return fresh values; nothing in this file performs I/O.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

func newRequest(method, path string, body []byte) Request {
	header := http.Header{}
	header.Set("Host", engineHost)
	header.Set("Connection", "close")

	return Request{
		Method: method,
		Path:   path,
		Header: header,
		Body:   body,
	}
}

// VersionRequest builds GET /version.
func VersionRequest() Request {
	req := newRequest(http.MethodGet, "/version", nil)
	req.Header.Set("Accept", "application/json")
	return req
}

// CreateContainerRequest builds POST /containers/create with spec as the
// JSON body. ContainerSpec always encodes, so a failure here is a bug and
// panics.
func CreateContainerRequest(spec ContainerSpec) Request {
	body, err := json.Marshal(spec)
	if err != nil {
		panic(fmt.Sprintf("container spec failed to encode: %v", err))
	}

	req := newRequest(http.MethodPost, "/containers/create", body)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return req
}

// StartContainerRequest builds POST /containers/{id}/start.
func StartContainerRequest(id string) Request {
	req := newRequest(http.MethodPost, fmt.Sprintf("/containers/%s/start", url.PathEscape(id)), nil)
	req.Header.Set("Accept", "application/json")
	return req
}

// AttachContainerRequest builds the attach request. Its response switches
// the connection into the multiplexed stdio stream.
func AttachContainerRequest(id string) Request {
	return newRequest(http.MethodPost, fmt.Sprintf("/containers/%s/attach?stream=1&stdout=1&stdin=1&stderr=1", url.PathEscape(id)), nil)
}

// WriteTo serializes the request as HTTP/1.1 onto w. Headers are written in
// sorted order.
func (r Request) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	if _, err := fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", r.Method, r.Path); err != nil {
		return cw.n, err
	}
	if err := r.Header.Write(bw); err != nil {
		return cw.n, err
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return cw.n, err
	}
	if _, err := bw.Write(r.Body); err != nil {
		return cw.n, err
	}
	err := bw.Flush()
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
