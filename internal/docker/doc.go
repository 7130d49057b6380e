// Package docker runs untrusted code in throwaway Docker containers.
//
// It talks to the engine over its unix control socket with hand-built
// HTTP/1.1 requests, one connection per request, and decodes the multiplexed
// attach stream into stdout and stderr. The Client type is the main entry
// point; every failure it returns is an *Error carrying a stable ErrorCode
// and the Phase that failed.
package docker
