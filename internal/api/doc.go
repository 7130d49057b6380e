// Package api exposes the docker package over HTTP.
//
// Every route requires the configured access token in the X-Access-Token
// header. GET /version reports the engine version and POST /run executes a
// payload in a fresh container.
package api
