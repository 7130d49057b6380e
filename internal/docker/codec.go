package docker

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// maxErrorBody bounds how much of a rejection body is read into a message.
const maxErrorBody = 4096

// roundTrip writes req onto s and parses the response head. The returned
// reader holds any bytes the engine sent after the head.
func roundTrip(s Stream, req Request) (*http.Response, *bufio.Reader, error) {
	if _, err := req.WriteTo(s); err != nil {
		return nil, nil, newError(CodeIO, "failed to write request", err)
	}

	br := bufio.NewReader(s)
	resp, err := http.ReadResponse(br, &http.Request{Method: req.Method})
	if err != nil {
		if isTimeout(err) {
			return nil, nil, newError(CodeIO, "timed out reading response", err)
		}
		return nil, nil, newError(CodeDecode, "malformed response", err)
	}

	return resp, br, nil
}

// checkStatus turns a non-2xx response into CodeEngineRejected, carrying the
// engine's error message when it sent one.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var engineErr struct {
		Message string `json:"message"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &engineErr) == nil && engineErr.Message != "" {
		message = engineErr.Message
	}

	return newError(CodeEngineRejected, fmt.Sprintf("engine returned %s", resp.Status), errorString(message))
}

// decodeJSON checks the status and decodes the JSON body into v.
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if isTimeout(err) {
			return newError(CodeIO, "timed out reading response body", err)
		}
		return newError(CodeDecode, "malformed response body", err)
	}
	return nil
}

// discardBody checks the status of a response whose body carries nothing.
func discardBody(resp *http.Response) error {
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

type errorString string

func (e errorString) Error() string {
	if e == "" {
		return "no message"
	}
	return string(e)
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
