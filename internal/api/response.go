package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ryanmoran/dockerrun/internal/docker"
)

const (
	codeAccessToken     = "access-token"
	codeInvalidRequest  = "invalid-request"
	codeExecutionFailed = "execution-failed"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RunResponse is the JSON body of a successful execution.
type RunResponse struct {
	Stdout string `json:"stdout"`
}

// VersionResponse is the JSON body of GET /version.
type VersionResponse struct {
	Docker docker.EngineVersion `json:"docker"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: code, Message: message})
}

// engineError reports a failure from the docker package. Output limit
// violations are the caller's doing; everything else is a server-side
// failure.
func engineError(c *gin.Context, logger *zap.Logger, err error) {
	code := docker.CodeOf(err)

	status := http.StatusInternalServerError
	if code == docker.CodeOutputLimit {
		status = http.StatusRequestEntityTooLarge
	}

	var engineErr *docker.Error
	if !errors.As(err, &engineErr) {
		logger.Error("unclassified engine failure", zap.Error(err))
	}

	logger.Warn("request failed",
		zap.String("code", string(code)),
		zap.String("phase", string(docker.PhaseOf(err))),
		zap.Int("status", status),
		zap.Error(err),
	)
	abortWithError(c, status, string(code), err.Error())
}

// executionResult maps an ExecutionResult onto the response: stdout on
// success, stderr as an execution failure otherwise.
func executionResult(c *gin.Context, result docker.ExecutionResult) {
	switch result.Kind {
	case docker.Success:
		c.JSON(http.StatusOK, RunResponse{Stdout: string(result.Output)})
	case docker.Failure:
		abortWithError(c, http.StatusBadRequest, codeExecutionFailed, string(result.Output))
	}
}
