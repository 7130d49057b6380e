package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ryanmoran/dockerrun/internal"
	"github.com/ryanmoran/dockerrun/internal/docker"
)

// Engine is the subset of docker.Client the handlers use.
type Engine interface {
	Version(ctx context.Context) (docker.EngineVersion, error)
	Run(ctx context.Context, image internal.ImageName, payload []byte) (docker.ExecutionResult, error)
}

// RunRequest is the JSON body of POST /run. Payload is re-encoded as
// compact JSON and written to the container's stdin; a missing payload is
// sent as null.
type RunRequest struct {
	Image   string          `json:"image" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

type handler struct {
	engine Engine
	logger *zap.Logger
}

// NewRouter builds the HTTP API around engine. Requests without the
// accessToken in X-Access-Token are rejected with 401.
func NewRouter(engine Engine, accessToken string, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	h := handler{engine: engine, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery(), h.execution(), h.requireToken(accessToken))
	router.GET("/version", h.version)
	router.POST("/run", h.run)

	return router
}

// execution tags every request with a fresh execution ID, carried in the
// request context and echoed in the X-Execution-Id header.
func (h handler) execution() gin.HandlerFunc {
	return func(c *gin.Context) {
		execution := internal.GenerateExecution()
		c.Request = c.Request.WithContext(execution.Context(c.Request.Context()))
		c.Header("X-Execution-Id", execution.String())

		start := time.Now()
		c.Next()

		h.logger.Info("request",
			zap.String("execution_id", execution.String()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (h handler) requireToken(accessToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("X-Access-Token")
		if token == "" {
			abortWithError(c, http.StatusUnauthorized, codeAccessToken, "Missing access token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(accessToken)) != 1 {
			abortWithError(c, http.StatusUnauthorized, codeAccessToken, "Wrong access token")
			return
		}
		c.Next()
	}
}

func (h handler) version(c *gin.Context) {
	version, err := h.engine.Version(c.Request.Context())
	if err != nil {
		engineError(c, h.requestLogger(c), err)
		return
	}

	c.JSON(http.StatusOK, VersionResponse{Docker: version})
}

func (h handler) run(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	result, err := h.engine.Run(c.Request.Context(), internal.ImageName(req.Image), payload)
	if err != nil {
		engineError(c, h.requestLogger(c), err)
		return
	}

	executionResult(c, result)
}

func (h handler) requestLogger(c *gin.Context) *zap.Logger {
	return h.logger.With(zap.String("execution_id", internal.ExecutionIDFrom(c.Request.Context())))
}
