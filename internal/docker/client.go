package docker

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/moby/moby/api/types/container"
	"go.uber.org/zap"

	"github.com/ryanmoran/dockerrun/internal"
)

// State is a step of one execution's lifecycle.
type State string

const (
	StateCreated   State = "created"
	StateStarted   State = "started"
	StateAttached  State = "attached"
	StateStreaming State = "streaming"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Client runs code in throwaway containers. Every engine call uses its own
// connection from the Transport, so a Client holds no per-execution state
// and may be shared by concurrent executions.
type Client struct {
	transport Transport
	policy    Policy
	demux     Demultiplexer
	logger    *zap.Logger
}

// NewClient creates a Client that talks to the engine through transport and
// creates containers under policy. Combined container output larger than
// maxOutput bytes aborts an execution; zero disables the limit.
func NewClient(transport Transport, policy Policy, maxOutput int64, logger *zap.Logger) Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	return Client{
		transport: transport,
		policy:    policy,
		demux:     Demultiplexer{MaxOutput: maxOutput},
		logger:    logger,
	}
}

// Version reports the engine's version information.
func (c Client) Version(ctx context.Context) (EngineVersion, error) {
	return withStream(ctx, c.transport, PhaseVersion, func(s Stream) (EngineVersion, error) {
		resp, _, err := roundTrip(s, VersionRequest())
		if err != nil {
			return EngineVersion{}, err
		}

		var version EngineVersion
		if err := decodeJSON(resp, &version); err != nil {
			return EngineVersion{}, err
		}
		return version, nil
	})
}

// CreateContainer creates a container for image under the client's policy.
// Returns the engine-assigned handle or an error if the engine refuses the
// spec, for example because the image does not exist.
func (c Client) CreateContainer(ctx context.Context, image internal.ImageName) (ContainerHandle, error) {
	spec := NewContainerSpec(c.policy, image)

	return withStream(ctx, c.transport, PhaseCreate, func(s Stream) (ContainerHandle, error) {
		resp, _, err := roundTrip(s, CreateContainerRequest(spec))
		if err != nil {
			return ContainerHandle{}, err
		}

		var created container.CreateResponse
		if err := decodeJSON(resp, &created); err != nil {
			return ContainerHandle{}, err
		}
		if created.ID == "" {
			return ContainerHandle{}, newError(CodeDecode, "create response has no container id", nil)
		}

		return ContainerHandle{ID: created.ID, Warnings: created.Warnings}, nil
	})
}

// StartContainer starts a created container.
func (c Client) StartContainer(ctx context.Context, handle ContainerHandle) error {
	_, err := withStream(ctx, c.transport, PhaseStart, func(s Stream) (struct{}, error) {
		resp, _, err := roundTrip(s, StartContainerRequest(handle.ID))
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, discardBody(resp)
	})
	return err
}

// Attach attaches to a started container, writes payload to its stdin and
// collects its output until the engine closes the stream. The payload is
// fully written and the write side half-closed before any output is read.
func (c Client) Attach(ctx context.Context, handle ContainerHandle, payload []byte) (ExecutionResult, error) {
	logger := c.logger.With(zap.String("execution_id", internal.ExecutionIDFrom(ctx)), zap.String("container_id", handle.ID))

	return withStream(ctx, c.transport, PhaseAttach, func(s Stream) (ExecutionResult, error) {
		resp, br, err := roundTrip(s, AttachContainerRequest(handle.ID))
		if err != nil {
			return ExecutionResult{}, err
		}

		var output io.Reader
		switch resp.StatusCode {
		case http.StatusSwitchingProtocols:
			output = br
		case http.StatusOK:
			output = resp.Body
		default:
			defer resp.Body.Close()
			if err := checkStatus(resp); err != nil {
				return ExecutionResult{}, err
			}
			return ExecutionResult{}, newError(CodeEngineRejected, fmt.Sprintf("unexpected attach status %s", resp.Status), nil)
		}
		logger.Debug("container state", zap.String("state", string(StateAttached)))

		if len(payload) > 0 {
			if _, err := s.Write(payload); err != nil {
				return ExecutionResult{}, newError(CodeIO, "failed to write payload to stdin", err)
			}
		}
		if err := closeWrite(s); err != nil {
			return ExecutionResult{}, newError(CodeIO, "failed to close stdin", err)
		}
		logger.Debug("container state", zap.String("state", string(StateStreaming)))

		result, err := c.demux.Read(output)
		if err != nil {
			return ExecutionResult{}, inPhase(err, PhaseStream)
		}
		return result, nil
	})
}

// Run executes one job: create, start, attach with payload on stdin, and
// collect the result. Each step runs only after the previous one succeeded.
// Nothing is retried.
func (c Client) Run(ctx context.Context, image internal.ImageName, payload []byte) (ExecutionResult, error) {
	logger := c.logger.With(zap.String("execution_id", internal.ExecutionIDFrom(ctx)), zap.String("image", string(image)))

	handle, err := c.CreateContainer(ctx, image)
	if err != nil {
		return c.fail(logger, err)
	}
	logger = logger.With(zap.String("container_id", handle.ID))
	for _, warning := range handle.Warnings {
		logger.Warn("engine warning", zap.String("warning", warning))
	}
	logger.Debug("container state", zap.String("state", string(StateCreated)))

	if err := c.StartContainer(ctx, handle); err != nil {
		return c.fail(logger, err)
	}
	logger.Debug("container state", zap.String("state", string(StateStarted)))

	result, err := c.Attach(ctx, handle, payload)
	if err != nil {
		return c.fail(logger, err)
	}
	logger.Debug("container state",
		zap.String("state", string(StateDone)),
		zap.Stringer("result", result.Kind),
		zap.Int("output_bytes", len(result.Output)),
	)

	return result, nil
}

func (c Client) fail(logger *zap.Logger, err error) (ExecutionResult, error) {
	logger.Debug("container state",
		zap.String("state", string(StateFailed)),
		zap.String("phase", string(PhaseOf(err))),
		zap.String("code", string(CodeOf(err))),
		zap.Error(err),
	)
	return ExecutionResult{}, err
}
