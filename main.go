package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	units "github.com/docker/go-units"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryanmoran/dockerrun/internal"
	"github.com/ryanmoran/dockerrun/internal/api"
	"github.com/ryanmoran/dockerrun/internal/docker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic occurred: %v", r)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args, os.Environ(), nil); err != nil {
		log.Fatal(err)
	}
}

// run serves the API until ctx is cancelled. When ready is non-nil the
// bound listener address is sent on it once the server accepts connections.
func run(ctx context.Context, args, env []string, ready chan<- net.Addr) error {
	config, err := internal.ParseConfig(args[1:], env)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w\nRun with --help to see the available flags", err)
	}

	logger, err := internal.NewLogger(config.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	cleanupMgr := internal.NewCleanupManager(logger)
	defer func() {
		_ = cleanupMgr.Execute()
	}()
	cleanupMgr.Add("logger", func() error {
		// Sync on stdout fails with EINVAL on most terminals.
		_ = logger.Sync()
		return nil
	})

	transport := docker.UnixTransport{
		Path:           config.SocketPath,
		ConnectTimeout: config.ConnectTimeout,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
	}

	policy := docker.Policy{
		Hostname: config.Container.Hostname,
		User:     config.Container.User,
		Memory:   config.Container.Memory,
		CapAdd:   config.Container.CapAdd,
		CapDrop:  config.Container.CapDrop,
		Ulimits:  config.Container.Ulimits,
	}

	client := docker.NewClient(transport, policy, config.MaxOutput, logger.Named("docker"))

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(client, config.AccessToken, logger.Named("api"))

	listener, err := net.Listen("tcp", config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", config.ListenAddress, err)
	}
	cleanupMgr.AddCloser("listener", listener)

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("listening",
		zap.String("address", listener.Addr().String()),
		zap.String("socket", config.SocketPath),
		zap.String("memory", units.HumanSize(float64(policy.Memory))),
		zap.String("max_output", units.BytesSize(float64(config.MaxOutput))),
	)
	if ready != nil {
		ready <- listener.Addr()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve API: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
