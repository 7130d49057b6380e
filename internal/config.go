package internal

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/moby/moby/client"
)

const (
	// DefaultListenAddress is where the API listens when --listen is not given.
	DefaultListenAddress = ":8088"

	// DefaultConnectTimeout bounds how long dialing the engine socket may take.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultReadTimeout bounds each read from the engine. It also bounds how
	// long a container may stay silent before its execution is abandoned.
	DefaultReadTimeout = 20 * time.Second

	// DefaultWriteTimeout bounds each write to the engine.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultMemory is the container memory ceiling.
	DefaultMemory = "500MB"

	// DefaultMaxOutput is the combined stdout and stderr ceiling per execution.
	DefaultMaxOutput = "1MiB"
)

// DefaultUlimits are applied when no --ulimit flag is given.
var DefaultUlimits = []string{"nofile=90:100", "nproc=90:100"}

type Config struct {
	ListenAddress  string
	SocketPath     string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AccessToken    string
	MaxOutput      int64

	Container ContainerConfig
	Log       LogConfig
}

// ContainerConfig is the sandbox policy applied to every container.
type ContainerConfig struct {
	Hostname string
	User     string
	Memory   int64
	CapAdd   []string
	CapDrop  []string
	Ulimits  []units.Ulimit
}

type LogConfig struct {
	Level  string
	Format string
}

type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// ParseConfig parses command-line arguments and environment variables into
// the service configuration. DOCKER_HOST selects the engine socket unless
// --socket is given, API_ACCESS_TOKEN supplies the access token and
// LOG_LEVEL the log level. Returns an error for unknown flags, malformed
// sizes or ulimits, a non-unix DOCKER_HOST, or a missing access token.
func ParseConfig(args []string, environment []string) (Config, error) {
	lookup := make(map[string]string)
	for _, variable := range environment {
		key, value, ok := strings.Cut(variable, "=")
		if ok {
			lookup[key] = value
		}
	}

	defaultSocket, err := socketPath(lookup["DOCKER_HOST"])
	if err != nil {
		return Config{}, err
	}

	logLevel, ok := lookup["LOG_LEVEL"]
	if !ok {
		logLevel = "info"
	}

	var (
		config    Config
		capAdd    stringSlice
		capDrop   stringSlice
		ulimits   stringSlice
		memory    string
		maxOutput string
	)

	fs := flag.NewFlagSet("dockerrun", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&config.ListenAddress, "listen", DefaultListenAddress, "API listen address")
	fs.StringVar(&config.SocketPath, "socket", defaultSocket, "Docker engine unix socket path")
	fs.DurationVar(&config.ConnectTimeout, "connect-timeout", DefaultConnectTimeout, "timeout for connecting to the engine")
	fs.DurationVar(&config.ReadTimeout, "read-timeout", DefaultReadTimeout, "timeout for each read from the engine")
	fs.DurationVar(&config.WriteTimeout, "write-timeout", DefaultWriteTimeout, "timeout for each write to the engine")
	fs.StringVar(&config.AccessToken, "access-token", lookup["API_ACCESS_TOKEN"], "token required in the X-Access-Token header")
	fs.StringVar(&config.Container.Hostname, "hostname", "glot-runner", "container hostname")
	fs.StringVar(&config.Container.User, "user", "glot", "user the container process runs as")
	fs.StringVar(&memory, "memory", DefaultMemory, "container memory limit")
	fs.Var(&capAdd, "cap-add", "Linux capability to add")
	fs.Var(&capDrop, "cap-drop", "Linux capability to drop")
	fs.Var(&ulimits, "ulimit", "ulimit as name=soft:hard")
	fs.StringVar(&maxOutput, "max-output", DefaultMaxOutput, "combined stdout and stderr limit per execution, 0 for none")
	fs.StringVar(&config.Log.Level, "log-level", logLevel, "debug, info, warn or error")
	fs.StringVar(&config.Log.Format, "log-format", "json", "json or console")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	if config.AccessToken == "" {
		return Config{}, errors.New("access token is required: set --access-token or API_ACCESS_TOKEN")
	}

	config.Container.Memory, err = units.FromHumanSize(memory)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse --memory %q: %w", memory, err)
	}

	config.MaxOutput, err = units.RAMInBytes(maxOutput)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse --max-output %q: %w", maxOutput, err)
	}

	if len(ulimits) == 0 {
		ulimits = DefaultUlimits
	}
	for _, value := range ulimits {
		ulimit, err := units.ParseUlimit(value)
		if err != nil {
			return Config{}, fmt.Errorf("failed to parse --ulimit %q: %w", value, err)
		}
		config.Container.Ulimits = append(config.Container.Ulimits, *ulimit)
	}

	for _, capability := range capAdd {
		if GrantsMknod(capability) {
			return Config{}, fmt.Errorf("--cap-add %q is not allowed: MKNOD is always dropped", capability)
		}
	}

	config.Container.CapAdd = append([]string{}, capAdd...)
	config.Container.CapDrop = append([]string{}, capDrop...)
	if !slices.Contains(config.Container.CapDrop, "MKNOD") {
		config.Container.CapDrop = append([]string{"MKNOD"}, config.Container.CapDrop...)
	}

	return config, nil
}

// GrantsMknod reports whether adding capability would give a container
// CAP_MKNOD. Names are matched the way the engine normalizes them, with or
// without the CAP_ prefix and in any case.
func GrantsMknod(capability string) bool {
	name := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(capability)), "CAP_")
	return name == "MKNOD" || name == "ALL"
}

// socketPath resolves the engine socket from a DOCKER_HOST value, falling
// back to the platform default when it is empty.
func socketPath(dockerHost string) (string, error) {
	if dockerHost == "" {
		dockerHost = client.DefaultDockerHost
	}

	u, err := client.ParseHostURL(dockerHost)
	if err != nil {
		return "", fmt.Errorf("failed to parse DOCKER_HOST %q: %w", dockerHost, err)
	}
	if u.Scheme != "unix" {
		return "", fmt.Errorf("DOCKER_HOST %q must use the unix scheme", dockerHost)
	}

	return u.Host, nil
}
