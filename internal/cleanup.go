package internal

import (
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

// CleanupManager releases process-lifetime resources in reverse order of
// registration when the service stops.
type CleanupManager struct {
	mu        sync.Mutex
	resources []resource
	logger    *zap.Logger
}

type resource struct {
	name    string
	release func() error
}

// NewCleanupManager creates a new cleanup manager that reports failures to logger.
func NewCleanupManager(logger *zap.Logger) *CleanupManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CleanupManager{logger: logger}
}

// Add registers release under name.
func (m *CleanupManager) Add(name string, release func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources = append(m.resources, resource{name: name, release: release})
}

// AddCloser registers c. Closing something that is already closed, such as
// a listener shut down by its server, is not reported as a failure.
func (m *CleanupManager) AddCloser(name string, c io.Closer) {
	m.Add(name, func() error {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})
}

// Execute releases every registered resource, last registered first. Every
// release runs even when an earlier one fails; failures are logged and
// returned joined. Resources are forgotten afterwards, so a second call does
// nothing.
func (m *CleanupManager) Execute() error {
	m.mu.Lock()
	resources := m.resources
	m.resources = nil
	m.mu.Unlock()

	var errs []error
	for i := len(resources) - 1; i >= 0; i-- {
		r := resources[i]
		if err := r.release(); err != nil {
			m.logger.Warn("cleanup failed", zap.String("resource", r.name), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		m.logger.Debug("released", zap.String("resource", r.name))
	}
	return errors.Join(errs...)
}
