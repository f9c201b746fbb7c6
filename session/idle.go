package session

import (
	"sync"
	"time"

	"github.com/bep/debounce"
	"go.uber.org/zap"
)

// IdleTimer calls onIdle once after a period without activity. It only
// counts while armed; Stop disarms it and supersedes any pending fire.
type IdleTimer struct {
	timeout time.Duration
	onIdle  func()
	logger  *zap.Logger

	mu        sync.Mutex
	debounced func(f func())
	armed     bool
	epoch     uint64
}

// NewIdleTimer creates a disarmed timer
func NewIdleTimer(timeout time.Duration, onIdle func(), logger *zap.Logger) *IdleTimer {
	return &IdleTimer{
		timeout:   timeout,
		onIdle:    onIdle,
		logger:    logger,
		debounced: debounce.New(timeout),
	}
}

// Start arms the timer with a fresh deadline
func (t *IdleTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.armed = true
	t.scheduleLocked()
}

// Bump pushes the deadline out. It reports false when the timer is disarmed.
func (t *IdleTimer) Bump() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed {
		return false
	}
	t.scheduleLocked()
	return true
}

// Stop disarms the timer
func (t *IdleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed {
		return
	}
	t.armed = false
	t.epoch++
	// Replace the pending call so nothing is left to run against this epoch.
	t.debounced(func() {})
}

// Armed reports whether a fire is pending
func (t *IdleTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

func (t *IdleTimer) scheduleLocked() {
	t.epoch++
	epoch := t.epoch
	t.debounced(func() { t.fire(epoch) })
}

func (t *IdleTimer) fire(epoch uint64) {
	t.mu.Lock()
	if !t.armed || epoch != t.epoch {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.mu.Unlock()

	t.logger.Info("Idle timeout reached", zap.Duration("timeout", t.timeout))
	t.onIdle()
}
