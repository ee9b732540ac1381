package power

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

const (
	// Runtime is the tool holding the sleep inhibitor lock
	Runtime = "systemd-inhibit"

	who = "dbm-tracker"
	why = "Logging signal strength"
)

// ErrRuntimeNotFound is returned when the inhibitor tool is not installed
var ErrRuntimeNotFound = errors.New("runtime not found")

// WithLogger sets the logger for the lock
func WithLogger(logger *slog.Logger) func(l *InhibitLock) {
	return func(l *InhibitLock) {
		l.logger = logger.With(slog.String("lock", Runtime))
	}
}

// InhibitLock keeps the host from suspending while held, by running a
// systemd-inhibit child process for the duration of the hold.
type InhibitLock struct {
	binPath string

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc

	logger *slog.Logger
}

// NewInhibitLock creates a lock backed by systemd-inhibit
func NewInhibitLock(options ...func(l *InhibitLock)) (*InhibitLock, error) {
	binPath, err := exec.LookPath(Runtime)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntimeNotFound, err)
	}

	l := InhibitLock{
		binPath: binPath,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(&l)
	}

	return &l, nil
}

// Acquire takes the lock. Acquiring a held lock is a no-op.
func (l *InhibitLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, l.binPath,
		"--what=sleep:idle",
		"--who="+who,
		"--why="+why,
		"--mode=block",
		"sleep", "infinity")

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("error starting command: %w", err)
	}

	l.cmd = cmd
	l.cancel = cancel
	l.logger.Debug("wake lock acquired")
	return nil
}

// Release drops the lock. Releasing a free lock is a no-op.
func (l *InhibitLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd == nil {
		return nil
	}

	l.cancel()
	_ = l.cmd.Wait() // killed by cancel

	l.cmd = nil
	l.cancel = nil
	l.logger.Debug("wake lock released")
	return nil
}

// Held returns true while the lock is held
func (l *InhibitLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cmd != nil
}

// NopLock is a lock for hosts that keep the process alive on their own
type NopLock struct {
	mu   sync.Mutex
	held bool
}

func (l *NopLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = true
	return nil
}

func (l *NopLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	return nil
}

func (l *NopLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
