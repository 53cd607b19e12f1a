package vault

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Lockout defaults.
const (
	DefaultMaxAttempts   = 5
	DefaultLockoutWindow = 15 * time.Minute
)

// ErrLockedOut is returned while the lockout window is active. Use
// RemainingLockout for the user-facing wait time.
var ErrLockedOut = errors.New("too many failed attempts")

// LockState is the vault's lock state.
type LockState int

const (
	StateLocked LockState = iota
	StateUnlocked
	StateLockedOut
)

func (s LockState) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	case StateLockedOut:
		return "locked_out"
	default:
		return fmt.Sprintf("LockState(%d)", int(s))
	}
}

// Lockout is the failed-unlock counter and timed lockout state machine.
// Each failure increments the counter; at maxAttempts the vault locks out
// until the window expires. A successful unlock resets everything.
type Lockout struct {
	mu           sync.Mutex
	attempts     int
	maxAttempts  int
	window       time.Duration
	lockoutUntil time.Time
	unlocked     bool
	now          func() time.Time // injectable for tests
}

// NewLockout creates a lockout tracker. Zero values select the defaults.
func NewLockout(maxAttempts int, window time.Duration) *Lockout {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultLockoutWindow
	}
	return &Lockout{
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
}

// State returns the current lock state.
func (l *Lockout) State() LockState {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.lockedOutLocked():
		return StateLockedOut
	case l.unlocked:
		return StateUnlocked
	default:
		return StateLocked
	}
}

// Begin gates an unlock attempt. It returns ErrLockedOut, without the
// caller running password verification, while a lockout is active. An
// expired lockout resets the attempt counter.
func (l *Lockout) Begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lockedOutLocked() {
		return fmt.Errorf("%w: retry in %s", ErrLockedOut, l.lockoutUntil.Sub(l.now()).Round(time.Second))
	}
	return nil
}

// RecordSuccess resets the counter and marks the vault unlocked.
func (l *Lockout) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = 0
	l.lockoutUntil = time.Time{}
	l.unlocked = true
}

// RecordFailure counts a failed attempt, entering LockedOut at the limit.
// It returns the number of attempts remaining before lockout.
func (l *Lockout) RecordFailure() (remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.attempts >= l.maxAttempts {
		l.lockoutUntil = l.now().Add(l.window)
		return 0
	}
	return l.maxAttempts - l.attempts
}

// Relock transitions Unlocked back to Locked (logout or idle timeout)
// without touching the attempt counter.
func (l *Lockout) Relock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocked = false
}

// RemainingLockout returns how long until unlock attempts are accepted
// again, or zero when not locked out.
func (l *Lockout) RemainingLockout() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.lockedOutLocked() {
		return 0
	}
	return l.lockoutUntil.Sub(l.now())
}

// RemainingAttempts returns how many failures are left before lockout.
func (l *Lockout) RemainingAttempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lockedOutLocked() {
		return 0
	}
	return l.maxAttempts - l.attempts
}

// lockedOutLocked checks and lazily expires the lockout window.
// Caller holds l.mu.
func (l *Lockout) lockedOutLocked() bool {
	if l.lockoutUntil.IsZero() {
		return false
	}
	if l.now().Before(l.lockoutUntil) {
		return true
	}
	// Window expired: attempts reset to zero.
	l.lockoutUntil = time.Time{}
	l.attempts = 0
	return false
}
