package trigger

import (
	"sync"
	"time"
)

// Scope selects the granularity of the cooldown window.
type Scope string

const (
	// ScopeGlobal shares one cooldown timestamp across all services: at most
	// one successful dispatch in total per window.
	ScopeGlobal Scope = "global"

	// ScopePerService tracks one cooldown timestamp per namespace/name key:
	// at most one successful dispatch per service per window.
	ScopePerService Scope = "per-service"
)

// DefaultCooldown is the minimum time between two successful dispatches.
const DefaultCooldown = 180 * time.Second

// globalKey is the single map entry used under ScopeGlobal.
const globalKey = ""

// Limiter decides whether a new workflow dispatch is permitted, given the
// time of the last successful one. The recorded timestamp advances only on
// RecordSuccess, so failed or skipped dispatches never consume the window.
// At process start no timestamp exists and the first qualifying event is
// always allowed.
type Limiter struct {
	window time.Duration
	scope  Scope
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewLimiter creates a Limiter with the given cooldown window and scope.
// A zero window falls back to DefaultCooldown; an empty scope to ScopeGlobal.
func NewLimiter(window time.Duration, scope Scope) *Limiter {
	if window <= 0 {
		window = DefaultCooldown
	}
	if scope == "" {
		scope = ScopeGlobal
	}
	return &Limiter{
		window: window,
		scope:  scope,
		now:    time.Now,
		last:   make(map[string]time.Time),
	}
}

// SetClock overrides the time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Window returns the configured cooldown window.
func (l *Limiter) Window() time.Duration { return l.window }

// Allow reports whether a dispatch for the given service key is permitted
// now. When denied, the second return carries the remaining suppression time
// for logging.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.last[l.mapKey(key)]
	if !ok {
		return true, 0
	}
	elapsed := l.now().Sub(last)
	if elapsed >= l.window {
		return true, 0
	}
	return false, l.window - elapsed
}

// RecordSuccess marks a confirmed successful dispatch for the given key.
// Call only after the downstream call reported success.
func (l *Limiter) RecordSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.last[l.mapKey(key)] = l.now()
}

func (l *Limiter) mapKey(key string) string {
	if l.scope == ScopeGlobal {
		return globalKey
	}
	return key
}
