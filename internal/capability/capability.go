// Package capability tracks which API surfaces are reachable. Every API
// dispatch consults the environment first; a disabled capability produces a
// typed error instead of invoking the service.
package capability

import (
	"fmt"
	"strings"
	"sync"

	"github.com/devserver-emu/devserver/internal/config"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusEnabled
	StatusScheduledMaintenance
	StatusDisabled
)

func (s Status) String() string {
	switch s {
	case StatusEnabled:
		return "ENABLED"
	case StatusScheduledMaintenance:
		return "SCHEDULED_MAINTENANCE"
	case StatusDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus maps the configuration spelling to a Status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToUpper(s) {
	case "ENABLED":
		return StatusEnabled, nil
	case "SCHEDULED_MAINTENANCE":
		return StatusScheduledMaintenance, nil
	case "DISABLED":
		return StatusDisabled, nil
	case "UNKNOWN":
		return StatusUnknown, nil
	default:
		return StatusUnknown, fmt.Errorf("invalid capability status: %s", s)
	}
}

// Environment holds per-capability statuses, keyed "package.capability".
// The "*" capability covers a whole package.
type Environment struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

func NewEnvironment() *Environment {
	return &Environment{statuses: make(map[string]Status)}
}

// NewEnvironmentFromConfig loads overrides of the form
// capability.status.<package>.<capability> = ENABLED|DISABLED|... .
// An unparsable override fails fast: it is a configuration error, not a
// request-time one.
func NewEnvironmentFromConfig() (*Environment, error) {
	e := NewEnvironment()
	prefix := config.CAPABILITY_PREFIX + "."
	for _, key := range config.KeysWithPrefix(prefix) {
		status, err := ParseStatus(config.GetString(key, ""))
		if err != nil {
			return nil, fmt.Errorf("%s: %v", key, err)
		}
		e.SetStatus(strings.TrimPrefix(key, prefix), status)
	}
	return e, nil
}

func (e *Environment) SetStatus(key string, status Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses[strings.ToLower(key)] = status
}

// StatusOf resolves the status of a capability, falling back to the
// package-wide "*" entry and then to ENABLED.
func (e *Environment) StatusOf(pkg, capability string) Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.statuses[strings.ToLower(pkg+"."+capability)]; ok {
		return s
	}
	if s, ok := e.statuses[strings.ToLower(pkg)+".*"]; ok {
		return s
	}
	return StatusEnabled
}

// Enabled reports whether a call to the given package may proceed.
func (e *Environment) Enabled(pkg, capability string) bool {
	return e.StatusOf(pkg, capability) == StatusEnabled
}
