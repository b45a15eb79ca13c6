// Package systemd drives units over D-Bus (falling back to systemctl) and
// speaks the sd_notify protocol.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var ErrUnsupported = errors.New("systemd: unsupported OS (linux only)")

// Runner performs an Action on a unit and returns a short result text.
type Runner interface {
	Run(ctx context.Context, action Action, unit string) (string, error)
}

// Systemctl runs units through the systemctl binary.
type Systemctl struct{}

func (Systemctl) Run(ctx context.Context, action Action, unit string) (string, error) {
	return Run(ctx, action, unit)
}

// Connect returns a D-Bus runner when the system bus is reachable and
// Systemctl otherwise. closeFn is never nil.
func Connect(ctx context.Context) (r Runner, closeFn func() error, err error) {
	b, err := Dial(ctx)
	if err != nil {
		return Systemctl{}, func() error { return nil }, err
	}
	return b, b.Close, nil
}

// unitName appends ".service" to a bare unit name.
func unitName(unit string) string {
	unit = strings.TrimSpace(unit)
	if unit == "" || strings.Contains(unit, ".") {
		return unit
	}
	return unit + ".service"
}

type Action string

const (
	ActionStart    Action = "start"
	ActionStop     Action = "stop"
	ActionRestart  Action = "restart"
	ActionIsActive Action = "is-active"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionStart, ActionStop, ActionRestart, ActionIsActive:
		return a, nil
	case "":
		return ActionRestart, nil
	default:
		return "", fmt.Errorf("unknown systemctl action %q", s)
	}
}

// Command is swapped in tests.
var Command = exec.CommandContext

// Run performs action on unit and returns systemctl's trimmed output.
func Run(ctx context.Context, action Action, unit string) (string, error) {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return "", fmt.Errorf("unit required")
	}
	if action == ActionIsActive {
		active, err := IsActive(ctx, unit)
		if err != nil {
			return "", err
		}
		if !active {
			return "inactive", fmt.Errorf("unit %s is not active", unit)
		}
		return "active", nil
	}
	out, err := Command(ctx, "systemctl", string(action), unit).CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("systemctl %s %s: %w", action, unit, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func IsActive(ctx context.Context, unit string) (bool, error) {
	out, err := Command(ctx, "systemctl", "is-active", unit).CombinedOutput()
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	// is-active exits non-zero when inactive; only the output matters.
	_ = err
	return strings.TrimSpace(string(out)) == "active", nil
}
