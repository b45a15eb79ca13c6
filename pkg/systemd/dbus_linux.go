//go:build linux

package systemd

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Bus drives units through the systemd D-Bus API and waits for each job
// to complete.
type Bus struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

func Dial(ctx context.Context) (*Bus, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Bus{conn: conn}, nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	return nil
}

func (b *Bus) Run(ctx context.Context, action Action, unit string) (string, error) {
	name := unitName(unit)
	if name == "" {
		return "", fmt.Errorf("unit required")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.conn == nil {
		return "", fmt.Errorf("systemd connection is closed")
	}

	if action == ActionIsActive {
		prop, err := b.conn.GetUnitPropertyContext(ctx, name, "ActiveState")
		if err != nil {
			return "", fmt.Errorf("failed to get status for %s: %w", name, err)
		}
		state, _ := prop.Value.Value().(string)
		if state != "active" {
			return state, fmt.Errorf("unit %s is not active", name)
		}
		return state, nil
	}

	// systemd reports the job result ("done", "failed", "timeout", ...) on ch.
	ch := make(chan string, 1)
	var err error
	switch action {
	case ActionStart:
		_, err = b.conn.StartUnitContext(ctx, name, "replace", ch)
	case ActionStop:
		_, err = b.conn.StopUnitContext(ctx, name, "replace", ch)
	case ActionRestart:
		_, err = b.conn.RestartUnitContext(ctx, name, "replace", ch)
	default:
		return "", fmt.Errorf("unknown systemctl action %q", action)
	}
	if err != nil {
		return "", fmt.Errorf("failed to %s %s: %w", action, name, err)
	}

	select {
	case res := <-ch:
		if res != "done" {
			return res, fmt.Errorf("%s %s: job %s", action, name, res)
		}
		return res, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
