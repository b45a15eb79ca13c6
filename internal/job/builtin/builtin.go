// Package builtin provides executors that can be declared in config.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"lanework/internal/job"
	"lanework/internal/logsink"
	"lanework/pkg/systemd"
)

const (
	KindExec  = "exec"
	KindLog   = "log"
	KindSleep = "sleep"
	KindUnit  = "unit"
)

// Spec declares an executor.
type Spec struct {
	Kind     string
	Command  []string
	Dir      string
	Env      []string
	Message  string
	Level    logsink.Level
	Duration time.Duration
	Unit     string
	Action   string
	// Timeout bounds exec and unit runs; 0 means none.
	Timeout time.Duration
}

var ErrUnknownKind = errors.New("unknown executor kind")

// Deps are shared by the executors Build creates.
type Deps struct {
	// Sink receives the output of log executors.
	Sink logsink.Sink
	// Units performs unit actions; nil means systemctl.
	Units systemd.Runner
}

// Build turns spec into an executor.
func Build(spec Spec, deps Deps) (job.Executor, error) {
	switch strings.ToLower(strings.TrimSpace(spec.Kind)) {
	case KindExec:
		if len(spec.Command) == 0 || strings.TrimSpace(spec.Command[0]) == "" {
			return nil, fmt.Errorf("exec: command required")
		}
		return Exec(spec.Command, spec.Dir, spec.Env, spec.Timeout), nil
	case KindLog:
		sink := deps.Sink
		if sink == nil {
			sink = logsink.Discard
		}
		return Log(sink, spec.Level, spec.Message), nil
	case KindSleep:
		if spec.Duration <= 0 {
			return nil, fmt.Errorf("sleep: duration must be > 0")
		}
		return Sleep(spec.Duration), nil
	case KindUnit:
		action, err := systemd.ParseAction(spec.Action)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(spec.Unit) == "" {
			return nil, fmt.Errorf("unit: unit name required")
		}
		units := deps.Units
		if units == nil {
			units = systemd.Systemctl{}
		}
		return Unit(units, action, spec.Unit, spec.Timeout), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, spec.Kind)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// Exec runs a command and returns its combined output as a string.
func Exec(command []string, dir string, env []string, timeout time.Duration) job.Executor {
	argv := append([]string(nil), command...)
	return func(ctx context.Context, _ *job.Item) (any, error) {
		ctx, cancel := withTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = dir
		if len(env) > 0 {
			cmd.Env = append(cmd.Environ(), env...)
		}
		out, err := cmd.CombinedOutput()
		text := strings.TrimSpace(string(out))
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return text, fmt.Errorf("%s: timed out after %s", argv[0], timeout)
			}
			return text, fmt.Errorf("%s: %w", argv[0], err)
		}
		return text, nil
	}
}

// Log writes message to sink. "{name}" and "{id}" are replaced with the job's.
func Log(sink logsink.Sink, level logsink.Level, message string) job.Executor {
	return func(_ context.Context, j *job.Item) (any, error) {
		msg := strings.NewReplacer("{name}", j.Name, "{id}", j.ID).Replace(message)
		sink.Write(level, msg)
		return msg, nil
	}
}

// Sleep waits d, or until ctx is done.
func Sleep(d time.Duration) job.Executor {
	return func(ctx context.Context, _ *job.Item) (any, error) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return d.String(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Unit performs action on a unit through r.
func Unit(r systemd.Runner, action systemd.Action, unit string, timeout time.Duration) job.Executor {
	return func(ctx context.Context, _ *job.Item) (any, error) {
		ctx, cancel := withTimeout(ctx, timeout)
		defer cancel()
		return r.Run(ctx, action, unit)
	}
}
