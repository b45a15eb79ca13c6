package logx

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
)

// hourlyPattern names files "<yyyyMMdd HH>.json".
const hourlyPattern = "%Y%m%d %H.json"

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// hourlyWriter appends to one file per wall-clock hour. Once closed it
// rejects writes instead of reopening a file behind the service's back.
type hourlyWriter struct {
	mu     sync.Mutex
	rl     *rotatelogs.RotateLogs
	closed bool
}

func newHourlyWriter(dir string, now func() time.Time) (*hourlyWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	rl, err := rotatelogs.New(filepath.Join(dir, hourlyPattern),
		rotatelogs.WithClock(clockFunc(now)),
		rotatelogs.WithRotationTime(time.Hour),
		// Without a count rotatelogs purges files older than a week.
		rotatelogs.WithRotationCount(math.MaxInt32),
	)
	if err != nil {
		return nil, err
	}
	return &hourlyWriter{rl: rl}, nil
}

func (h *hourlyWriter) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, os.ErrClosed
	}
	return h.rl.Write(p)
}

func (h *hourlyWriter) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.rl.Close()
}
