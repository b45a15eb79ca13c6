package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "lanework/pkg/logx"
)

// fileStore keeps runs in <prefix>.runs.jsonl and the newest runs in memory.
//
// The file is compacted (rewritten with only the kept runs) once it holds
// twice the history size.
type fileStore struct {
	log  logx.Logger
	path string
	keep int

	mu    sync.Mutex
	f     *os.File
	runs  []RunRecord // oldest first, len <= keep
	lines int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:  log,
		path: filepath.Join(dir, base) + ".runs.jsonl",
		keep: cfg.historySize(),
	}
	torn, err := s.replay()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	if torn {
		// Terminate the torn line so the next record starts clean.
		if _, err := f.WriteString("\n"); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	s.f = f
	return s, nil
}

// replay loads kept runs from disk and reports whether the file ends in a
// torn (unterminated) line.
func (s *fileStore) replay() (torn bool, err error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return false, err
	}
	for _, line := range bytes.Split(b, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		s.lines++
		var r RunRecord
		if err := json.Unmarshal(line, &r); err != nil {
			// A torn last line after a crash is expected; skip it.
			continue
		}
		s.remember(r)
	}
	return len(b) > 0 && b[len(b)-1] != '\n', nil
}

func (s *fileStore) remember(r RunRecord) {
	s.runs = append(s.runs, r)
	if over := len(s.runs) - s.keep; over > 0 {
		s.runs = append(s.runs[:0], s.runs[over:]...)
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("run history file closed")
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.lines++
	s.remember(r)

	if s.lines >= 2*s.keep {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("run history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.runs) {
		limit = len(s.runs)
	}
	out := make([]RunRecord, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}

// compactLocked rewrites the file with only the kept runs (tmp + rename).
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range s.runs {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	nf, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_ = s.f.Close()
	s.f = nf
	s.lines = len(s.runs)
	return nil
}
