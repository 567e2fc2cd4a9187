package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "immunizer/pkg/logx"
)

// RunEntry records one job execution.
// Keep it compact and schema-stable.
type RunEntry struct {
	At        time.Time `json:"at"`
	Job       string    `json:"job"`
	Trigger   string    `json:"trigger"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
	Processed int       `json:"processed"`
	Created   int       `json:"created"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}

// Journal is an append-only JSON Lines log of job runs.
//
// The most recent entries are also kept in memory so status queries never
// touch the file. An empty path keeps the journal in memory only.
type Journal struct {
	log logx.Logger

	mu     sync.Mutex
	file   *os.File
	recent []RunEntry
	keep   int
}

const defaultJournalKeep = 200

// OpenJournal opens (or creates) the journal at path and replays its tail.
func OpenJournal(path string, keep int, log logx.Logger) (*Journal, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if keep <= 0 {
		keep = defaultJournalKeep
	}
	j := &Journal{log: log, keep: keep}

	path = strings.TrimSpace(path)
	if path == "" {
		return j, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := j.replay(path); err != nil {
		log.Warn("journal replay failed", logx.String("path", path), logx.Err(err))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	j.file = f
	return j, nil
}

func (j *Journal) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e RunEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// tolerate a torn last line
			continue
		}
		j.pushLocked(e)
	}
	return sc.Err()
}

// Append writes e to the journal.
func (j *Journal) Append(ctx context.Context, e RunEntry) error {
	_ = ctx
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pushLocked(e)
	if j.file == nil {
		return nil
	}
	return json.NewEncoder(j.file).Encode(e)
}

func (j *Journal) pushLocked(e RunEntry) {
	j.recent = append(j.recent, e)
	if over := len(j.recent) - j.keep; over > 0 {
		j.recent = append(j.recent[:0], j.recent[over:]...)
	}
}

// Recent returns up to n entries, newest first. n <= 0 returns all kept entries.
func (j *Journal) Recent(n int) []RunEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n <= 0 || n > len(j.recent) {
		n = len(j.recent)
	}
	out := make([]RunEntry, 0, n)
	for i := len(j.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, j.recent[i])
	}
	return out
}

// LastFor returns the newest entry for job.
func (j *Journal) LastFor(job string) (RunEntry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.recent) - 1; i >= 0; i-- {
		if j.recent[i].Job == job {
			return j.recent[i], true
		}
	}
	return RunEntry{}, false
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
