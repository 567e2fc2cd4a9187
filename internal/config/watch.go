package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "immunizer/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
	rewatchMin      = 250 * time.Millisecond
	rewatchMax      = 5 * time.Second
)

// Watch reloads the config whenever its file changes, until ctx is done.
//
// It watches the parent directory so editors that save by rename still
// trigger. Bursts of events collapse into one reload. A failed watcher is
// recreated after a jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	fails := 0
	for {
		started, err := m.watch(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			fails = 0
		}
		wait := rewatchDelay(fails)
		fails++
		m.log.Warn("config watcher failed; retrying", logx.String("path", m.path), logx.Duration("in", wait), logx.Err(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// rewatchDelay doubles from rewatchMin up to rewatchMax and adds up to 50% jitter.
func rewatchDelay(fails int) time.Duration {
	d := rewatchMax
	if fails < 8 {
		d = min(rewatchMin<<fails, rewatchMax)
	}
	return d + rand.N(d/2+1)
}

// watch runs one fsnotify watcher. started reports whether it got far enough
// to deliver events.
func (m *Manager) watch(ctx context.Context) (started bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return false, fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", name))

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case <-debounce.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return true, errors.New("event stream closed")
			}
			if filepath.Base(ev.Name) == name && ev.Op&^fsnotify.Chmod != 0 {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return true, errors.New("error stream closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config events overflowed; reloading", logx.Err(err))
				debounce.Reset(reloadDebounce)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}
