package config

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"os"
	"sync"

	logx "immunizer/pkg/logx"
)

// Validator vets a reloaded config before it replaces the current one.
type Validator func(ctx context.Context, cfg *Config) error

// Manager holds the current config and republishes it when the file changes.
type Manager struct {
	path string

	mu     sync.RWMutex
	cfg    *Config
	digest [sha256.Size]byte

	subMu sync.Mutex
	subs  map[chan *Config]struct{}

	log      logx.Logger
	validate Validator
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop(), subs: map[chan *Config]struct{}{}}
}

func (m *Manager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs the check a reload must pass. Call before Watch.
func (m *Manager) SetValidator(v Validator) { m.validate = v }

func (m *Manager) Path() string { return m.path }

// Parse reads and decodes the file without making it current.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return Decode(m.path, b)
}

// Load parses the file and makes it current.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.set(cfg, digestOf(cfg))
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) set(cfg *Config, d [sha256.Size]byte) {
	m.mu.Lock()
	m.cfg, m.digest = cfg, d
	m.mu.Unlock()
}

func digestOf(cfg *Config) [sha256.Size]byte {
	b, _ := json.Marshal(cfg)
	return sha256.Sum256(b)
}

// Subscribe returns a channel that always holds the newest unread config.
// A slow reader skips intermediate versions.
func (m *Manager) Subscribe() (<-chan *Config, func()) {
	ch := make(chan *Config, 1)
	m.subMu.Lock()
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, ch)
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- cfg
	}
}

// reload makes the file current if it parses, differs from the current
// config and passes validation. Otherwise the current config stays.
func (m *Manager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed; keeping current", logx.String("path", m.path), logx.Err(err))
		return
	}
	d := digestOf(cfg)
	m.mu.RLock()
	same := d == m.digest
	m.mu.RUnlock()
	if same {
		m.log.Debug("config content unchanged", logx.String("path", m.path))
		return
	}
	if m.validate != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err = m.validate(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected; keeping current", logx.String("path", m.path), logx.Err(err))
			return
		}
	}
	m.set(cfg, d)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path))
}
