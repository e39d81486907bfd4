package config

import (
	"os"
	"slices"
	"strconv"
	"sync"

	logx "assignbot/pkg/logx"
)

// ConfigManager owns the committed config and fans out accepted reloads
// to subscribers.
type ConfigManager struct {
	path   string
	getenv func(string) string
	log    logx.Logger

	mu   sync.RWMutex
	cfg  *Config
	hash uint64

	// subsMu is held while sending so Unsubscribe never closes a channel
	// mid-send.
	subsMu sync.Mutex
	subs   []chan *Config
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, getenv: os.Getenv}
}

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

func (m *ConfigManager) Path() string { return m.path }

// Parse reads the file, applies environment overrides and validates the
// result. Nothing is committed.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(m.path, raw)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg, m.getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load parses and commits the file.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.swap(cfg, hashConfig(cfg))
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) swap(cfg *Config, hash uint64) {
	m.mu.Lock()
	m.cfg, m.hash = cfg, hash
	m.mu.Unlock()
}

func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if i := slices.Index(m.subs, ch); i >= 0 {
		m.subs = slices.Delete(m.subs, i, i+1)
		close(ch)
	}
}

// publish never blocks. A subscriber whose buffer is full has its stale
// entry replaced by cfg.
func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		if offer(ch, cfg) {
			continue
		}
		select {
		case <-ch:
		default:
		}
		if !offer(ch, cfg) {
			m.log.Debug("config update dropped for slow subscriber", logx.Int("cap", cap(ch)))
		}
	}
}

func offer(ch chan *Config, cfg *Config) bool {
	select {
	case ch <- cfg:
		return true
	default:
		return false
	}
}

// reload commits and publishes the file when it parses and differs from
// the running config. A broken file leaves the running config in place.
func (m *ConfigManager) reload() {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
		return
	}
	hash := hashConfig(cfg)
	m.mu.RLock()
	same := hash != 0 && hash == m.hash
	m.mu.RUnlock()
	if same {
		m.log.Debug("config file touched without changes", logx.String("path", m.path))
		return
	}
	m.swap(cfg, hash)
	m.publish(cfg)
	m.log.Debug("config reloaded", logx.String("path", m.path), logx.String("hash", strconv.FormatUint(hash, 16)))
}
