package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Environment overrides for secrets, so config files can be committed
// without them.
const (
	EnvTelegramToken = "ASSIGNBOT_TELEGRAM_TOKEN"
	EnvERPAPIKey     = "ASSIGNBOT_ERP_API_KEY"
	EnvERPAPISecret  = "ASSIGNBOT_ERP_API_SECRET"
	EnvJWTSecret     = "ASSIGNBOT_JWT_SECRET"
)

// Decode parses JSON or YAML config bytes. The format is picked from the
// file extension of path. Unknown keys and trailing data are rejected.
func Decode(path string, data []byte) (*Config, error) {
	jb, err := toJSON(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// toJSON converts YAML to JSON so both formats share the strict decoder.
func toJSON(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// stringKeys makes every map key a string so the tree is JSON-marshalable.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}

// ApplyEnv fills secrets from the environment. Non-empty env values win.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvJWTSecret)); v != "" {
		cfg.Server.JWTSecret = v
	}
	key := strings.TrimSpace(getenv(EnvERPAPIKey))
	secret := strings.TrimSpace(getenv(EnvERPAPISecret))
	if key != "" || secret != "" {
		if cfg.ERP == nil {
			cfg.ERP = &ERPConfig{}
		}
		if key != "" {
			cfg.ERP.APIKey = key
		}
		if secret != "" {
			cfg.ERP.APISecret = secret
		}
	}
}

// Validate checks cross-field rules that the decoder can't express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or set %s)", EnvTelegramToken)
	}
	if _, err := ParseDuration("telegram.timeout", cfg.Telegram.Timeout); err != nil {
		return err
	}
	if _, err := ParseDuration("telegram.poll.timeout", cfg.Telegram.Poll.Timeout); err != nil {
		return err
	}
	if _, err := ParseDuration("server.read_timeout", cfg.Server.ReadTimeout); err != nil {
		return err
	}
	if _, err := ParseDuration("server.write_timeout", cfg.Server.WriteTimeout); err != nil {
		return err
	}

	// Every source needs the ERP: links are only created after an ERP login.
	switch UsersSource(cfg) {
	case "erp", "chain", "links":
		if cfg.ERP == nil || strings.TrimSpace(cfg.ERP.URL) == "" {
			return fmt.Errorf("users.source %q requires erp.url", UsersSource(cfg))
		}
		if _, err := ParseDuration("erp.timeout", cfg.ERP.Timeout); err != nil {
			return err
		}
	default:
		return fmt.Errorf("users.source: unknown value %q", cfg.Users.Source)
	}
	if UsersSource(cfg) != "erp" && StorageDriver(cfg) == "" {
		return fmt.Errorf("users.source %q requires storage", UsersSource(cfg))
	}

	switch NotifyMode(cfg) {
	case "all", "added":
	default:
		return fmt.Errorf("notify.mode: unknown value %q", cfg.Notify.Mode)
	}

	if cfg.Storage != nil {
		if _, err := ParseDuration("storage.retention", cfg.Storage.Retention); err != nil {
			return err
		}
		if _, err := ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// UsersSource returns the normalized users.source value (default "erp").
func UsersSource(cfg *Config) string {
	s := strings.ToLower(strings.TrimSpace(cfg.Users.Source))
	if s == "" {
		return "erp"
	}
	return s
}

// NotifyMode returns the normalized notify.mode value (default "all").
func NotifyMode(cfg *Config) string {
	s := strings.ToLower(strings.TrimSpace(cfg.Notify.Mode))
	if s == "" {
		return "all"
	}
	return s
}

// StorageDriver returns the normalized driver name, or "" when storage is off.
func StorageDriver(cfg *Config) string {
	if cfg == nil || cfg.Storage == nil {
		return ""
	}
	d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if d == "none" {
		return ""
	}
	return d
}

// Doctypes returns the tracked document types (default ["Task"]).
func Doctypes(cfg *Config) []string {
	out := make([]string, 0, len(cfg.Hooks.Doctypes))
	for _, d := range cfg.Hooks.Doctypes {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return []string{"Task"}
	}
	return out
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
