package app

import (
	"strings"
	"time"

	"assignbot/internal/assign"
	"assignbot/internal/config"
	"assignbot/internal/hookserver"
	"assignbot/internal/storage"
	"assignbot/internal/transport/telegram"
	"assignbot/internal/users"
	logx "assignbot/pkg/logx"
)

const defaultPruneSchedule = "@hourly"

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.DurationOr("telegram.timeout", cfg.Telegram.Timeout, telegram.DefaultTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	pollTimeout, err := config.DurationOr("telegram.poll.timeout", cfg.Telegram.Poll.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		APIURL:      cfg.Telegram.APIURL,
		Timeout:     timeout,
		Poll:        cfg.Telegram.Poll.Enabled,
		PollTimeout: pollTimeout,
	}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapServerConfig(cfg *config.Config) (hookserver.Config, error) {
	rt, err := config.ParseDuration("server.read_timeout", cfg.Server.ReadTimeout)
	if err != nil {
		return hookserver.Config{}, err
	}
	wt, err := config.ParseDuration("server.write_timeout", cfg.Server.WriteTimeout)
	if err != nil {
		return hookserver.Config{}, err
	}
	return hookserver.Config{Addr: strings.TrimSpace(cfg.Server.Addr), ReadTimeout: rt, WriteTimeout: wt}, nil
}

// mapStorageConfig reports enabled=false when no driver is configured.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	driver := config.StorageDriver(cfg)
	if driver == "" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		DSN:         strings.TrimSpace(cfg.Storage.DSN),
		BusyTimeout: busy,
	}, true, nil
}

// mapRetention returns the error-log retention and its cron schedule.
// A zero retention disables pruning.
func mapRetention(cfg *config.Config) (time.Duration, string, error) {
	if cfg.Storage == nil {
		return 0, "", nil
	}
	ret, err := config.ParseDuration("storage.retention", cfg.Storage.Retention)
	if err != nil || ret <= 0 {
		return 0, "", err
	}
	spec := strings.TrimSpace(cfg.Storage.PruneSchedule)
	if spec == "" {
		spec = defaultPruneSchedule
	}
	return ret, spec, nil
}

func mapERPConfig(cfg *config.Config) (users.ERPConfig, error) {
	if cfg.ERP == nil {
		return users.ERPConfig{}, users.ErrNotConfigured
	}
	timeout, err := config.DurationOr("erp.timeout", cfg.ERP.Timeout, users.DefaultERPTimeout)
	if err != nil {
		return users.ERPConfig{}, err
	}
	return users.ERPConfig{
		URL:       cfg.ERP.URL,
		APIKey:    cfg.ERP.APIKey,
		APISecret: cfg.ERP.APISecret,
		Field:     strings.TrimSpace(cfg.ERP.Field),
		Timeout:   timeout,
	}, nil
}

// buildDirectory assembles the users directory for users.source. The
// chain asks ERP first so a self-service link never overrides an ERP
// record.
func buildDirectory(cfg *config.Config, store storage.Store) (users.Directory, error) {
	source := config.UsersSource(cfg)
	var erp *users.ERP
	if source == "erp" || source == "chain" {
		ec, err := mapERPConfig(cfg)
		if err != nil {
			return nil, err
		}
		if erp, err = users.NewERP(ec); err != nil {
			return nil, err
		}
	}
	switch source {
	case "erp":
		return erp, nil
	case "links":
		return users.Links{Store: store}, nil
	default:
		return users.Chain{erp, users.Links{Store: store}}, nil
	}
}

// buildAccounts returns the ERP client used to verify /link logins, or
// nil when no ERP is configured and self-service linking is off.
func buildAccounts(cfg *config.Config) (*users.ERP, error) {
	if cfg.ERP == nil || strings.TrimSpace(cfg.ERP.URL) == "" {
		return nil, nil
	}
	ec, err := mapERPConfig(cfg)
	if err != nil {
		return nil, err
	}
	return users.NewERP(ec)
}

func notifyMode(cfg *config.Config) assign.Mode {
	if config.NotifyMode(cfg) == "added" {
		return assign.ModeAdded
	}
	return assign.ModeAll
}
