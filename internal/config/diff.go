package config

import (
	"reflect"
	"strings"

	logx "assignbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections, safe
// structured fields for logging (never secrets) and whether any changed
// section needs a restart to take effect. Only "logging" applies live.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 12)
	restart := false

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Telegram: never log the token, only whether it changed.
	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.APIURL) != strings.TrimSpace(newCfg.Telegram.APIURL) ||
		strings.TrimSpace(oldCfg.Telegram.Timeout) != strings.TrimSpace(newCfg.Telegram.Timeout) ||
		oldCfg.Telegram.Poll != newCfg.Telegram.Poll {
		changed = append(changed, "telegram")
		restart = true
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Bool("telegram.poll_enabled", newCfg.Telegram.Poll.Enabled),
		)
	}

	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		restart = true
		attrs = append(attrs,
			logx.String("server.addr", newCfg.Server.Addr),
			logx.Bool("server.jwt_set", strings.TrimSpace(newCfg.Server.JWTSecret) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.ERP, newCfg.ERP) {
		changed = append(changed, "erp")
		restart = true
		if newCfg.ERP != nil {
			attrs = append(attrs, logx.String("erp.url", newCfg.ERP.URL))
		}
	}

	if oldCfg.Users != newCfg.Users {
		changed = append(changed, "users")
		restart = true
		attrs = append(attrs, logx.String("users.source", UsersSource(newCfg)))
	}

	if !reflect.DeepEqual(Doctypes(oldCfg), Doctypes(newCfg)) {
		changed = append(changed, "hooks")
		restart = true
		attrs = append(attrs, logx.Strs("hooks.doctypes", Doctypes(newCfg)))
	}

	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
		restart = true
		attrs = append(attrs, logx.String("notify.mode", NotifyMode(newCfg)))
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		restart = true
		attrs = append(attrs, logx.String("storage.driver", StorageDriver(newCfg)))
	}

	return changed, attrs, restart
}
