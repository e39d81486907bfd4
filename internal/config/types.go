package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Server   ServerConfig   `json:"server"`

	// ERP is the host platform REST API used for user-record lookups.
	// Required when users.source is "erp" or "chain".
	ERP *ERPConfig `json:"erp,omitempty"`

	Users  UsersConfig  `json:"users"`
	Hooks  HooksConfig  `json:"hooks"`
	Notify NotifyConfig `json:"notify"`

	Storage *StorageConfig `json:"storage,omitempty"`
}

// TelegramConfig configures the Bot API client.
//
// Token may be left empty in the file and supplied through
// ASSIGNBOT_TELEGRAM_TOKEN instead.
type TelegramConfig struct {
	Token string `json:"token"`
	// APIURL defaults to "https://api.telegram.org".
	APIURL string `json:"api_url,omitempty"`
	// Timeout is a Go duration string applied to every sendMessage call.
	// Default: "10s".
	Timeout string     `json:"timeout,omitempty"`
	Poll    PollConfig `json:"poll"`
}

// PollConfig enables the long-poll bot that answers /start, /link and /unlink.
type PollConfig struct {
	Enabled bool   `json:"enabled"`
	Timeout string `json:"timeout,omitempty"` // default: "10s"
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ServerConfig controls the webhook endpoint the host platform calls.
//
// Security note: when JWTSecret is empty the endpoint is unauthenticated;
// bind it to a private address in that case.
type ServerConfig struct {
	Addr         string `json:"addr,omitempty"` // default: "127.0.0.1:8085"
	JWTSecret    string `json:"jwt_secret,omitempty"`
	JWTIssuer    string `json:"jwt_issuer,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

type ERPConfig struct {
	URL       string `json:"url"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Timeout   string `json:"timeout,omitempty"` // default: "10s"
	// Field is the custom User field holding the Telegram id.
	// Default: "telegram_user_id".
	Field string `json:"field,omitempty"`
}

// UsersConfig selects where messaging identifiers come from.
//
// Source values:
//   - "erp": host REST API only
//   - "links": local link table only (filled by /link)
//   - "chain": erp first, then links
type UsersConfig struct {
	Source string `json:"source"`
}

// HooksConfig lists the tracked document types. Default: ["Task"].
type HooksConfig struct {
	Doctypes []string `json:"doctypes,omitempty"`
}

// NotifyConfig shapes the rendered message and recipient selection.
type NotifyConfig struct {
	// Mode is "all" (every user in the new list) or "added" (only users
	// missing from the previous list). Default: "all".
	Mode      string `json:"mode,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/assignbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres only
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	// Retention drops error-log entries older than this duration.
	// Empty or "0s" keeps everything.
	Retention string `json:"retention,omitempty"`
	// PruneSchedule is a cron spec for retention pruning. Default: "@hourly".
	PruneSchedule string `json:"prune_schedule,omitempty"`
}
