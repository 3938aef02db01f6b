package config

// Config is the process configuration file (JSON or YAML).
//
// The routing document (groups, senders, admins) lives in its own file,
// see routing.path; this file only holds process wiring.
type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	Transport TransportConfig `json:"transport"`
	Routing   RoutingConfig   `json:"routing"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Keepalive KeepaliveConfig `json:"keepalive"`
	Mail      MailConfig      `json:"mail"`
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram"`
}

// HTTPConfig controls the webhook listener.
//
// Durations are Go duration strings (e.g. "10s").
type HTTPConfig struct {
	Addr         string `json:"addr"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

// TransportConfig selects the outbound chat transport.
//
// Driver values:
//   - "gateway": HTTP chat gateway (production)
//   - "console": prints outbound messages to the log (development)
type TransportConfig struct {
	Driver     string `json:"driver"`
	GatewayURL string `json:"gateway_url,omitempty"`
	Token      string `json:"token,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
	ReadyPoll  string `json:"ready_poll,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// RoutingConfig points at the routing document.
//
// Admin seeds the admin set when the document is created for the first time.
// PHONE_NUMBER from the environment overrides it.
type RoutingConfig struct {
	Path  string `json:"path"`
	Admin string `json:"admin,omitempty"`
}

// StorageConfig controls the reminder and audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/relaybot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls reminder milestones.
//
// UTCOffset is the fixed zone used to read and display deadlines ("+07:00").
// WarnOffsets lists how long before the deadline a warning fires.
type SchedulerConfig struct {
	UTCOffset   string   `json:"utc_offset,omitempty"`
	WarnOffsets []string `json:"warn_offsets,omitempty"`
}

// DispatchConfig sizes the inbound command worker pool.
type DispatchConfig struct {
	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

// KeepaliveConfig controls the periodic presence ping and housekeeping jobs.
type KeepaliveConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec,omitempty"`    // cron spec; default "@every 15m"
	Jitter  string `json:"jitter,omitempty"`  // extra random delay; default "5m"
	Compact string `json:"compact,omitempty"` // cron spec for store compaction; default "@hourly"
}

// MailConfig controls the IMAP inbox watcher.
//
// IMAP_SERVER, IMAP_PORT, EMAIL and PASSWORD from the environment
// override Addr, Username and Password.
type MailConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr,omitempty"` // host:port
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Mailbox  string `json:"mailbox,omitempty"`  // default "INBOX"
	Insecure bool   `json:"insecure,omitempty"` // plain TCP instead of TLS
	Spec     string `json:"spec,omitempty"`     // cron spec; default "@every 60s"
	MaxBody  int    `json:"max_body,omitempty"` // body limit in characters; default 2000
	Timeout  string `json:"timeout,omitempty"`  // bounds one poll; default "2m"
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
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig is the operator log chat. Only used when logging.telegram.enabled.
type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}
