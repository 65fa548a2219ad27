package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Submit    SubmitConfig    `json:"submit,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// SendRatePerSec caps outgoing gateway sends. 0 means the default (10/s).
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the reconciliation loop.
//
// All durations are Go duration strings (e.g. "20s", "15m").
//
// Timezone is the canonical timezone: every stored instant is normalized to it
// and all due-window comparisons happen in it. Changing it requires a restart
// (existing rows were normalized against the old zone).
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// TickPeriod is how often persisted requests are re-evaluated.
	// Default "20s". Hot-reloadable.
	TickPeriod string `json:"tick_period,omitempty"`

	// LeadTime is how long before a request's start it becomes eligible for
	// posting. Default "15m".
	LeadTime string `json:"lead_time,omitempty"`

	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./shiftbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SubmitConfig controls the submission path.
type SubmitConfig struct {
	// PendingTTL bounds how long an unfinished multi-step draft is kept in
	// memory before eviction. Default "5m".
	PendingTTL string `json:"pending_ttl,omitempty"`
}
