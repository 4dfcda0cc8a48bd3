// Package config loads and watches the bridge configuration.
//
// Files may be YAML or JSON. YAML is coerced to JSON so both formats
// go through the same strict decoder (unknown fields are rejected).
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type Config struct {
	Mattermost MattermostConfig `json:"mattermost"`
	Telegram   TelegramConfig   `json:"telegram"`
	Bridge     BridgeConfig     `json:"bridge"`
	WorkHours  WorkHoursConfig  `json:"work_hours"`
	Dedup      DedupConfig      `json:"dedup,omitempty"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Logging    LoggingConfig    `json:"logging"`
}

type MattermostConfig struct {
	ServerURL    string `json:"server_url"`
	Team         string `json:"team"`
	BearerToken  string `json:"bearer_token"`
	ChannelID    string `json:"channel_id"`
	WebhookToken string `json:"webhook_token,omitempty"`
	WebhookAddr  string `json:"webhook_addr,omitempty"` // default "127.0.0.1:8065" disabled when empty? see Validate
	BotUserID    string `json:"bot_user_id,omitempty"`  // discovered via /users/me when empty

	// PollInterval is a Go duration string; "0s" disables the poll producer.
	PollInterval string `json:"poll_interval,omitempty"`

	// QualifyPattern decides which posts enter the pipeline at all.
	QualifyPattern string `json:"qualify_pattern,omitempty"`
}

type TelegramConfig struct {
	Token          string `json:"token"`
	EscalationChat int64  `json:"escalation_chat"`
	SupervisorChat int64  `json:"supervisor_chat"`
	PollTimeout    string `json:"poll_timeout,omitempty"`
}

// BridgeConfig controls the escalation engine.
// All durations are Go duration strings (e.g. "30s", "1h").
type BridgeConfig struct {
	ResponseDeadline string `json:"response_deadline,omitempty"` // default "1h"
	AckText          string `json:"ack_text,omitempty"`
	QueueSize        int    `json:"queue_size,omitempty"`       // default 256
	EnqueueTimeout   string `json:"enqueue_timeout,omitempty"`  // default "2s"
	RatePerSec       int    `json:"rate_per_sec,omitempty"`     // outbound sends, default 3
	RetryMax         int    `json:"retry_max,omitempty"`        // default 2
	LookupTimeout    string `json:"lookup_timeout,omitempty"`   // user-info lookup bound, default "3s"
}

// WorkHoursConfig declares per-zone quiet windows. A local hour inside
// any window means "non-working time": the message is escalated
// instead of auto-acknowledged. Windows are half-open [start, end) and
// may wrap past midnight (end < start).
type WorkHoursConfig struct {
	Zones []ZoneWindow `json:"zones"`
}

type ZoneWindow struct {
	Location string `json:"location"` // IANA name, e.g. "Asia/Yekaterinburg"
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

type DedupConfig struct {
	TTL           string `json:"ttl,omitempty"`            // default "24h"
	SweepSchedule string `json:"sweep_schedule,omitempty"` // cron spec, default "@hourly"
}

type StorageConfig struct {
	Driver      string `json:"driver"` // "sqlite" or "none"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string            `json:"level,omitempty"`
	Console  bool              `json:"console"`
	File     LogFileConfig     `json:"file,omitempty"`
	Telegram LogTelegramConfig `json:"telegram,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LogTelegramConfig mirrors warnings/errors into the supervisor chat.
type LogTelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

const DefaultQualifyPattern = `\d{2}-\d{3,5}`

// Validate rejects configs that cannot be safely applied. It is used
// both at startup and as the hot-reload gate.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Mattermost.ServerURL) == "" {
		return fmt.Errorf("mattermost.server_url is required")
	}
	if strings.TrimSpace(c.Mattermost.BearerToken) == "" {
		return fmt.Errorf("mattermost.bearer_token is required")
	}
	if strings.TrimSpace(c.Mattermost.ChannelID) == "" {
		return fmt.Errorf("mattermost.channel_id is required")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Telegram.EscalationChat == 0 {
		return fmt.Errorf("telegram.escalation_chat is required")
	}
	if c.Telegram.SupervisorChat == 0 {
		return fmt.Errorf("telegram.supervisor_chat is required")
	}
	if len(c.WorkHours.Zones) == 0 {
		return fmt.Errorf("work_hours.zones must not be empty")
	}
	for i, z := range c.WorkHours.Zones {
		if _, err := time.LoadLocation(strings.TrimSpace(z.Location)); err != nil {
			return fmt.Errorf("work_hours.zones[%d].location: invalid %q: %w", i, z.Location, err)
		}
		if z.Start < 0 || z.Start > 23 || z.End < 0 || z.End > 24 {
			return fmt.Errorf("work_hours.zones[%d]: hours must be within 0..24", i)
		}
	}
	if p := strings.TrimSpace(c.Mattermost.QualifyPattern); p != "" {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("mattermost.qualify_pattern: %w", err)
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"mattermost.poll_interval", c.Mattermost.PollInterval},
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"bridge.response_deadline", c.Bridge.ResponseDeadline},
		{"bridge.enqueue_timeout", c.Bridge.EnqueueTimeout},
		{"bridge.lookup_timeout", c.Bridge.LookupTimeout},
		{"dedup.ttl", c.Dedup.TTL},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Bridge.QueueSize < 0 {
		return fmt.Errorf("bridge.queue_size must be >= 0")
	}
	if c.Bridge.RetryMax < 0 {
		return fmt.Errorf("bridge.retry_max must be >= 0")
	}
	return nil
}
