package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"relaybot/internal/relayerr"
)

const (
	DefaultHTTPAddr     = ":3000"
	DefaultRoutingPath  = "./config/routing.json"
	DefaultStoragePath  = "./data/relaybot.db"
	DefaultUTCOffset    = "+07:00"
	DefaultKeepSpec     = "@every 15m"
	DefaultKeepJitter   = "5m"
	DefaultCompactSpec  = "@hourly"
	DefaultTransportDrv = "console"
	DefaultMailSpec     = "@every 60s"
	DefaultMailbox      = "INBOX"
	DefaultMailMaxBody  = 2000
	DefaultIMAPPort     = "993"
)

// DefaultWarnOffsets are the warning milestones before a deadline.
var DefaultWarnOffsets = []string{"45m", "30m"}

// ApplyDefaults fills zero values in place.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if strings.TrimSpace(c.Transport.Driver) == "" {
		c.Transport.Driver = DefaultTransportDrv
	}
	if c.Transport.RatePerSec <= 0 {
		c.Transport.RatePerSec = 5
	}
	if c.Transport.RetryMax <= 0 {
		c.Transport.RetryMax = 3
	}
	if strings.TrimSpace(c.Routing.Path) == "" {
		c.Routing.Path = DefaultRoutingPath
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "sqlite"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if strings.TrimSpace(c.Scheduler.UTCOffset) == "" {
		c.Scheduler.UTCOffset = DefaultUTCOffset
	}
	if c.Scheduler.WarnOffsets == nil {
		c.Scheduler.WarnOffsets = append([]string(nil), DefaultWarnOffsets...)
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = 128
	}
	if strings.TrimSpace(c.Keepalive.Spec) == "" {
		c.Keepalive.Spec = DefaultKeepSpec
	}
	if strings.TrimSpace(c.Keepalive.Jitter) == "" {
		c.Keepalive.Jitter = DefaultKeepJitter
	}
	if strings.TrimSpace(c.Keepalive.Compact) == "" {
		c.Keepalive.Compact = DefaultCompactSpec
	}
	if strings.TrimSpace(c.Mail.Mailbox) == "" {
		c.Mail.Mailbox = DefaultMailbox
	}
	if strings.TrimSpace(c.Mail.Spec) == "" {
		c.Mail.Spec = DefaultMailSpec
	}
	if c.Mail.MaxBody <= 0 {
		c.Mail.MaxBody = DefaultMailMaxBody
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks a defaulted config. It is also the reload validator.
func Validate(_ context.Context, c *Config) error {
	if c == nil {
		return relayerr.Validation("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := ParseDurationField("http.read_timeout", c.HTTP.ReadTimeout)
	check(err)
	_, err = ParseDurationField("http.write_timeout", c.HTTP.WriteTimeout)
	check(err)
	_, err = ParseDurationField("transport.retry_base", c.Transport.RetryBase)
	check(err)
	_, err = ParseDurationField("transport.ready_poll", c.Transport.ReadyPoll)
	check(err)
	_, err = ParseDurationField("transport.timeout", c.Transport.Timeout)
	check(err)
	_, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	check(err)
	_, err = ParseDurationField("dispatch.timeout", c.Dispatch.Timeout)
	check(err)
	_, err = ParseDurationField("keepalive.jitter", c.Keepalive.Jitter)
	check(err)
	_, err = ParseDurationField("mail.timeout", c.Mail.Timeout)
	check(err)
	_, err = ParseUTCOffset("scheduler.utc_offset", c.Scheduler.UTCOffset)
	check(err)
	_, err = ParseDurationList("scheduler.warn_offsets", c.Scheduler.WarnOffsets)
	check(err)

	switch strings.ToLower(strings.TrimSpace(c.Transport.Driver)) {
	case "console":
	case "gateway":
		if strings.TrimSpace(c.Transport.GatewayURL) == "" {
			check(errors.New("transport.gateway_url is required for the gateway driver"))
		}
	default:
		check(fmt.Errorf("transport.driver: unknown driver %q", c.Transport.Driver))
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "file", "sqlite", "sqlite3":
	default:
		check(fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if c.Keepalive.Enabled {
		if _, err := parser.Parse(c.Keepalive.Spec); err != nil {
			check(fmt.Errorf("keepalive.spec: %w", err))
		}
	}
	if _, err := parser.Parse(c.Keepalive.Compact); err != nil {
		check(fmt.Errorf("keepalive.compact: %w", err))
	}

	if c.Mail.Enabled {
		if _, err := parser.Parse(c.Mail.Spec); err != nil {
			check(fmt.Errorf("mail.spec: %w", err))
		}
		if strings.TrimSpace(c.Mail.Addr) == "" || strings.TrimSpace(c.Mail.Username) == "" || c.Mail.Password == "" {
			check(errors.New("mail.addr, mail.username and mail.password are required when mail.enabled"))
		}
	}

	if c.Logging.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" || c.Telegram.ChatID == 0 {
			check(errors.New("telegram.token and telegram.chat_id are required when logging.telegram.enabled"))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return relayerr.Validation("%w", errors.Join(errs...))
}
