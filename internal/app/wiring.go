package app

import (
	"io"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/housekeeping"
	"relaybot/internal/mailwatch"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/internal/transport/console"
	"relaybot/internal/transport/gateway"
	logx "relaybot/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

// newTransport builds the configured driver. The console driver reads
// stdin lines as messages from the routing admin.
func newTransport(cfg *config.Config, stdin io.Reader, log logx.Logger, bus eventbus.Bus) (transport.Transport, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Transport.Driver), "gateway") {
		retryBase, err := config.ParseDurationOrDefault("transport.retry_base", cfg.Transport.RetryBase, 0)
		if err != nil {
			return nil, err
		}
		readyPoll, err := config.ParseDurationOrDefault("transport.ready_poll", cfg.Transport.ReadyPoll, 0)
		if err != nil {
			return nil, err
		}
		timeout, err := config.ParseDurationOrDefault("transport.timeout", cfg.Transport.Timeout, 0)
		if err != nil {
			return nil, err
		}
		c, err := gateway.New(gateway.Config{
			URL:        cfg.Transport.GatewayURL,
			Token:      cfg.Transport.Token,
			RatePerSec: cfg.Transport.RatePerSec,
			RetryMax:   cfg.Transport.RetryMax,
			RetryBase:  retryBase,
			ReadyPoll:  readyPoll,
			Timeout:    timeout,
		}, log, bus)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return console.New(stdin, cfg.Routing.Admin, log, bus), nil
}

func mapHousekeepingConfig(cfg *config.Config, loc *time.Location) (housekeeping.Config, error) {
	jitter, err := config.ParseDurationOrDefault("keepalive.jitter", cfg.Keepalive.Jitter, 0)
	if err != nil {
		return housekeeping.Config{}, err
	}
	hc := housekeeping.Config{
		Location:    loc,
		Jitter:      jitter,
		CompactSpec: cfg.Keepalive.Compact,
	}
	if cfg.Keepalive.Enabled {
		hc.KeepaliveSpec = cfg.Keepalive.Spec
	}
	return hc, nil
}

func mapMailConfig(cfg *config.Config, loc *time.Location) (mailwatch.Config, mailwatch.Account, error) {
	timeout, err := config.ParseDurationOrDefault("mail.timeout", cfg.Mail.Timeout, 0)
	if err != nil {
		return mailwatch.Config{}, mailwatch.Account{}, err
	}
	return mailwatch.Config{
			Location: loc,
			Spec:     cfg.Mail.Spec,
			MaxBody:  cfg.Mail.MaxBody,
			Timeout:  timeout,
		}, mailwatch.Account{
			Addr:     cfg.Mail.Addr,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			Mailbox:  cfg.Mail.Mailbox,
			Insecure: cfg.Mail.Insecure,
		}, nil
}
