package config

import (
	"reflect"
	"strings"

	logx "relaybot/pkg/logx"
)

// SummarizeConfigChange returns the changed section names plus safe
// structured attrs for logging (never includes secrets like tokens).
//
// Only the logging section is applied live; the caller warns that the
// other sections need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.String("http.addr", newCfg.HTTP.Addr))
	}

	// Transport (never log token)
	ot, nt := oldCfg.Transport, newCfg.Transport
	tokenChanged := (strings.TrimSpace(ot.Token) != "") != (strings.TrimSpace(nt.Token) != "")
	ot.Token, nt.Token = "", ""
	if ot != nt || tokenChanged {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.driver", nt.Driver),
			logx.Int("transport.rate_per_sec", nt.RatePerSec),
			logx.Bool("transport.token_set", strings.TrimSpace(newCfg.Transport.Token) != ""),
		)
	}

	if oldCfg.Routing != newCfg.Routing {
		changed = append(changed, "routing")
		attrs = append(attrs, logx.String("routing.path", newCfg.Routing.Path))
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.utc_offset", newCfg.Scheduler.UTCOffset),
			logx.Strings("scheduler.warn_offsets", newCfg.Scheduler.WarnOffsets),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.Int("dispatch.workers", newCfg.Dispatch.Workers),
			logx.Int("dispatch.queue_size", newCfg.Dispatch.QueueSize),
		)
	}

	if oldCfg.Keepalive != newCfg.Keepalive {
		changed = append(changed, "keepalive")
		attrs = append(attrs,
			logx.Bool("keepalive.enabled", newCfg.Keepalive.Enabled),
			logx.String("keepalive.spec", newCfg.Keepalive.Spec),
		)
	}

	// Mail (never log the password)
	om, nm := oldCfg.Mail, newCfg.Mail
	passwordChanged := om.Password != nm.Password
	om.Password, nm.Password = "", ""
	if om != nm || passwordChanged {
		changed = append(changed, "mail")
		attrs = append(attrs,
			logx.Bool("mail.enabled", nm.Enabled),
			logx.String("mail.addr", nm.Addr),
			logx.String("mail.spec", nm.Spec),
			logx.Bool("mail.password_set", newCfg.Mail.Password != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Telegram (never log token)
	if oldCfg.Telegram.ChatID != newCfg.Telegram.ChatID ||
		oldCfg.Telegram.ThreadID != newCfg.Telegram.ThreadID ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
		)
	}

	return changed, attrs
}

// RestartRequired reports whether any changed section is only read at startup.
func RestartRequired(changed []string) bool {
	for _, s := range changed {
		if s != "logging" {
			return true
		}
	}
	return false
}
