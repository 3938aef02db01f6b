package config

import (
	"net"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Env holds the environment overlay. Values set here win over the config file.
//
// PHONE_NUMBER, PORT and the IMAP variables keep the names the deployed
// relay already uses; everything else is RELAY_*.
type Env struct {
	ConfigPath string `envconfig:"RELAY_CONFIG" default:"./config/relaybot.json"`

	PhoneNumber string `envconfig:"PHONE_NUMBER"`
	Port        string `envconfig:"PORT"`

	GatewayURL    string `envconfig:"RELAY_GATEWAY_URL"`
	GatewayToken  string `envconfig:"RELAY_GATEWAY_TOKEN"`
	TelegramToken string `envconfig:"RELAY_TELEGRAM_TOKEN"`
	StorageDriver string `envconfig:"RELAY_STORAGE_DRIVER"`
	StoragePath   string `envconfig:"RELAY_STORAGE_PATH"`
	LogLevel      string `envconfig:"RELAY_LOG_LEVEL"`

	IMAPServer   string `envconfig:"IMAP_SERVER"`
	IMAPPort     string `envconfig:"IMAP_PORT"`
	MailUser     string `envconfig:"EMAIL"`
	MailPassword string `envconfig:"PASSWORD"`
}

// LoadEnv reads the overlay from the process environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := envconfig.Process("", &e); err != nil {
		return Env{}, err
	}
	return e, nil
}

// AdminID is the admin identity derived from PHONE_NUMBER ("62812...@c.us").
func (e Env) AdminID() string {
	p := strings.TrimSpace(e.PhoneNumber)
	if p == "" {
		return ""
	}
	if strings.Contains(p, "@") {
		return p
	}
	return p + "@c.us"
}

// Overlay copies non-empty env values into cfg.
func (e Env) Overlay(cfg *Config) {
	if cfg == nil {
		return
	}
	if a := e.AdminID(); a != "" {
		cfg.Routing.Admin = a
	}
	if p := strings.TrimSpace(e.Port); p != "" {
		cfg.HTTP.Addr = ":" + strings.TrimPrefix(p, ":")
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Transport.GatewayURL, e.GatewayURL)
	set(&cfg.Transport.Token, e.GatewayToken)
	set(&cfg.Telegram.Token, e.TelegramToken)
	set(&cfg.Storage.Driver, e.StorageDriver)
	set(&cfg.Storage.Path, e.StoragePath)
	set(&cfg.Logging.Level, e.LogLevel)
	if a := e.IMAPAddr(); a != "" {
		cfg.Mail.Addr = a
	}
	set(&cfg.Mail.Username, e.MailUser)
	if e.MailPassword != "" {
		cfg.Mail.Password = e.MailPassword
	}
}

// IMAPAddr joins IMAP_SERVER and IMAP_PORT (default 993). Empty when
// IMAP_SERVER is unset.
func (e Env) IMAPAddr() string {
	host := strings.TrimSpace(e.IMAPServer)
	if host == "" {
		return ""
	}
	port := strings.TrimSpace(e.IMAPPort)
	if port == "" {
		port = DefaultIMAPPort
	}
	return net.JoinHostPort(host, port)
}
