package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"relaybot/internal/relayerr"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestDecodeJSONAndYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	jp := writeFile(t, dir, "a.json", `{"http":{"addr":":8080"},"scheduler":{"warn_offsets":["10m"]}}`)
	yp := writeFile(t, dir, "a.yaml", "http:\n  addr: \":8080\"\nscheduler:\n  warn_offsets: [\"10m\"]\n")

	for _, p := range []string{jp, yp} {
		var cfg Config
		if err := DecodeFile(p, &cfg); err != nil {
			t.Fatalf("DecodeFile(%s): %v", filepath.Base(p), err)
		}
		if cfg.HTTP.Addr != ":8080" {
			t.Fatalf("%s: addr=%q", filepath.Base(p), cfg.HTTP.Addr)
		}
		if len(cfg.Scheduler.WarnOffsets) != 1 || cfg.Scheduler.WarnOffsets[0] != "10m" {
			t.Fatalf("%s: warn_offsets=%v", filepath.Base(p), cfg.Scheduler.WarnOffsets)
		}
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown json", file: "x.json", body: `{"htp":{}}`},
		{name: "unknown yaml", file: "x.yml", body: "nope: 1\n"},
		{name: "trailing", file: "x.json", body: `{} {}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var cfg Config
			if err := Decode(tt.file, []byte(tt.body), &cfg); err == nil {
				t.Fatalf("expected error for %q", tt.body)
			}
		})
	}
}

func TestParseUTCOffset(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		secs int
		bad  bool
	}{
		{raw: "+07:00", secs: 7 * 3600},
		{raw: "+0700", secs: 7 * 3600},
		{raw: "-03:30", secs: -(3*3600 + 30*60)},
		{raw: "+7", secs: 7 * 3600},
		{raw: "", secs: 0},
		{raw: "UTC", secs: 0},
		{raw: "07:00", bad: true},
		{raw: "+25:00", bad: true},
	}
	ref := time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		loc, err := ParseUTCOffset("x", tt.raw)
		if tt.bad {
			if err == nil {
				t.Fatalf("ParseUTCOffset(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseUTCOffset(%q): %v", tt.raw, err)
		}
		if _, off := ref.In(loc).Zone(); off != tt.secs {
			t.Fatalf("ParseUTCOffset(%q) offset=%d want %d", tt.raw, off, tt.secs)
		}
	}
}

func TestParseDurationList(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationList("w", []string{"45m", "30m"})
	if err != nil {
		t.Fatalf("ParseDurationList: %v", err)
	}
	if len(got) != 2 || got[0] != 45*time.Minute || got[1] != 30*time.Minute {
		t.Fatalf("unexpected: %v", got)
	}
	if _, err := ParseDurationList("w", []string{"0s"}); err == nil {
		t.Fatal("expected error for zero offset")
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	Env{PhoneNumber: "628123", Port: "8081", GatewayToken: "tok"}.Overlay(&cfg)
	if cfg.Routing.Admin != "628123@c.us" {
		t.Fatalf("admin=%q", cfg.Routing.Admin)
	}
	if cfg.HTTP.Addr != ":8081" {
		t.Fatalf("addr=%q", cfg.HTTP.Addr)
	}
	if cfg.Transport.Token != "tok" {
		t.Fatalf("token=%q", cfg.Transport.Token)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	ok := Config{}
	ok.ApplyDefaults()
	if err := Validate(context.Background(), &ok); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	bad := ok
	bad.Transport.Driver = "gateway"
	bad.Scheduler.UTCOffset = "seven"
	err := Validate(context.Background(), &bad)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, relayerr.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestManagerReloadPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "relaybot.json", `{"logging":{"level":"info"}}`)

	m := NewConfigManager(p, Env{})
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	m.reload(context.Background())
	select {
	case <-ch:
		t.Fatal("unchanged content must not publish")
	default:
	}

	writeFile(t, dir, "relaybot.json", `{"logging":{"level":"debug"}}`)
	m.reload(context.Background())
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level=%q", cfg.Logging.Level)
		}
	default:
		t.Fatal("expected publish after change")
	}

	writeFile(t, dir, "relaybot.json", `{"storage":{"driver":"mongo"}}`)
	m.reload(context.Background())
	if got := m.Get().Logging.Level; got != "debug" {
		t.Fatalf("rejected config must not commit, level=%q", got)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := Config{}
	a.ApplyDefaults()
	b := a
	b.Logging.Level = "debug"
	changed, _ := SummarizeConfigChange(&a, &b)
	if len(changed) != 1 || changed[0] != "logging" {
		t.Fatalf("changed=%v", changed)
	}
	if RestartRequired(changed) {
		t.Fatal("logging is applied live")
	}
	b.Transport.Token = "secret"
	changed, _ = SummarizeConfigChange(&a, &b)
	if !RestartRequired(changed) {
		t.Fatalf("transport change needs restart: %v", changed)
	}
}

func TestMailEnvOverlayAndValidation(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	cfg.ApplyDefaults()
	if cfg.Mail.Mailbox != "INBOX" || cfg.Mail.Spec != "@every 60s" || cfg.Mail.MaxBody != 2000 {
		t.Fatalf("mail defaults: %+v", cfg.Mail)
	}

	cfg.Mail.Enabled = true
	if err := Validate(context.Background(), &cfg); err == nil || !strings.Contains(err.Error(), "mail.addr") {
		t.Fatalf("enabled mail without credentials must fail, got %v", err)
	}

	Env{IMAPServer: "imap.example.org", MailUser: "relay@example.org", MailPassword: "pw"}.Overlay(&cfg)
	if cfg.Mail.Addr != "imap.example.org:993" {
		t.Fatalf("addr=%q", cfg.Mail.Addr)
	}
	if cfg.Mail.Username != "relay@example.org" || cfg.Mail.Password != "pw" {
		t.Fatalf("credentials not applied: %+v", cfg.Mail)
	}
	if err := Validate(context.Background(), &cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}

	Env{IMAPServer: "127.0.0.1", IMAPPort: "1143"}.Overlay(&cfg)
	if cfg.Mail.Addr != "127.0.0.1:1143" {
		t.Fatalf("addr=%q", cfg.Mail.Addr)
	}

	cfg.Mail.Spec = "every minute"
	if err := Validate(context.Background(), &cfg); err == nil || !strings.Contains(err.Error(), "mail.spec") {
		t.Fatalf("bad spec must fail, got %v", err)
	}
}

func TestSummarizeConfigChangeHidesMailPassword(t *testing.T) {
	t.Parallel()
	a := Config{}
	a.ApplyDefaults()
	b := a
	b.Mail.Password = "hunter2"

	changed, attrs := SummarizeConfigChange(&a, &b)
	if len(changed) != 1 || changed[0] != "mail" {
		t.Fatalf("changed=%v", changed)
	}
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	ev := l.Info()
	for _, f := range attrs {
		f(ev)
	}
	ev.Send()
	if strings.Contains(buf.String(), "hunter2") {
		t.Fatalf("password leaked into log attrs: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"mail.password_set":true`) {
		t.Fatalf("missing password_set attr: %s", buf.String())
	}
}
