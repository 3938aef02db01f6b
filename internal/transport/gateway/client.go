// Package gateway talks to an HTTP chat gateway that owns the actual
// chat session (pairing, reconnects). Inbound messages arrive separately
// through the relay's /inbound/message webhook.
//
// Wire format:
//
//	POST {url}/messages   {"to": "...", "text": "..."}
//	POST {url}/presence   {"status": "available"}
//	GET  {url}/status     {"state": "ready" | "connecting" | ...}
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/eventbus"
	"relaybot/internal/relayerr"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type Config struct {
	URL        string
	Token      string
	RatePerSec int
	RetryMax   int
	RetryBase  time.Duration
	// RetryMaxDelay caps a single backoff step.
	RetryMaxDelay time.Duration
	ReadyPoll     time.Duration
	Timeout       time.Duration
}

type Client struct {
	cfg     Config
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
	bus     eventbus.Bus
	state   *transport.StateTracker
}

// errPermanent marks responses that retrying cannot fix.
var errPermanent = errors.New("permanent gateway error")

func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("gateway url is empty")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.ReadyPoll <= 0 {
		cfg.ReadyPoll = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	log = log.With(logx.String("comp", "gateway"))
	c := &Client{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
		bus:     bus,
	}
	c.state = transport.NewStateTracker(func(from, to transport.State) {
		log.Info("transport state changed", logx.String("from", from.String()), logx.String("to", to.String()))
		bus.Publish(eventbus.Event{Type: eventbus.TransportState, Label: to.String()})
	})
	return c, nil
}

func (c *Client) State() transport.State { return c.state.State() }
func (c *Client) Ready() <-chan struct{} { return c.state.Ready() }

// Start polls the gateway status until ctx is done. While the gateway is
// unreachable or not ready the state stays "connecting" and polling backs
// off from 3s up to ReadyPoll.
func (c *Client) Start(ctx context.Context, _ chan<- transport.Message) error {
	reconnectBase := 3 * time.Second
	if reconnectBase > c.cfg.ReadyPoll {
		reconnectBase = c.cfg.ReadyPoll
	}
	c.state.Set(transport.StateConnecting)
	backoff := reconnectBase
	for {
		ready, err := c.pollStatus(ctx)
		wait := c.cfg.ReadyPoll
		switch {
		case ctx.Err() != nil:
			c.state.Set(transport.StateDisconnected)
			return nil
		case err != nil || !ready:
			if c.state.Set(transport.StateConnecting) || err != nil {
				c.log.Warn("gateway not ready; retrying", logx.Err(err), logx.Duration("backoff", backoff))
			}
			wait = backoff
			backoff *= 2
			if backoff > c.cfg.ReadyPoll {
				backoff = c.cfg.ReadyPoll
			}
		default:
			c.state.Set(transport.StateReady)
			backoff = reconnectBase
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			c.state.Set(transport.StateDisconnected)
			return nil
		case <-t.C:
		}
	}
}

func (c *Client) pollStatus(ctx context.Context) (bool, error) {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, c.base+"/status", nil)
	if err != nil {
		return false, err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return false, fmt.Errorf("status: http %d", resp.StatusCode)
	}
	var body struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err != nil {
		return false, fmt.Errorf("status: %w", err)
	}
	return strings.EqualFold(body.State, "ready"), nil
}

// Send delivers text to one destination, rate limited, retrying transient
// failures with jittered exponential backoff.
func (c *Client) Send(ctx context.Context, to, text string) error {
	maxAttempts := 1 + c.cfg.RetryMax
	var lastErr error
attempts:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}
		err := c.post(ctx, "/messages", map[string]string{"to": to, "text": text})
		if err == nil {
			c.bus.Publish(eventbus.Event{Type: eventbus.MessageSent, Label: "gateway"})
			return nil
		}
		lastErr = err
		if errors.Is(err, errPermanent) || attempt == maxAttempts {
			break
		}
		delay := retryDelay(c.cfg, attempt)
		c.log.Debug("send failed; retrying", logx.String("to", to), logx.Int("attempt", attempt), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			break attempts
		}
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.MessageFailed, Label: "gateway"})
	return relayerr.Transport("send to "+to, lastErr)
}

func (c *Client) SendPresence(ctx context.Context) error {
	return relayerr.Transport("presence", c.post(ctx, "/presence", map[string]string{"status": "available"}))
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("%s: http %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	return err
}

func (c *Client) authorize(req *http.Request) {
	if tok := strings.TrimSpace(c.cfg.Token); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
