package openhim

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/datim/adx-mediator/internal/config"
	"github.com/datim/adx-mediator/internal/errs"
	"github.com/datim/adx-mediator/internal/metrics"
	"github.com/datim/adx-mediator/internal/transport"
)

// Client talks to the OpenHIM core API: registration, config fetch and heartbeats.
type Client struct {
	apiURL   string
	username string
	password string
	doer     transport.Doer
	started  time.Time
	now      func() time.Time
	log      *slog.Logger
}

// New builds a control-plane client. apiURL has no trailing slash.
func New(doer transport.Doer, apiURL, username, password string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		apiURL:   strings.TrimRight(apiURL, "/"),
		username: username,
		password: password,
		doer:     doer,
		started:  time.Now(),
		now:      time.Now,
		log:      log,
	}
}

// Register posts the mediator document. 200 and 201 are both accepted.
func (c *Client) Register(ctx context.Context, m config.Mediator) error {
	res, err := c.authedPost(ctx, c.apiURL+"/mediators", m.Raw)
	if err != nil {
		return errs.Config(err, "register mediator", map[string]any{"urn": m.URN})
	}
	if res.StatusCode != http.StatusCreated && res.StatusCode != http.StatusOK {
		return errs.Config(nil, "register mediator rejected", map[string]any{
			"urn":         m.URN,
			"status_code": res.StatusCode,
			"body":        string(res.Body),
		})
	}
	c.log.Info("mediator registered", "urn", m.URN, "status", res.StatusCode)
	return nil
}

// FetchConfig asks the control-plane for the stored mediator config.
func (c *Client) FetchConfig(ctx context.Context, urn string) (config.RelayConfig, error) {
	cfg, ok, err := c.Heartbeat(ctx, urn, true)
	if err != nil {
		return config.RelayConfig{}, errs.Config(err, "fetch initial mediator config", map[string]any{"urn": urn})
	}
	if !ok {
		return config.RelayConfig{}, errs.Config(nil, "control-plane returned no mediator config", map[string]any{"urn": urn})
	}
	if err := cfg.Validate(); err != nil {
		return config.RelayConfig{}, err
	}
	return cfg, nil
}

// Heartbeat reports uptime. forceConfig asks for the config even if it did not
// change. ok is true when the response carries a config object.
func (c *Client) Heartbeat(ctx context.Context, urn string, forceConfig bool) (config.RelayConfig, bool, error) {
	beat := map[string]any{"uptime": c.now().Sub(c.started).Seconds()}
	if forceConfig {
		beat["config"] = true
	}
	body, err := json.Marshal(beat)
	if err != nil {
		return config.RelayConfig{}, false, errs.Parse(err, "encode heartbeat", nil)
	}

	res, err := c.authedPost(ctx, c.apiURL+"/mediators/"+url.PathEscape(urn)+"/heartbeat", body)
	if err != nil {
		return config.RelayConfig{}, false, err
	}
	if res.StatusCode != http.StatusOK {
		return config.RelayConfig{}, false, errs.Transport(nil, "heartbeat rejected", map[string]any{
			"urn":         urn,
			"status_code": res.StatusCode,
		})
	}

	if !hasConfig(res.Body) {
		return config.RelayConfig{}, false, nil
	}
	cfg, err := config.ParseRelayConfig(res.Body)
	if err != nil {
		return config.RelayConfig{}, false, err
	}
	return cfg, true, nil
}

// Watch sends a heartbeat every interval and stores any config the
// control-plane hands back. Failed beats are logged and retried on the next
// tick. A pushed config that fails validation is logged and ignored.
// Returns nil once ctx is done.
func (c *Client) Watch(ctx context.Context, urn string, interval time.Duration, provider *config.Provider) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		cfg, ok, err := c.Heartbeat(ctx, urn, false)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("heartbeat failed", "urn", urn, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if err := cfg.Validate(); err != nil {
			c.log.Error("rejected pushed mediator config, keeping current snapshot", "urn", urn, "error", err)
			continue
		}
		c.log.Info("received updated mediator config", "urn", urn, "config", cfg)
		provider.Store(cfg)
		metrics.ConfigUpdatesCounter.Inc()
	}
}

func (c *Client) authedPost(ctx context.Context, target string, body []byte) (transport.Response, error) {
	headers, err := c.authenticate(ctx)
	if err != nil {
		return transport.Response{}, err
	}
	headers.Set("Content-Type", "application/json")
	return c.doer.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     target,
		Headers: headers,
		Body:    bytes.NewReader(body),
	})
}

func requestGet(target string) transport.Request {
	return transport.Request{Method: http.MethodGet, URL: target}
}

// hasConfig reports whether body is a non-empty JSON object.
func hasConfig(body []byte) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(body), &obj); err != nil {
		return false
	}
	return len(obj) > 0
}
