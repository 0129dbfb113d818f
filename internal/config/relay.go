package config

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/datim/adx-mediator/internal/errs"
)

const defaultPollingInterval = time.Second

// RelayConfig is the mediator config block as pushed by the control-plane.
// PollingIntervalMS is in milliseconds.
type RelayConfig struct {
	UpstreamURL       string `json:"upstreamURL"`
	UpstreamTaskURL   string `json:"upstreamTaskURL"`
	ReceiverURL       string `json:"receiverURL"`
	UpstreamAsync     bool   `json:"upstreamAsync"`
	DHISAsync         bool   `json:"dhisAsync"`
	PollingIntervalMS int64  `json:"pollingInterval"`
}

// Interval is the delay between two task status checks.
func (r RelayConfig) Interval() time.Duration {
	if r.PollingIntervalMS <= 0 {
		return defaultPollingInterval
	}
	return time.Duration(r.PollingIntervalMS) * time.Millisecond
}

// Validate checks the fields a relay cannot work without.
func (r RelayConfig) Validate() error {
	if strings.TrimSpace(r.UpstreamURL) == "" {
		return errs.Config(nil, "relay config: upstreamURL is required", nil)
	}
	if r.DHISAsync && strings.TrimSpace(r.UpstreamTaskURL) == "" {
		return errs.Config(nil, "relay config: upstreamTaskURL is required when dhisAsync is set", nil)
	}
	return nil
}

// ParseRelayConfig decodes a config object received from the control-plane.
func ParseRelayConfig(raw []byte) (RelayConfig, error) {
	var cfg RelayConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return RelayConfig{}, errs.Parse(err, "relay config: invalid json", nil)
	}
	return cfg, nil
}
