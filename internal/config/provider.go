package config

import (
	"go.uber.org/atomic"
)

// Provider hands out the current RelayConfig snapshot. Store replaces the
// snapshot as a whole so a reader never sees fields from two versions.
type Provider struct {
	current atomic.Pointer[RelayConfig]
	onStore func(RelayConfig)
}

// NewProvider returns an empty provider. onStore, if set, is called after each Store.
func NewProvider(onStore func(RelayConfig)) *Provider {
	return &Provider{onStore: onStore}
}

// NewStaticProvider returns a provider already holding cfg.
func NewStaticProvider(cfg RelayConfig) *Provider {
	p := NewProvider(nil)
	p.Store(cfg)
	return p
}

// Current returns a copy of the snapshot and whether one has been stored.
func (p *Provider) Current() (RelayConfig, bool) {
	snap := p.current.Load()
	if snap == nil {
		return RelayConfig{}, false
	}
	return *snap, true
}

// Ready reports whether a snapshot is available.
func (p *Provider) Ready() bool {
	return p.current.Load() != nil
}

func (p *Provider) Store(cfg RelayConfig) {
	snap := cfg
	p.current.Store(&snap)
	if p.onStore != nil {
		p.onStore(snap)
	}
}
