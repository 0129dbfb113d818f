package config

import (
	_ "embed"
	"encoding/json"
	"os"
	"strings"

	"github.com/datim/adx-mediator/internal/errs"
)

//go:embed mediator.json
var defaultMediatorDocument []byte

// Mediator is the registration document sent to the control-plane. Only the
// fields the mediator itself reads are typed; Raw is what gets registered.
type Mediator struct {
	URN     string      `json:"urn"`
	Version string      `json:"version"`
	Name    string      `json:"name"`
	Config  RelayConfig `json:"config"`

	Raw json.RawMessage `json:"-"`
}

// LoadMediator reads the registration document from path, or the embedded
// default when path is empty.
func LoadMediator(path string) (Mediator, error) {
	raw := defaultMediatorDocument
	if path = strings.TrimSpace(path); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Mediator{}, errs.Config(err, "read mediator config file", map[string]any{"path": path})
		}
		raw = b
	}
	return ParseMediator(raw)
}

func ParseMediator(raw []byte) (Mediator, error) {
	var m Mediator
	if err := json.Unmarshal(raw, &m); err != nil {
		return Mediator{}, errs.Config(err, "decode mediator config", nil)
	}
	if strings.TrimSpace(m.URN) == "" {
		return Mediator{}, errs.Config(nil, "mediator config: urn is required", nil)
	}
	m.Raw = append(json.RawMessage(nil), raw...)
	return m, nil
}
