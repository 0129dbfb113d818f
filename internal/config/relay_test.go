package config

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRelayConfig_Interval(t *testing.T) {
	require.Equal(t, 1500*time.Millisecond, RelayConfig{PollingIntervalMS: 1500}.Interval())
	require.Equal(t, time.Second, RelayConfig{}.Interval())
	require.Equal(t, time.Second, RelayConfig{PollingIntervalMS: -5}.Interval())
}

func TestRelayConfig_Validate(t *testing.T) {
	require.Error(t, RelayConfig{}.Validate())
	require.Error(t, RelayConfig{UpstreamURL: "https://dhis/api", DHISAsync: true}.Validate())
	require.NoError(t, RelayConfig{UpstreamURL: "https://dhis/api"}.Validate())
}

func TestParseRelayConfig(t *testing.T) {
	cfg, err := ParseRelayConfig([]byte(`{"upstreamURL":"https://dhis/api","dhisAsync":true,"pollingInterval":250}`))
	require.NoError(t, err)
	require.Equal(t, "https://dhis/api", cfg.UpstreamURL)
	require.True(t, cfg.DHISAsync)
	require.Equal(t, 250*time.Millisecond, cfg.Interval())

	_, err = ParseRelayConfig([]byte(`not json`))
	require.Error(t, err)
}

func TestProvider_EmptyUntilStored(t *testing.T) {
	var stored []RelayConfig
	p := NewProvider(func(cfg RelayConfig) { stored = append(stored, cfg) })

	_, ok := p.Current()
	require.False(t, ok)
	require.False(t, p.Ready())

	p.Store(RelayConfig{UpstreamURL: "https://a"})
	cur, ok := p.Current()
	require.True(t, ok)
	require.Equal(t, "https://a", cur.UpstreamURL)
	require.Len(t, stored, 1)
}

func TestProvider_SnapshotIsCopy(t *testing.T) {
	p := NewStaticProvider(RelayConfig{UpstreamURL: "https://a"})

	cur, _ := p.Current()
	cur.UpstreamURL = "https://mutated"

	again, _ := p.Current()
	require.Equal(t, "https://a", again.UpstreamURL)
}

func TestProvider_ConcurrentSwapNeverTears(t *testing.T) {
	a := RelayConfig{UpstreamURL: "https://a", ReceiverURL: "https://a/rec", PollingIntervalMS: 1}
	b := RelayConfig{UpstreamURL: "https://b", ReceiverURL: "https://b/rec", PollingIntervalMS: 2}
	p := NewStaticProvider(a)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if i%2 == 0 {
				p.Store(b)
			} else {
				p.Store(a)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			cur, _ := p.Current()
			if cur != a && cur != b {
				t.Errorf("torn snapshot: %+v", cur)
				return
			}
		}
	}()
	wg.Wait()
}
