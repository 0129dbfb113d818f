package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/datim/adx-mediator/internal/config"
	"github.com/datim/adx-mediator/internal/errs"
	"github.com/datim/adx-mediator/internal/openhim"
	"github.com/datim/adx-mediator/internal/transport"
	"github.com/datim/adx-mediator/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:               3000,
		ShutdownDrainSeconds:     0,
		ShutdownTimeoutSeconds:   2,
		MaxRequestSizeMB:         1,
		MaxResponseBodyMB:        1,
		DeliveryWorkerCount:      2,
		DeliveryQueueSize:        10,
		HeartbeatIntervalSeconds: 10,
		TLSKeyFile:               "testdata/missing-key.pem",
		TLSCertFile:              "testdata/missing-cert.pem",
	}
}

func testMediator(t *testing.T, relay config.RelayConfig) config.Mediator {
	t.Helper()
	m, err := config.LoadMediator("")
	if err != nil {
		t.Fatalf("load mediator: %v", err)
	}
	m.Config = relay
	return m
}

// newTestApp builds an app that skips TLS loading and uses its own metrics registry
func newTestApp(t *testing.T, cfg *config.Config, m config.Mediator) *App {
	t.Helper()
	a := NewApp(cfg, m, logger.Discard())
	a.client = transport.NewWithHTTPClient(&http.Client{}, 0)
	a.registry = prometheus.NewRegistry()
	return a
}

// TestApp_ReadinessFlag_StartsAsFalse verifies readiness flag initialization
func TestApp_ReadinessFlag_StartsAsFalse(t *testing.T) {
	a := NewApp(testConfig(), config.Mediator{URN: "urn:test"}, logger.Discard())

	if a.readiness.Load() {
		t.Error("expected readiness to start as false, got true")
	}
	if a.provider.Ready() {
		t.Error("expected no relay config before Run")
	}
}

// TestApp_InjectDependency_CreatesHandlers verifies handler initialization
func TestApp_InjectDependency_CreatesHandlers(t *testing.T) {
	a := newTestApp(t, testConfig(), testMediator(t, config.RelayConfig{UpstreamURL: "http://upstream"}))
	if err := a.injectDependency(); err != nil {
		t.Fatalf("injectDependency: %v", err)
	}

	if a.workerPool == nil || a.poller == nil {
		t.Fatal("expected worker pool and poller to be created")
	}
	if a.control != nil {
		t.Error("expected no control-plane client in standalone mode")
	}

	// Expected handlers: HealthHandler, RelayHandler
	if len(a.httpHandlers) != 2 {
		t.Errorf("expected 2 handlers, got %d", len(a.httpHandlers))
	}
}

// TestApp_InjectDependency_MissingTLSMaterial verifies unreadable key pairs are config errors
func TestApp_InjectDependency_MissingTLSMaterial(t *testing.T) {
	a := NewApp(testConfig(), config.Mediator{URN: "urn:test"}, logger.Discard())

	err := a.injectDependency()
	if err == nil {
		t.Fatal("expected error for missing TLS material")
	}
	if !errs.IsKind(err, errs.CodeConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}

// TestApp_InjectDependency_Registered verifies the control-plane client is built when registering
func TestApp_InjectDependency_Registered(t *testing.T) {
	cfg := testConfig()
	cfg.Register = true
	cfg.OpenHIMAPIURL = "https://localhost:8080"
	cfg.OpenHIMUsername = "root@openhim.org"

	a := newTestApp(t, cfg, testMediator(t, config.RelayConfig{}))
	if err := a.injectDependency(); err != nil {
		t.Fatalf("injectDependency: %v", err)
	}
	if a.control == nil {
		t.Error("expected control-plane client in registered mode")
	}
}

// TestApp_LoadRelayConfig_Standalone verifies the bundled config becomes the snapshot
func TestApp_LoadRelayConfig_Standalone(t *testing.T) {
	relay := config.RelayConfig{UpstreamURL: "http://upstream/api/dataValueSets", PollingIntervalMS: 500}
	a := newTestApp(t, testConfig(), testMediator(t, relay))
	if err := a.injectDependency(); err != nil {
		t.Fatalf("injectDependency: %v", err)
	}

	if err := a.loadRelayConfig(context.Background()); err != nil {
		t.Fatalf("loadRelayConfig: %v", err)
	}
	got, ok := a.provider.Current()
	if !ok || got != relay {
		t.Errorf("expected %+v, got %+v (ok=%v)", relay, got, ok)
	}
}

// TestApp_LoadRelayConfig_InvalidStandalone verifies a bundled config without upstream is rejected
func TestApp_LoadRelayConfig_InvalidStandalone(t *testing.T) {
	a := newTestApp(t, testConfig(), testMediator(t, config.RelayConfig{}))
	if err := a.injectDependency(); err != nil {
		t.Fatalf("injectDependency: %v", err)
	}

	err := a.loadRelayConfig(context.Background())
	if !errs.IsKind(err, errs.CodeConfig) {
		t.Errorf("expected config error, got %v", err)
	}
}

// TestApp_LoadRelayConfig_Registered verifies register + initial fetch against a fake core
func TestApp_LoadRelayConfig_Registered(t *testing.T) {
	registered := atomic.NewBool(false)
	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/authenticate/"):
			_, _ = w.Write([]byte(`{"salt":"s","ts":"t"}`))
		case r.URL.Path == "/mediators":
			registered.Store(true)
			w.WriteHeader(http.StatusCreated)
		case strings.HasSuffix(r.URL.Path, "/heartbeat"):
			_, _ = w.Write([]byte(`{"upstreamURL":"http://dhis/api/dataValueSets","receiverURL":"http://adapter"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer core.Close()

	a := newTestApp(t, testConfig(), testMediator(t, config.RelayConfig{}))
	a.control = openhim.New(transport.NewWithHTTPClient(core.Client(), 0), core.URL, "root@openhim.org", "pw", logger.Discard())
	if err := a.injectDependency(); err != nil {
		t.Fatalf("injectDependency: %v", err)
	}

	if err := a.loadRelayConfig(context.Background()); err != nil {
		t.Fatalf("loadRelayConfig: %v", err)
	}
	if !registered.Load() {
		t.Error("expected mediator to be registered")
	}
	got, _ := a.provider.Current()
	if got.UpstreamURL != "http://dhis/api/dataValueSets" || got.ReceiverURL != "http://adapter" {
		t.Errorf("unexpected fetched config %+v", got)
	}
}

// TestApp_Serve_RelaysAndShutsDown runs the full server against fake upstream and receiver
func TestApp_Serve_RelaysAndShutsDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	puts := make(chan string, 1)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		puts <- r.Method + " " + r.URL.Path + " " + string(body)
	}))
	defer receiver.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	a := newTestApp(t, testConfig(), testMediator(t, config.RelayConfig{
		UpstreamURL: upstream.URL + "/api/dataValueSets",
		ReceiverURL: receiver.URL,
	}))
	a.listener = ln
	if err := a.injectDependency(); err != nil {
		t.Fatalf("injectDependency: %v", err)
	}
	if err := a.loadRelayConfig(context.Background()); err != nil {
		t.Fatalf("loadRelayConfig: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()

	base := "http://" + ln.Addr().String()
	waitReady(t, base)

	res, err := http.Post(base+"/adx?adxAdapterID=abc123", "application/json", strings.NewReader(`{"a":1}`))
	if err != nil {
		t.Fatalf("relay request: %v", err)
	}
	var env map[string]any
	_ = json.NewDecoder(res.Body).Decode(&env)
	res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json+openhim" {
		t.Errorf("expected openhim content type, got %q", ct)
	}
	if env["x-mediator-urn"] != a.mediator.URN {
		t.Errorf("expected urn %q, got %v", a.mediator.URN, env["x-mediator-urn"])
	}

	select {
	case got := <-puts:
		if got != `PUT /abc123 {"code":200,"message":{"ok":true}}` {
			t.Errorf("unexpected receiver call %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver not notified")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	if a.readiness.Load() {
		t.Error("expected readiness=false after shutdown")
	}
}

func waitReady(t *testing.T, base string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		res, err := http.Get(base + "/readyz")
		if err == nil {
			res.Body.Close()
			if res.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server never became ready")
}
