package poller

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/datim/adx-mediator/internal/config"
	"github.com/datim/adx-mediator/internal/errs"
	"github.com/datim/adx-mediator/internal/metrics"
	"github.com/datim/adx-mediator/internal/transport"
)

// Notifier receives the first task record once the task completes.
type Notifier interface {
	Deliver(ctx context.Context, receiverURL, adapterID string, code int, message []byte)
}

// Poller runs one independent session per asynchronous import. Sessions share
// nothing but the secure client and the notifier.
type Poller struct {
	client transport.Doer
	notify Notifier
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex // guards closed against wg.Add racing Close
	closed bool
}

func New(client transport.Doer, notify Notifier, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{client: client, notify: notify, log: log, ctx: ctx, cancel: cancel}
}

// Start schedules status checks against cfg.UpstreamTaskURL every
// cfg.Interval(). The first check happens one interval after Start, and the
// next one is armed only after the previous check returned, so checks never
// overlap. Check errors are logged and retried on the next tick without bound.
//
// After Close, Start returns a session that has already ended.
func (p *Poller) Start(adapterID string, cfg config.RelayConfig) *Session {
	s := newSession(p.ctx, adapterID)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.Stop()
		close(s.done)
		p.log.Warn("poller closed, polling session not started", "adapter_id", adapterID)
		return s
	}
	p.wg.Add(1)
	p.mu.Unlock()

	metrics.ActiveSessionsGauge.Inc()
	go p.run(s, cfg)

	p.log.Info("polling session started", "adapter_id", adapterID, "task_url", cfg.UpstreamTaskURL, "interval", cfg.Interval())
	return s
}

// Close stops every session and waits for them up to timeout.
func (p *Poller) Close(timeout time.Duration) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
		p.log.Info("poller stopped")
	case <-time.After(timeout):
		p.log.Warn("poller stop timed out", "timeout", timeout)
	}
}

func (p *Poller) run(s *Session, cfg config.RelayConfig) {
	defer p.wg.Done()
	defer close(s.done)
	defer metrics.ActiveSessionsGauge.Dec()
	defer s.Stop()

	log := p.log.With("adapter_id", s.AdapterID)
	interval := cfg.Interval()

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Info("polling session cancelled", "ticks", s.Ticks())
			return
		case <-timer.C:
		}

		s.ticks.Inc()
		record, completed, err := p.check(s.ctx, cfg.UpstreamTaskURL)
		if s.ctx.Err() != nil {
			log.Info("polling session cancelled", "ticks", s.Ticks())
			return
		}

		switch {
		case err != nil:
			result := "transport_error"
			if errs.IsKind(err, errs.CodeParse) {
				result = "parse_error"
			}
			metrics.PollTicksCounter.WithLabelValues(result).Inc()
			log.Error("task status check failed", "error", err)
		case completed:
			metrics.PollTicksCounter.WithLabelValues("completed").Inc()
			s.completed.Store(true)
			s.Stop()
			log.Info("task completed, stopping polling", "ticks", s.Ticks())
			p.notify.Deliver(context.Background(), cfg.ReceiverURL, s.AdapterID, http.StatusOK, record)
			return
		default:
			metrics.PollTicksCounter.WithLabelValues("pending").Inc()
			log.Debug("task not completed yet", "ticks", s.Ticks())
		}

		timer.Reset(interval)
	}
}

// check fetches the task status and returns the first record and its
// completed flag. The status code is not inspected; only the body counts.
func (p *Poller) check(ctx context.Context, taskURL string) ([]byte, bool, error) {
	res, err := p.client.Do(ctx, transport.Request{Method: http.MethodGet, URL: taskURL})
	if err != nil {
		return nil, false, err
	}
	p.log.Debug("received task status", "status", res.StatusCode, "body", string(res.Body))
	return ParseTaskStatus(res.Body)
}

// ParseTaskStatus extracts the first record of a task status array.
func ParseTaskStatus(body []byte) ([]byte, bool, error) {
	if !gjson.ValidBytes(body) {
		return nil, false, errs.Parse(nil, "task status is not valid json", nil)
	}
	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, false, errs.Parse(nil, "task status is not an array", map[string]any{"type": root.Type.String()})
	}
	first := root.Get("0")
	if !first.Exists() {
		return nil, false, errs.Parse(nil, "task status array is empty", nil)
	}
	return []byte(first.Raw), first.Get("completed").Bool(), nil
}
