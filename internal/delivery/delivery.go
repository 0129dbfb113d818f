package delivery

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/datim/adx-mediator/internal/metrics"
	"github.com/datim/adx-mediator/internal/transport"
	"github.com/datim/adx-mediator/internal/worker"
)

// Submitter queues a job without blocking. Implemented by *worker.Pool.
type Submitter interface {
	SubmitJob(job worker.Job) error
}

// Notification is the body PUT to the receiver.
type Notification struct {
	Code    int             `json:"code"`
	Message json.RawMessage `json:"message"`
}

// Deliverer sends final results out-of-band to receiverURL/adapterID.
type Deliverer struct {
	jobs Submitter
	log  *slog.Logger
}

func New(jobs Submitter, log *slog.Logger) *Deliverer {
	if log == nil {
		log = slog.Default()
	}
	return &Deliverer{jobs: jobs, log: log}
}

// Deliver queues a PUT of {code, message} to receiverURL/adapterID. It never
// blocks on the network. Without an adapter ID there is no receiver to notify
// and the call is a no-op. Failures are logged and dropped.
func (d *Deliverer) Deliver(ctx context.Context, receiverURL, adapterID string, code int, message []byte) {
	log := d.log.With("adapter_id", adapterID, "code", code)

	if adapterID == "" {
		log.DebugContext(ctx, "no adapter id, skipping receiver notification")
		metrics.DeliveriesCounter.WithLabelValues("skipped").Inc()
		return
	}

	target, err := receiverTarget(receiverURL, adapterID)
	if err != nil {
		log.ErrorContext(ctx, "invalid receiver url", "receiver_url", receiverURL, "error", err)
		metrics.DeliveriesCounter.WithLabelValues("dropped").Inc()
		return
	}

	body, err := transport.EncodeJSON(Notification{Code: code, Message: transport.RawJSON(message)})
	if err != nil {
		log.ErrorContext(ctx, "encode receiver notification", "error", err)
		metrics.DeliveriesCounter.WithLabelValues("dropped").Inc()
		return
	}

	job := worker.Job{
		Method:  http.MethodPut,
		URL:     target,
		Headers: http.Header{"Content-Type": {"application/json"}},
		Body:    body,
	}
	if err := d.jobs.SubmitJob(job); err != nil {
		log.ErrorContext(ctx, "receiver notification dropped", "url", target, "error", err)
		metrics.DeliveriesCounter.WithLabelValues("dropped").Inc()
		return
	}
	log.InfoContext(ctx, "receiver notification queued", "url", target)
}

func receiverTarget(receiverURL, adapterID string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(receiverURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return "", err
	}
	return base + "/" + url.PathEscape(adapterID), nil
}
