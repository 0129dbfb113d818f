package relay

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/datim/adx-mediator/internal/config"
	"github.com/datim/adx-mediator/internal/metrics"
	"github.com/datim/adx-mediator/internal/poller"
	"github.com/datim/adx-mediator/internal/transport"
)

// ConfigSource hands out the relay config snapshot for one request.
type ConfigSource interface {
	Current() (config.RelayConfig, bool)
}

// SessionStarter starts a completion polling session.
type SessionStarter interface {
	Start(adapterID string, cfg config.RelayConfig) *poller.Session
}

// Deliverer notifies the receiver out-of-band.
type Deliverer interface {
	Deliver(ctx context.Context, receiverURL, adapterID string, code int, message []byte)
}

// RelayHandler forwards inbound POSTs upstream and answers every successful
// forward with a mediator envelope. Final results reach the receiver either
// right away (sync) or after polling the upstream task endpoint (async).
type RelayHandler struct {
	urn      string
	configs  ConfigSource
	client   transport.Doer
	sessions SessionStarter
	deliver  Deliverer
	log      *slog.Logger
}

// NewRelayHandler wires the relay. urn identifies this mediator in envelopes.
func NewRelayHandler(
	urn string,
	configs ConfigSource,
	client transport.Doer,
	sessions SessionStarter,
	deliver Deliverer,
	log *slog.Logger,
) *RelayHandler {
	if log == nil {
		log = slog.Default()
	}
	return &RelayHandler{
		urn:      urn,
		configs:  configs,
		client:   client,
		sessions: sessions,
		deliver:  deliver,
		log:      log,
	}
}

// HandleRelay handles POST /*.
//
// A failed forward gets no response at all: the caller's connection stays
// open until the caller gives up. Everything after the forward is detached
// from the caller's context, so a disconnect never cancels polling or delivery.
func (h *RelayHandler) HandleRelay(c echo.Context) error {
	cfg, ok := h.configs.Current()
	if !ok {
		h.log.Error("relay config not available yet")
		return c.NoContent(http.StatusServiceUnavailable)
	}

	req := c.Request()
	query, adapterID := forwardQuery(req.URL.Query(), cfg.UpstreamAsync)
	log := h.log.With("adapter_id", adapterID, "upstream_url", cfg.UpstreamURL)
	ctx := context.WithoutCancel(req.Context())

	log.InfoContext(ctx, "forwarding request upstream", "path", req.URL.Path)
	res, err := h.client.Do(ctx, transport.Request{
		Method:        http.MethodPost,
		URL:           cfg.UpstreamURL,
		Query:         query,
		Headers:       forwardHeaders(req.Header),
		Body:          req.Body,
		ContentLength: req.ContentLength,
	})
	if err != nil {
		metrics.RelayRequestsCounter.WithLabelValues("forward_failed").Inc()
		log.ErrorContext(ctx, "upstream forward failed", "error", err)
		<-req.Context().Done()
		return nil
	}
	metrics.UpstreamStatusCounter.WithLabelValues(strconv.Itoa(res.StatusCode)).Inc()

	// The envelope goes out before polling starts.
	writeErr := h.writeEnvelope(c, res)
	if writeErr != nil {
		log.ErrorContext(ctx, "write envelope", "error", writeErr)
	}

	if cfg.DHISAsync && res.StatusCode == http.StatusOK {
		metrics.RelayRequestsCounter.WithLabelValues("async").Inc()
		if adapterID == "" {
			log.WarnContext(ctx, "async import without adapter id, polling result will not be forwarded")
		}
		h.sessions.Start(adapterID, cfg)
		return nil
	}

	metrics.RelayRequestsCounter.WithLabelValues("sync").Inc()
	h.deliver.Deliver(ctx, cfg.ReceiverURL, adapterID, res.StatusCode, res.Body)
	return nil
}

func (h *RelayHandler) writeEnvelope(c echo.Context, res transport.Response) error {
	body, err := transport.EncodeJSON(newEnvelope(h.urn, res))
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, ContentTypeOpenHIM, body)
}
