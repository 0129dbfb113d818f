package health

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/atomic"
)

// ConfigState reports whether a relay config snapshot has been loaded.
type ConfigState interface {
	Ready() bool
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	serving *atomic.Bool
	configs ConfigState
}

// NewHealthHandler wires the probes. serving flips to true once the listener
// accepts and back to false when shutdown starts; configs may be nil.
func NewHealthHandler(serving *atomic.Bool, configs ConfigState) *HealthHandler {
	return &HealthHandler{
		serving: serving,
		configs: configs,
	}
}

// HandleLiveness handles GET /healthz. Always 200.
func (h *HealthHandler) HandleLiveness(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// HandleReadiness handles GET /readyz.
// 200 only while serving and a relay config snapshot is available, 503 otherwise.
func (h *HealthHandler) HandleReadiness(c echo.Context) error {
	if h.Ready() {
		return c.NoContent(http.StatusOK)
	}
	return c.NoContent(http.StatusServiceUnavailable)
}

// Ready reports the same state as HandleReadiness.
func (h *HealthHandler) Ready() bool {
	if !h.serving.Load() {
		return false
	}
	return h.configs == nil || h.configs.Ready()
}
