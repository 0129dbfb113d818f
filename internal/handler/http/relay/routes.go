package relay

import (
	"github.com/labstack/echo/v4"
)

// SetupRoutes registers the catch-all relay route. Only POST is bridged.
func (h *RelayHandler) SetupRoutes(e *echo.Echo) {
	e.POST("/*", h.HandleRelay)
}
