package httpiface

import "github.com/labstack/echo/v4"

// HttpRouter is implemented by every handler that mounts routes on the server
type HttpRouter interface {
	SetupRoutes(e *echo.Echo)
}
