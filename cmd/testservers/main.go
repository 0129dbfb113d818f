// Command testservers runs a fake DHIS2 upstream and a fake ADX adapter
// receiver for local end-to-end runs of the mediator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/datim/adx-mediator/pkg/logger"
)

type taskStatus struct {
	UID       string `json:"uid"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Time      string `json:"time"`
	Message   string `json:"message"`
	Completed bool   `json:"completed"`
}

func main() {
	upstreamPort := flag.Int("upstream-port", 8081, "port of the fake upstream")
	receiverPort := flag.Int("receiver-port", 8082, "port of the fake receiver")
	every := flag.Int64("complete-every", 3, "report a task completed on every n-th status request")
	flag.Parse()

	log := logger.New(logger.Options{Format: "text"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	servers := []struct {
		name string
		echo *echo.Echo
		port int
	}{
		{"upstream", newUpstream(*every, log), *upstreamPort},
		{"receiver", newReceiver(log), *receiverPort},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(func() error {
			log.Info("listening", "server", s.name, "port", s.port)
			if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return s.echo.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Fatal(log, "test servers stopped", "error", err)
	}
}

func newEcho(log *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(slogecho.New(log))
	e.Use(middleware.Recover())
	return e
}

// newUpstream answers imports with an empty 200 and reports the import task
// as completed on every n-th status check.
func newUpstream(every int64, log *slog.Logger) *echo.Echo {
	if every <= 0 {
		every = 1
	}
	taskRequests := atomic.NewInt64(0)

	e := newEcho(log)
	e.Any("/*", func(c echo.Context) error {
		body, _ := io.ReadAll(c.Request().Body)
		path := c.Request().URL.Path
		log.Info("upstream request", "method", c.Request().Method, "uri", c.Request().RequestURI, "body", string(body))

		switch {
		case strings.Contains(path, "dataValueSets"):
			return c.Blob(http.StatusOK, "application/xml", nil)
		case strings.Contains(path, "tasks"):
			n := taskRequests.Inc()
			return c.JSON(http.StatusOK, []taskStatus{{
				UID:       "hpiaeMy7wFX",
				Level:     "INFO",
				Category:  "DATAVALUE_IMPORT",
				Time:      time.Now().UTC().Format("2006-01-02T15:04:05.000-0700"),
				Message:   "Import done",
				Completed: n%every == 0,
			}})
		default:
			return c.NoContent(http.StatusNotFound)
		}
	})
	return e
}

// newReceiver logs every notification it gets.
func newReceiver(log *slog.Logger) *echo.Echo {
	e := newEcho(log)
	e.Any("/*", func(c echo.Context) error {
		body, _ := io.ReadAll(c.Request().Body)
		log.Info("receiver notified", "method", c.Request().Method, "uri", c.Request().RequestURI, "body", string(body))
		return c.NoContent(http.StatusOK)
	})
	return e
}
