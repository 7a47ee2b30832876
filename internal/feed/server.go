package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/fx"

	feedv1 "github.com/jdholdren/hornet/api/feed/v1"
	"github.com/jdholdren/hornet/internal/logger"
	"github.com/jdholdren/hornet/internal/serverutil"
)

type (
	// Server serves feeds over HTTP.
	Server struct {
		*http.Server
	}

	ServerConfig struct {
		Port int
		// Bounds the whole feed build, fan-out included.
		RequestTimeout time.Duration
	}

	ServerParams struct {
		fx.In

		Config  ServerConfig
		Service Service
		// Exposed on /metrics when given.
		Gatherer prometheus.Gatherer `optional:"true"`
	}
)

func NewServer(lc fx.Lifecycle, p ServerParams) Server {
	srvr := Server{
		Server: &http.Server{
			Addr:        fmt.Sprintf(":%d", p.Config.Port),
			ReadTimeout: 5 * time.Second,
			// Leave room to write the response after a feed that took the
			// whole request timeout.
			WriteTimeout: p.Config.RequestTimeout + 5*time.Second,
			Handler:      NewHandler(p.Config, p.Service, p.Gatherer),
		},
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Listen up front so a taken port fails startup.
			ln, err := net.Listen("tcp", srvr.Addr)
			if err != nil {
				return fmt.Errorf("error listening on %s: %w", srvr.Addr, err)
			}
			go func() {
				if err := srvr.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("error serving feed", "error", err)
				}
			}()

			slog.Info("started feed server", "port", p.Config.Port)

			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srvr.Shutdown(ctx)
		},
	})

	return srvr
}

// NewHandler wires the routes and middleware around svc.
func NewHandler(cfg ServerConfig, svc Service, gatherer prometheus.Gatherer) http.Handler {
	var (
		r   = serverutil.ErrRouter{Router: mux.NewRouter()}
		api = feedAPI{svc: svc, requestTimeout: cfg.RequestTimeout}
	)

	r.Use(logger.Middleware)
	r.Use(serverutil.AccessLogMiddleware) // Log everything
	r.HandleFuncE("/feed", api.getFeed).Methods(http.MethodGet)
	r.HandleFuncE("/healthz", api.getHealthz).Methods(http.MethodGet)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
	)(otelhttp.NewHandler(r, "feed"))
}

type feedAPI struct {
	svc            Service
	requestTimeout time.Duration
}

func (a feedAPI) getFeed(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	if a.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.requestTimeout)
		defer cancel()
	}

	posts, err := a.svc.Feed(ctx, r.Header.Get(feedv1.UserIDHeader))
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, posts)
}

func (a feedAPI) getHealthz(w http.ResponseWriter, r *http.Request) error {
	return serverutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Sends recovered panics through slog.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...any) {
	slog.Error("recovered from panic", "panic", fmt.Sprint(v...))
}
