// Feed serves a user's feed, built from the posts of the accounts they follow.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/jdholdren/hornet/internal/feed"
	"github.com/jdholdren/hornet/internal/logger"
	"github.com/jdholdren/hornet/internal/metrics"
	"github.com/jdholdren/hornet/internal/telemetry"
	"github.com/jdholdren/hornet/internal/upstream"
)

type config struct {
	FollowersURL string `env:"FOLLOWERS_SERVICE_URL, default=http://localhost:5001"`
	PostsURL     string `env:"POSTS_SERVICE_URL, default=http://localhost:5002"`

	Port  int  `env:"PORT"`
	Debug bool `env:"DEBUG, default=false"`
	// Read when PORT and DEBUG aren't set, for deployments of the older
	// feed service.
	FlaskPort  int  `env:"FLASK_PORT"`
	FlaskDebug bool `env:"FLASK_DEBUG, default=false"`
	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`

	Strategy          string        `env:"FEED_STRATEGY, default=plain"`
	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT, default=5s"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT, default=10s"`
	FanoutConcurrency int           `env:"FANOUT_CONCURRENCY, default=8"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTELServiceName string `env:"OTEL_SERVICE_NAME, default=feed"`
}

const defaultPort = 5000

func loadConfig(ctx context.Context, l envconfig.Lookuper) (config, error) {
	var cfg config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return config{}, err
	}

	if cfg.Port == 0 {
		cfg.Port = cfg.FlaskPort
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	cfg.Debug = cfg.Debug || cfg.FlaskDebug

	return cfg, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %s", err)
	}

	// Parse the config
	cfg, err := loadConfig(ctx, envconfig.OsLookuper())
	if err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	l := logger.New(os.Stdout, cfg.LoggerFormat, cfg.Debug)
	slog.SetDefault(l)

	strategy, err := feed.NewStrategy(cfg.Strategy)
	if err != nil {
		fatal("error configuring feed", "error", err)
	}
	if cfg.FanoutConcurrency < 1 {
		fatal("FANOUT_CONCURRENCY must be at least 1", "got", cfg.FanoutConcurrency)
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.OTELServiceName,
	})
	if err != nil {
		fatal("error setting up tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Error("error flushing traces", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	client := upstream.New(upstream.Config{
		FollowersURL: cfg.FollowersURL,
		PostsURL:     cfg.PostsURL,
		Timeout:      cfg.UpstreamTimeout,
	}, m)

	// Start the application
	fx.New(
		fx.WithLogger(func() fxevent.Logger { return &fxevent.SlogLogger{Logger: l} }),
		fx.Supply(
			feed.ServiceConfig{Concurrency: cfg.FanoutConcurrency},
			feed.ServerConfig{Port: cfg.Port, RequestTimeout: cfg.RequestTimeout},
			m,
			fx.Annotate(reg, fx.As(new(prometheus.Gatherer))),
			fx.Annotate(client, fx.As(new(feed.FollowingLister))),
			fx.Annotate(client, fx.As(new(feed.AuthorPostsLister))),
		),
		fx.Provide(func() feed.Strategy { return strategy }),
		feed.Module,
		fx.Invoke(func(feed.Server) {}), // Start the feed server
	).Run()
}

// Logs through the installed slog logger and exits.
func fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}
