package main

import (
	"crypto/tls"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/IliaW/sitemap-intel/config"
	cacheClient "github.com/IliaW/sitemap-intel/internal/cache"
	"github.com/IliaW/sitemap-intel/internal/classify"
	"github.com/IliaW/sitemap-intel/internal/discovery"
	"github.com/IliaW/sitemap-intel/internal/fetcher"
	"github.com/IliaW/sitemap-intel/internal/persistence"
	"github.com/IliaW/sitemap-intel/internal/reconcile"
	"github.com/IliaW/sitemap-intel/internal/telemetry"
	_ "github.com/lib/pq"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"
	"golang.org/x/time/rate"
)

var (
	cfg *config.Config
	db  *sql.DB
)

func main() {
	app := &cli.App{
		Name:  "sitemap-intel",
		Usage: "discover, classify and store company website pages from their sitemaps",
		Before: func(c *cli.Context) error {
			cfg = config.MustLoad()
			setupLogger()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "batch",
				Usage:  "select companies and run discovery for all of them",
				Flags:  selectionFlags(),
				Action: batchAction,
			},
			{
				Name:  "enqueue",
				Usage: "select companies and publish a discovery task for each of them to SQS",
				Flags: append(selectionFlags(), &cli.IntFlag{
					Name:  "priority",
					Usage: "priority attached to every published task",
					Value: 5,
				}),
				Action: enqueueAction,
			},
			{
				Name:   "serve",
				Usage:  "consume discovery tasks from SQS until stopped",
				Action: serveAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("command failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func selectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "strategy",
			Usage: "company selection: sitemap_polluted or never_discovered (defaults to selection.strategy)",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "maximum number of companies, 0 for all (defaults to selection.limit)",
			Value: -1,
		},
	}
}

func setupLogger() *slog.Logger {
	envLogLevel := strings.ToLower(cfg.LogLevel)
	var slogLevel slog.Level
	err := slogLevel.UnmarshalText([]byte(envLogLevel))
	if err != nil {
		log.Printf("encountenred log level: '%s'. The package does not support custom log levels", envLogLevel)
		slogLevel = slog.LevelDebug
	}
	log.Printf("slog level overwritten to '%v'", slogLevel)
	slog.SetLogLoggerLevel(slogLevel)

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       slogLevel,
			ReplaceAttr: replaceAttrs,
			NoColor:     cfg.Env != "local"}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupDatabase() *sql.DB {
	slog.Info("connecting to the database...")
	connStr := fmt.Sprintf("user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		cfg.DbSettings.User,
		cfg.DbSettings.Password,
		cfg.DbSettings.Host,
		cfg.DbSettings.Port,
		cfg.DbSettings.Name,
	)
	database, err := sql.Open("postgres", connStr)
	if err != nil {
		slog.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(cfg.DbSettings.ConnMaxLifetime)
	database.SetMaxOpenConns(cfg.DbSettings.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DbSettings.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		slog.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr != nil {
			slog.Error("not responding.", slog.String("err", pingErr.Error()))
			if i == maxRetry {
				slog.Error("failed to establish database connection.")
				os.Exit(1)
			}
			slog.Info(fmt.Sprintf("wait %d seconds", 5*i))
			time.Sleep(time.Duration(5*i) * time.Second)
		} else {
			break
		}
	}
	slog.Info("connected to the database!")

	return database
}

func closeDatabase() {
	slog.Info("closing database connection.")
	err := db.Close()
	if err != nil {
		slog.Error("failed to close database connection.", slog.String("err", err.Error()))
	}
}

func setupHttpClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.HttpClientSettings.MaxIdleConnections,
		MaxIdleConnsPerHost: cfg.HttpClientSettings.MaxIdleConnectionsPerHost,
		MaxConnsPerHost:     cfg.HttpClientSettings.MaxConnectionsPerHost,
		IdleConnTimeout:     cfg.HttpClientSettings.IdleConnectionTimeout,
		TLSHandshakeTimeout: cfg.HttpClientSettings.TlsHandshakeTimeout,
		DialContext: (&net.Dialer{
			Timeout:   cfg.HttpClientSettings.DialTimeout,
			KeepAlive: cfg.HttpClientSettings.DialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.HttpClientSettings.TlsInsecureSkipVerify,
		},
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.HttpClientSettings.RequestTimeout,
	}
}

func setupCache() cacheClient.LocatorCache {
	if cfg.CacheSettings == nil || !cfg.CacheSettings.Enabled {
		slog.Info("entry point cache is disabled.")
		return cacheClient.NoopCache{}
	}
	return cacheClient.NewMemcachedClient(cfg.CacheSettings)
}

// setupDiscovery wires the single-company pipeline. The http client, the rate limiter and the
// database pool are shared by every worker.
func setupDiscovery(metrics *telemetry.MetricsProvider, cache cacheClient.LocatorCache) *discovery.Service {
	rateLimiter := rate.NewLimiter(rate.Every(cfg.WorkerSettings.TimeInterval), cfg.WorkerSettings.RequestsLimit)
	docFetcher := fetcher.New(setupHttpClient(), cfg.WorkerSettings.UserAgent,
		fetcher.WithRateLimiter(rateLimiter),
		fetcher.WithMaxBytes(cfg.DiscoverySettings.MaxDocumentBytes),
		fetcher.WithMetrics(metrics.FetchMetrics))
	engine := reconcile.New(persistence.NewWebsiteRepository(db), cfg.DiscoverySettings)

	return discovery.NewService(docFetcher, classify.New(classify.DefaultTaxonomy()), engine, cache,
		cfg.DiscoverySettings)
}

func kafkaEnabled() bool {
	return cfg.KafkaSettings != nil && cfg.KafkaSettings.Enabled && cfg.KafkaSettings.Producer != nil
}

func healthCheckHandler() {
	http.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
	if err := http.ListenAndServe(":"+cfg.Port, nil); err != nil {
		slog.Error("http server error", slog.String("err", err.Error()))
	}
}
