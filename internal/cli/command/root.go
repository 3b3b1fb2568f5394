// Package command defines the tablemesh-cli commands.
//
// It uses urfave/cli/v2 for command parsing. Two commands exist: watch
// keeps the mirror running and reports per-table sync state until
// interrupted, dump waits for the first snapshot round and prints table
// contents once. Every command builds the same engine stack (config,
// logger, mirror store, feed client, optional bootstrap cache) and
// differs only in what it does with the readers. Flag values override
// the config file and environment.
package command

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/tablemesh/tablemesh-go/internal/cache"
	"github.com/tablemesh/tablemesh-go/internal/config"
	"github.com/tablemesh/tablemesh-go/internal/feed"
	"github.com/tablemesh/tablemesh-go/internal/infra/buildinfo"
	"github.com/tablemesh/tablemesh-go/internal/mirror"
	"github.com/tablemesh/tablemesh-go/internal/telemetry/logger"
	"github.com/tablemesh/tablemesh-go/internal/telemetry/metric"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "tablemesh-cli",
		Usage:   "TableMesh mirror client",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			WatchCommand(),
			DumpCommand(),
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to YAML configuration file",
			EnvVars: []string{"TABLEMESH_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Change feed address (host:port)",
			EnvVars: []string{"TABLEMESH_SERVER_ADDR"},
		},
		&cli.StringSliceFlag{
			Name:    "table",
			Aliases: []string{"t"},
			Usage:   "Table to subscribe (repeatable)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json",
			Value:   "table",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Serve Prometheus metrics on this address (e.g. :9180)",
		},
	}
}

// engine is the assembled client stack shared by all commands.
type engine struct {
	cfg     config.Config
	log     *slog.Logger
	client  *feed.Client
	store   *mirror.Store
	cache   *cache.Cache
	readers map[string]*mirror.Reader
}

// buildEngine loads configuration, applies flag overrides, and starts the
// mirror store and feed client with every configured table subscribed.
func buildEngine(c *cli.Context) (*engine, error) {
	overrides := map[string]any{}
	if addr := c.String("server"); addr != "" {
		overrides["server.addr"] = addr
	}
	if level := c.String("log-level"); level != "" {
		overrides["log.level"] = level
	}
	if tables := c.StringSlice("table"); len(tables) > 0 {
		overrides["tables"] = tables
	}

	var opts []config.Option
	if path := c.String("config"); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	cfg, err := config.NewLoader(opts...).Load(overrides)
	if err != nil {
		return nil, err
	}
	if len(cfg.Tables) == 0 {
		return nil, fmt.Errorf("no tables to subscribe; use --table or the config file")
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	registry := prometheus.NewRegistry()
	metrics := metric.New(registry)
	if addr := c.String("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("metrics listener failed", "addr", addr, "error", err)
			}
		}()
	}

	storeOpts := []mirror.Option{
		mirror.WithLogger(log),
		mirror.WithMetrics(metrics),
		mirror.WithSweepInterval(cfg.Mirror.SweepInterval),
	}
	if !cfg.Mirror.ServeStale {
		storeOpts = append(storeOpts, mirror.WithBlockDuringSync())
	}
	store := mirror.NewStore(storeOpts...)

	clientOpts := []feed.ClientOption{
		feed.WithClientLogger(log),
		feed.WithClientMetrics(metrics),
	}

	var bootCache *cache.Cache
	if cfg.Cache.Enabled {
		bootCache, err = cache.Open(cache.Config{
			Dir:           cfg.Cache.Dir,
			EncryptionKey: []byte(cfg.Cache.EncryptionKey),
		}, log)
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, feed.WithCache(bootCache))
	}

	client := feed.NewClient(feed.Config{
		Addr:         cfg.Server.Addr,
		AppName:      cfg.Server.AppName,
		DialTimeout:  cfg.Server.DialTimeout,
		PingInterval: cfg.Server.PingInterval,
	}, store, clientOpts...)

	eng := &engine{
		cfg:     cfg,
		log:     log,
		client:  client,
		store:   store,
		cache:   bootCache,
		readers: make(map[string]*mirror.Reader, len(cfg.Tables)),
	}
	for _, name := range cfg.Tables {
		r, err := client.Subscribe(name)
		if err != nil {
			eng.close()
			return nil, err
		}
		eng.readers[name] = r
	}

	client.Start()
	return eng, nil
}

func (e *engine) close() {
	e.client.Close()
	e.store.Close()
	if e.cache != nil {
		e.cache.Close()
	}
}

// awaitReady polls until every subscribed table completes its first
// snapshot round, or the timeout passes.
func (e *engine) awaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ready := true
		for _, r := range e.readers {
			if !r.IsReady() {
				ready = false
				break
			}
		}
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("tables not ready after %s", timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
