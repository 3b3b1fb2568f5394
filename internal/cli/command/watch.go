package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tablemesh/tablemesh-go/internal/config"
	"github.com/tablemesh/tablemesh-go/internal/infra/shutdown"
	"github.com/tablemesh/tablemesh-go/internal/telemetry/logger"
)

// WatchCommand keeps the mirror running and periodically reports sync
// state per table until interrupted. It doubles as a long-running sidecar
// when combined with --metrics-addr.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Mirror tables and report sync state until interrupted",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Status report interval",
				Value: 5 * time.Second,
			},
		},
		Action: runWatch,
	}
}

func runWatch(c *cli.Context) error {
	eng, err := buildEngine(c)
	if err != nil {
		return err
	}

	handler := shutdown.NewHandler(10 * time.Second)
	handler.OnShutdown(func(ctx context.Context) error {
		eng.close()
		return nil
	})

	if path := c.String("config"); path != "" {
		watcher, err := startLogReload(path, eng.log)
		if err != nil {
			eng.close()
			return err
		}
		handler.OnShutdown(func(ctx context.Context) error {
			return watcher.Stop()
		})
	}

	ticker := time.NewTicker(c.Duration("interval"))
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				printStatus(eng)
			case <-handler.Done():
				return
			}
		}
	}()

	return handler.Wait()
}

// startLogReload watches the configuration file and applies log-level
// changes without a restart. Other settings still require one; only the
// level is safe to swap live.
func startLogReload(path string, log *slog.Logger) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(path, log)
	if err != nil {
		return nil, err
	}

	watcher.OnChange(func(changed string) {
		cfg, err := config.NewLoader(config.WithConfigFile(path)).Load(nil)
		if err != nil {
			log.Warn("config reload failed, keeping current settings", "file", changed, "error", err)
			return
		}
		if cfg.Log.Level != logger.GetLevel() {
			logger.SetLevel(cfg.Log.Level)
			log.Info("log level reloaded", "level", cfg.Log.Level)
		}
	})
	watcher.Start()
	return watcher, nil
}

func printStatus(eng *engine) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tSTATE\tGENERATION\tROWS")
	for _, name := range eng.cfg.Tables {
		t, ok := eng.store.Table(name)
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", name, t.State(), t.Generation(), t.RowCount())
	}
	tw.Flush()
	fmt.Fprintln(os.Stdout)
}
