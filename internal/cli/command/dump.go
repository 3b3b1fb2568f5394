package command

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tablemesh/tablemesh-go/internal/cli/output"
	"github.com/tablemesh/tablemesh-go/internal/core/domain"
)

// DumpCommand prints the contents of the subscribed tables once the
// first snapshot round completes, then exits.
func DumpCommand() *cli.Command {
	return &cli.Command{
		Name:  "dump",
		Usage: "Print mirrored table contents and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "partition",
				Aliases: []string{"p"},
				Usage:   "Dump only this partition",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the first snapshot",
				Value: 30 * time.Second,
			},
		},
		Action: runDump,
	}
}

func runDump(c *cli.Context) error {
	eng, err := buildEngine(c)
	if err != nil {
		return err
	}
	defer eng.close()

	if err := eng.awaitReady(c.Duration("timeout")); err != nil {
		return err
	}

	formatter := output.NewFormatter(output.Format(c.String("output")))
	partition := c.String("partition")

	for _, name := range eng.cfg.Tables {
		reader := eng.readers[name]

		var rows []*domain.RowRecord
		if partition != "" {
			rows, err = reader.GetPartition(partition)
		} else {
			t, ok := eng.store.Table(name)
			if !ok {
				return fmt.Errorf("table %s vanished", name)
			}
			rows = t.Rows()
		}
		if err != nil {
			return err
		}

		if len(eng.cfg.Tables) > 1 {
			fmt.Fprintf(os.Stdout, "# %s (%d rows)\n", name, len(rows))
		}
		if err := formatter.FormatRows(os.Stdout, rows); err != nil {
			return err
		}
	}
	return nil
}
