// Command agentrelay runs multi-stage research pipelines and inspects the
// runs persisted in a SQLite artifact store.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentrelay/artifact/sqlite"
	"github.com/hupe1980/agentrelay/logging"
)

type globalFlags struct {
	dbPath    string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "agentrelay",
		Short:         "Run resilient multi-stage agent pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.dbPath, "db", "agentrelay.db", "SQLite database for reports and final artifacts")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "text", "Log format (text or json)")

	root.AddCommand(newRunCmd(g), newListCmd(g), newShowCmd(g))
	return root
}

func (g *globalFlags) logger(w io.Writer) *logging.PipelineLogger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     logging.ParseLevel(g.logLevel),
		Format:    g.logFormat,
		Output:    w,
		Component: "agentrelay",
	})
}

func (g *globalFlags) openStore() (*sqlite.Store, error) {
	store, err := sqlite.Open(g.dbPath)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	return store, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
