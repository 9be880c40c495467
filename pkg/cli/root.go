// Package cli implements govctl, the operator CLI for the access governance
// ledger. Commands work directly against the SQLite store.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"farm-access/internal/app"
	"farm-access/internal/catalog"
	"farm-access/internal/config"
	internaldb "farm-access/internal/db"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd(os.Stdout)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(os.Stdout, map[string]string{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// globals are the persistent flags shared by every command.
type globals struct {
	dbPath      string
	catalogPath string
	output      string
	verbose     bool
	out         io.Writer
	cfg         *config.Config
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globals{out: out}

	rootCmd := &cobra.Command{
		Use:           "govctl",
		Short:         "Farm access governance operator CLI",
		Long:          "Operate the access governance ledger: migrations, sweeps, drift scans, analytics and grants.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutputFormat(g.output); err != nil {
				return err
			}
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// Apply precedence: flag > env > default
			if cmd.Flags().Changed("db") {
				cfg.DBPath = g.dbPath
			}
			if cmd.Flags().Changed("catalog") {
				cfg.CatalogPath = g.catalogPath
			}
			g.cfg = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.dbPath, "db", "", "SQLite ledger path (default $DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&g.catalogPath, "catalog", "", "permission catalog YAML (default $CATALOG_PATH or built-in)")
	rootCmd.PersistentFlags().StringVarP(&g.output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Log at debug level to stderr")

	rootCmd.AddCommand(
		newMigrateCmd(g),
		newSweepCmd(g),
		newDriftCmd(g),
		newRemediateCmd(g),
		newAnalyticsCmd(g),
		newCheckCmd(g),
		newGrantRoleCmd(g),
		newVersionCmd(g),
	)
	return rootCmd
}

func (g *globals) logger() *slog.Logger {
	level := g.cfg.SlogLevel()
	if g.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// session is an opened store with the services wired over it.
type session struct {
	*app.App
	store *internaldb.Store
}

func (s *session) Close() {
	s.Shutdown()
	_ = s.store.Close()
}

// open migrates and opens the ledger. Background jobs are not started.
func (g *globals) open() (*session, error) {
	logger := g.logger()
	cat, err := catalog.Load(g.cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	store, err := internaldb.OpenStore(g.cfg.DBPath, 2)
	if err != nil {
		return nil, err
	}
	a, err := app.New(app.Deps{Cfg: g.cfg, Store: store, Catalog: cat, Logger: logger})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &session{App: a, store: store}, nil
}
