package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/owlconnect/snapdiff/internal/alert"
	"github.com/owlconnect/snapdiff/internal/cdc"
	"github.com/owlconnect/snapdiff/internal/config"
	"github.com/owlconnect/snapdiff/internal/logging"
	"github.com/owlconnect/snapdiff/internal/schema"
	"github.com/owlconnect/snapdiff/internal/source"
	"github.com/owlconnect/snapdiff/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "snapdiff",
	Short: "Snapdiff - content-addressed snapshot reconciliation",
	Long:  `Diffs periodic full snapshots of a tabular dataset by row content and records every insert and delete as an immutable audit trail`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "snapdiff.yaml", "config file path")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(tableCmd)

	tableCmd.Flags().StringP("output", "o", "", "write the DDL to a file instead of stdout")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("snapdiff v0.1.0")
		fmt.Println("Content-Addressed Snapshot Reconciliation")
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize snapshot and change log storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err := logging.New(cfg.Log.Level, cfg.Log.Dir)
		if err != nil {
			return err
		}

		ctx := context.Background()
		st, err := store.Open(ctx, &cfg.Database, logger.Named("store"))
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		if err := st.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}

		fmt.Printf("Initialized %s store\n", cfg.Database.Driver)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run [dataset.json] [table]",
	Short: "Reconcile a dataset against its persisted snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasetPath, tableName := args[0], args[1]

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err := logging.New(cfg.Log.Level, cfg.Log.Dir)
		if err != nil {
			return err
		}

		dataset, err := source.ReadJSON(datasetPath, tableName)
		if err != nil {
			return err
		}
		logger.Info("dataset loaded", "path", datasetPath, "rows", len(dataset.Rows))

		// Ctrl+C aborts cleanly before the commit; the reconciler shields the
		// commit itself from cancellation.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := store.Open(ctx, &cfg.Database, logger.Named("store"))
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		if err := st.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}

		alerts := alert.NewManager(cfg.Alerts.Enabled, cfg.Alerts.SlackWebhook)
		reconciler := cdc.NewReconciler(st, cfg.Normalize.ExcludedColumns, logger.Named("reconcile"))

		summary, err := reconciler.Run(ctx, dataset.Table, dataset.Rows)
		if err != nil {
			if alertErr := alerts.SendRunFailure(dataset.Table, err); alertErr != nil {
				logger.Warn("failed to send failure alert", "error", alertErr)
			}
			return err
		}

		fmt.Printf("Table: %s\n", dataset.Table)
		fmt.Printf("  Inserts:   %d\n", summary.Inserts)
		fmt.Printf("  Deletes:   %d\n", summary.Deletes)
		fmt.Printf("  Unchanged: %d\n", summary.Unchanged)
		fmt.Printf("  Processed: %d\n", summary.TotalProcessed)

		if alertErr := alerts.SendRunSummary(dataset.Table, summary.RunID,
			summary.Inserts, summary.Deletes, summary.Unchanged); alertErr != nil {
			logger.Warn("failed to send summary alert", "error", alertErr)
		}

		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display persisted tables and change log totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err := logging.New(cfg.Log.Level, cfg.Log.Dir)
		if err != nil {
			return err
		}

		ctx := context.Background()
		st, err := store.Open(ctx, &cfg.Database, logger.Named("store"))
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		tables, err := st.ListTables(ctx)
		if err != nil {
			return fmt.Errorf("failed to list tables: %w", err)
		}

		if len(tables) == 0 {
			fmt.Println("No snapshots persisted yet")
			return nil
		}

		fmt.Println("Persisted tables:")
		for _, table := range tables {
			snap, err := st.ReadSnapshot(ctx, table)
			if err != nil {
				return fmt.Errorf("failed to read snapshot %s: %w", table, err)
			}
			changes, err := st.ReadChanges(ctx, table)
			if err != nil {
				return fmt.Errorf("failed to read change log for %s: %w", table, err)
			}
			fmt.Printf("  - %s (%d rows, %d change records)\n", table, len(snap.Records), len(changes))
		}

		return nil
	},
}

var logCmd = &cobra.Command{
	Use:   "log [table]",
	Short: "Dump the audit trail for a table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logger, err := logging.New(cfg.Log.Level, cfg.Log.Dir)
		if err != nil {
			return err
		}

		ctx := context.Background()
		st, err := store.Open(ctx, &cfg.Database, logger.Named("store"))
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		records, err := st.ReadChanges(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to read change log: %w", err)
		}

		if len(records) == 0 {
			fmt.Printf("No change records for table %s\n", args[0])
			return nil
		}

		for _, rec := range records {
			fmt.Printf("%6d  %-6s  %s  %s  run=%s\n",
				rec.ID, rec.ChangeType, rec.ChangedAt.Format("2006-01-02 15:04:05"),
				rec.RecordID[:16], rec.RunID)
		}
		fmt.Printf("%d change records\n", len(records))

		return nil
	},
}

var tableCmd = &cobra.Command{
	Use:   "table [dataset.json] [table]",
	Short: "Generate destination table DDL from a dataset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasetPath, tableName := args[0], args[1]

		dataset, err := source.ReadJSON(datasetPath, tableName)
		if err != nil {
			return err
		}

		columns := schema.Infer(dataset.Rows)
		sql := schema.CreateTableSQL(dataset.Table, columns)

		outPath, err := cmd.Flags().GetString("output")
		if err != nil {
			return err
		}
		if outPath == "" {
			fmt.Print(sql)
			return nil
		}

		if err := os.WriteFile(outPath, []byte(sql), 0644); err != nil {
			return fmt.Errorf("failed to write SQL file: %w", err)
		}
		fmt.Printf("SQL written to %s\n", outPath)

		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
