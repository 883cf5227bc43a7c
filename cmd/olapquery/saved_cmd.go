package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/spf13/cobra"

	"olapcore/internal/config"
	"olapcore/internal/olap"
	"olapcore/internal/olap/backend"
	"olapcore/internal/olap/metadata"
)

func newSavedCmd() *cobra.Command {
	var metaPath string

	cmd := &cobra.Command{
		Use:   "saved",
		Short: "Manage named saved queries",
	}
	cmd.PersistentFlags().StringVar(&metaPath, "meta-db", "olapquery_saved.sqlite", "path to the saved-query metadata store")

	cmd.AddCommand(newSavedListCmd(&metaPath))
	cmd.AddCommand(newSavedSaveCmd(&metaPath))
	cmd.AddCommand(newSavedRunCmd(&metaPath))
	cmd.AddCommand(newSavedDeleteCmd(&metaPath))
	return cmd
}

func newSavedListCmd(metaPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved query names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := metadata.Open(*metaPath, cfg.EncryptionKey)
			if err != nil {
				return err
			}
			defer store.Close()

			names, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(os.Stdout, n)
			}
			return nil
		},
	}
}

func newSavedSaveCmd(metaPath *string) *cobra.Command {
	var (
		table    string
		columns  []string
		measures []string
		filters  []string
		rollup   []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "save NAME",
		Short: "Save a query definition under NAME for later reuse",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseMeasures(measures)
			if err != nil {
				return err
			}
			query := olap.QueryDTO{
				Table: table, Columns: columns, Measures: parsed,
				Filters: filters, RollupColumns: rollup, Limit: limit,
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := metadata.Open(*metaPath, cfg.EncryptionKey)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Save(cmd.Context(), args[0], query)
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "Table to query (required)")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Grouping columns, comma-separated")
	cmd.Flags().StringSliceVar(&measures, "measure", nil, `Measure spec "alias=FUNC(field)", repeatable`)
	cmd.Flags().StringSliceVar(&filters, "filter", nil, "SQL predicate fragment, repeatable")
	cmd.Flags().StringSliceVar(&rollup, "rollup", nil, "ROLLUP columns, comma-separated")
	cmd.Flags().IntVar(&limit, "limit", -1, "Row limit (-1 = use server default)")
	_ = cmd.MarkFlagRequired("table")
	return cmd
}

func newSavedRunCmd(metaPath *string) *cobra.Command {
	var (
		dbPath     string
		sourceFile string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "run NAME",
		Short: "Run a previously saved query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := metadata.Open(*metaPath, cfg.EncryptionKey)
			if err != nil {
				return err
			}
			defer store.Close()

			query, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load saved query %q: %w", args[0], err)
			}
			return runSavedQuery(cmd.Context(), cfg, query, dbPath, sourceFile, format)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "DuckDB file path (empty = in-memory)")
	cmd.Flags().StringVar(&sourceFile, "source", "", "Parquet/CSV file to load as table (optional)")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	return cmd
}

func newSavedDeleteCmd(metaPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a saved query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := metadata.Open(*metaPath, cfg.EncryptionKey)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Delete(cmd.Context(), args[0])
		},
	}
}

func runSavedQuery(ctx context.Context, cfg *config.Config, query olap.QueryDTO, dbPath, sourceFile, format string) error {
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	if sourceFile != "" {
		stmt := fmt.Sprintf("CREATE TABLE %q AS SELECT * FROM '%s'", query.Table, sourceFile)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("load source: %w", err)
		}
	}

	catalog, err := backend.IntrospectCatalog(ctx, db, []string{query.Table})
	if err != nil {
		return fmt.Errorf("introspect schema: %w", err)
	}

	engine := backend.NewDuckDBEngine(db, catalog)
	cacheTTL := cfg.Olap.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	cacheMax := cfg.Olap.CacheMaxEntries
	if cacheMax <= 0 {
		cacheMax = 1000
	}
	cache := olap.NewGlobalQueryCache(cacheMax, cacheTTL)
	executor := olap.NewQueryExecutor(cache, cfg.Olap.QueryLimitDefault, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	executor.RateLimitRPS = cfg.RateLimitRPS
	executor.RateLimitBurst = cfg.RateLimitBurst

	result, stats, err := executor.ExecuteQuery(ctx, query, engine, "cli")
	if err != nil {
		return err
	}

	if strings.EqualFold(format, "json") {
		return printJSON(result)
	}
	printTable(result)
	fmt.Fprintf(os.Stderr, "cache: %d hit, %d miss, %d eviction\n", stats.HitCount, stats.MissCount, stats.EvictionCount)
	return nil
}
