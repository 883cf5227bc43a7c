package main

import (
	"context"
	"database/sql"
	"encoding/json"
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
)

func newQueryCmd() *cobra.Command {
	var (
		dbPath     string
		sourceFile string
		table      string
		columns    []string
		measures   []string
		filters    []string
		rollup     []string
		limit      int
		format     string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Resolve, plan, and execute one query against a table",
		Example: `  olapquery query --source titanic.parquet --table titanic \
    --columns pclass,sex --measure "revenue=SUM(fare)" --limit 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runQuery(cmd.Context(), queryOptions{
				dbPath: dbPath, sourceFile: sourceFile, table: table,
				columns: columns, measures: measures, filters: filters,
				rollup: rollup, limit: limit, format: format,
			})
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "DuckDB file path (empty = in-memory)")
	cmd.Flags().StringVar(&sourceFile, "source", "", "Parquet/CSV file to load as table (optional)")
	cmd.Flags().StringVar(&table, "table", "", "Table to query (required)")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Grouping columns, comma-separated")
	cmd.Flags().StringSliceVar(&measures, "measure", nil, `Measure spec "alias=FUNC(field)", repeatable`)
	cmd.Flags().StringSliceVar(&filters, "filter", nil, "SQL predicate fragment, repeatable")
	cmd.Flags().StringSliceVar(&rollup, "rollup", nil, "ROLLUP columns, comma-separated")
	cmd.Flags().IntVar(&limit, "limit", -1, "Row limit (-1 = use server default)")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	_ = cmd.MarkFlagRequired("table")

	return cmd
}

type queryOptions struct {
	dbPath, sourceFile, table string
	columns, measures, filters, rollup []string
	limit  int
	format string
}

func runQuery(ctx context.Context, opts queryOptions) error {
	db, err := sql.Open("duckdb", opts.dbPath)
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	if opts.sourceFile != "" {
		stmt := fmt.Sprintf("CREATE TABLE %q AS SELECT * FROM '%s'", opts.table, opts.sourceFile)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("load source: %w", err)
		}
	}

	catalog, err := backend.IntrospectCatalog(ctx, db, []string{opts.table})
	if err != nil {
		return fmt.Errorf("introspect schema: %w", err)
	}

	measures, err := parseMeasures(opts.measures)
	if err != nil {
		return err
	}

	query := olap.QueryDTO{
		Table:         opts.table,
		Columns:       opts.columns,
		Measures:      measures,
		Filters:       opts.filters,
		RollupColumns: opts.rollup,
		Limit:         opts.limit,
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
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
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	executor := olap.NewQueryExecutor(cache, cfg.Olap.QueryLimitDefault, logger)
	executor.RateLimitRPS = cfg.RateLimitRPS
	executor.RateLimitBurst = cfg.RateLimitBurst

	result, stats, err := executor.ExecuteQuery(ctx, query, engine, "cli")
	if err != nil {
		return err
	}

	if opts.format == "json" {
		return printJSON(result)
	}
	printTable(result)
	fmt.Fprintf(os.Stderr, "cache: %d hit, %d miss, %d eviction\n", stats.HitCount, stats.MissCount, stats.EvictionCount)
	return nil
}

// parseMeasures parses "alias=FUNC(field)" specs into PrimitiveMeasures.
func parseMeasures(specs []string) ([]olap.Measure, error) {
	out := make([]olap.Measure, 0, len(specs))
	for _, spec := range specs {
		alias, rest, ok := strings.Cut(spec, "=")
		open := strings.Index(rest, "(")
		if !ok || open < 0 || !strings.HasSuffix(rest, ")") {
			return nil, fmt.Errorf("invalid measure spec %q, expected alias=FUNC(field)", spec)
		}
		fn := strings.ToUpper(rest[:open])
		field := strings.TrimSuffix(rest[open+1:], ")")
		out = append(out, &olap.PrimitiveMeasure{
			AliasName: alias,
			Field:     field,
			Function:  olap.AggregationFunction(fn),
		})
	}
	return out, nil
}

func printTable(t *olap.ColumnarTable) {
	names := t.FieldOrder()
	fmt.Fprintln(os.Stdout, strings.Join(names, "\t"))
	for i := 0; i < t.Count(); i++ {
		cells := make([]string, len(names))
		for j, n := range names {
			col, _ := t.Column(n)
			cells[j] = fmt.Sprintf("%v", col[i])
		}
		fmt.Fprintln(os.Stdout, strings.Join(cells, "\t"))
	}
}

func printJSON(t *olap.ColumnarTable) error {
	names := t.FieldOrder()
	rows := make([]map[string]interface{}, t.Count())
	for i := 0; i < t.Count(); i++ {
		row := make(map[string]interface{}, len(names))
		for _, n := range names {
			col, _ := t.Column(n)
			row[n] = col[i]
		}
		rows[i] = row
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
