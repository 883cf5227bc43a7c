// Command server exposes the query planning and execution core over a
// single minimal HTTP endpoint backed by an in-process DuckDB instance.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"olapcore/internal/config"
	"olapcore/internal/olap"
	"olapcore/internal/olap/backend"
	"olapcore/internal/olap/httpapi"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	db, err := sql.Open("duckdb", os.Getenv("OLAP_DUCKDB_PATH"))
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	tables := tablesFromEnv()
	ctx := context.Background()
	catalog, err := backend.IntrospectCatalog(ctx, db, tables)
	if err != nil {
		return fmt.Errorf("introspect catalog: %w", err)
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
	executor := olap.NewQueryExecutor(cache, cfg.Olap.QueryLimitDefault, logger)
	executor.RateLimitRPS = cfg.RateLimitRPS
	executor.RateLimitBurst = cfg.RateLimitBurst

	handler := httpapi.NewHandler(executor, engine, logger)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

	go func() {
		logger.Info("olap: listening", "addr", cfg.ListenAddr)
		logger.Info("olap: try it", "curl", fmt.Sprintf(`curl -X POST http://%s/query -d '{"table":"..."}'`, curlHostForListenAddr(cfg.ListenAddr)))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("olap: server exited", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// tablesFromEnv returns the comma-separated OLAP_TABLES env var, or a
// single-element slice for OLAP_TABLE, whichever is set.
func tablesFromEnv() []string {
	if v := os.Getenv("OLAP_TABLES"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	if v := os.Getenv("OLAP_TABLE"); v != "" {
		return []string{v}
	}
	return nil
}

// curlHostForListenAddr rewrites a wildcard bind address into something a
// user can actually paste into curl; ":8080" and "0.0.0.0:8080" both become
// "localhost:8080", while an explicit host is left alone.
func curlHostForListenAddr(listenAddr string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return "localhost:8080"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	if strings.Contains(host, ":") {
		return fmt.Sprintf("[%s]:%s", host, port)
	}
	return fmt.Sprintf("%s:%s", host, port)
}
