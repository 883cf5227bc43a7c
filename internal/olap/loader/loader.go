// Package loader implements retrying, idempotent bulk loading of rows into
// a query engine's backing store.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"olapcore/internal/olap"
)

// Row is one record to load, keyed by field name.
type Row map[string]interface{}

// DataSink is the backend-specific collaborator a Loader drives. Create
// must be idempotent from the Loader's point of view: Loader handles the
// "table already exists" race itself by calling Drop then Create again,
// mirroring BigQueryDataLoader's 409/"duplicate" recovery.
type DataSink interface {
	Create(ctx context.Context, table string, fields []olap.Field) error
	Drop(ctx context.Context, table string) error
	Insert(ctx context.Context, table string, fields []olap.Field, rows []Row) error
}

// ErrTableExists should be returned by a DataSink's Create when the table
// is already present, so Loader can distinguish it from other failures.
var ErrTableExists = errors.New("loader: table already exists")

// retryBackoffs is the fixed exponential backoff schedule: 1s, 2s, 4s, 8s,
// 16s. Five retries after the first attempt, six attempts total.
var retryBackoffs = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// Loader drives a DataSink with idempotent table (re)creation and a bounded
// retry loop around inserts, tolerating the eventual-consistency window a
// newly created table can have before it is insert-ready.
type Loader struct {
	sink   DataSink
	logger *slog.Logger
}

// NewLoader builds a Loader.
func NewLoader(sink DataSink, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{sink: sink, logger: logger}
}

// DropAndCreateTable (re)creates table with the given schema, tolerating a
// concurrent creator: if Create reports the table already exists, the
// table is dropped and recreated.
func (l *Loader) DropAndCreateTable(ctx context.Context, table string, fields []olap.Field) error {
	err := l.sink.Create(ctx, table, fields)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrTableExists) {
		return fmt.Errorf("loader: create table %q: %w", table, err)
	}
	if err := l.sink.Drop(ctx, table); err != nil {
		return fmt.Errorf("loader: drop existing table %q: %w", table, err)
	}
	if err := l.sink.Create(ctx, table, fields); err != nil {
		return fmt.Errorf("loader: recreate table %q: %w", table, err)
	}
	return nil
}

// Load serializes rows per field type and inserts them into table, retrying
// on failure with a 1/2/4/8/16s backoff schedule.
func (l *Loader) Load(ctx context.Context, table string, fields []olap.Field, rows []Row) error {
	serialized := make([]Row, len(rows))
	for i, r := range rows {
		serialized[i] = serializeRow(fields, r)
	}

	var lastErr error
	for attempt := 0; attempt <= len(retryBackoffs); attempt++ {
		lastErr = l.sink.Insert(ctx, table, fields, serialized)
		if lastErr == nil {
			return nil
		}
		if attempt == len(retryBackoffs) {
			break
		}
		l.logger.Info("loader: insert failed, retrying", "table", table, "attempt", attempt+1, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoffs[attempt]):
		}
	}
	l.logger.Error("loader: insert failed after all retries, aborting", "table", table, "attempts", len(retryBackoffs)+1)
	return fmt.Errorf("loader: insert into %q failed after %d attempts: %w", table, len(retryBackoffs)+1, lastErr)
}

// LoadCSV is an intentionally unsupported ingestion path, kept as an
// explicit stub so callers get a clear error rather than a missing method.
func (l *Loader) LoadCSV(ctx context.Context, table, path, delimiter string, header bool) error {
	return fmt.Errorf("loader: CSV ingestion is not implemented")
}

// serializeRow converts temporal and opaque-typed cells to their wire
// representation: ISO-8601 strings for dates/datetimes, JSON text for
// opaque fields, everything else passed through unchanged.
func serializeRow(fields []olap.Field, row Row) Row {
	out := make(Row, len(row))
	byName := make(map[string]olap.Field, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
	for k, v := range row {
		if v == nil {
			out[k] = nil
			continue
		}
		f, known := byName[k]
		if !known {
			out[k] = v
			continue
		}
		switch f.Type {
		case olap.FieldTypeDate, olap.FieldTypeDatetime:
			out[k] = stringifyTemporal(v)
		case olap.FieldTypeOpaque:
			b, err := json.Marshal(v)
			if err != nil {
				out[k] = v
			} else {
				out[k] = string(b)
			}
		default:
			out[k] = v
		}
	}
	return out
}

func stringifyTemporal(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}

// IsTableExistsError is a best-effort classifier a DataSink implementation
// can use to decide whether to wrap a Create failure as ErrTableExists:
// most drivers surface table-exists failures as a string like "already
// exists" or "duplicate", with no dedicated error type to check against.
func IsTableExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate")
}
