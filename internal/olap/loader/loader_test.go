package loader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"olapcore/internal/olap"
)

type fakeSink struct {
	createCalls  int
	createErrs   []error
	dropCalls    int
	insertCalls  int
	insertErrs   []error
	lastRows     []Row
}

func (f *fakeSink) Create(context.Context, string, []olap.Field) error {
	var err error
	if f.createCalls < len(f.createErrs) {
		err = f.createErrs[f.createCalls]
	}
	f.createCalls++
	return err
}

func (f *fakeSink) Drop(context.Context, string) error {
	f.dropCalls++
	return nil
}

func (f *fakeSink) Insert(_ context.Context, _ string, _ []olap.Field, rows []Row) error {
	var err error
	if f.insertCalls < len(f.insertErrs) {
		err = f.insertErrs[f.insertCalls]
	}
	f.insertCalls++
	if err == nil {
		f.lastRows = rows
	}
	return err
}

func setupLoader(t *testing.T, sink *fakeSink) *Loader {
	t.Helper()
	return NewLoader(sink, nil)
}

func TestLoader_DropAndCreateTable_RecreatesOnTableExists(t *testing.T) {
	sink := &fakeSink{createErrs: []error{ErrTableExists, nil}}
	l := setupLoader(t, sink)

	err := l.DropAndCreateTable(context.Background(), "events", []olap.Field{{Name: "id", Type: olap.FieldTypeInteger}})
	require.NoError(t, err)
	require.Equal(t, 2, sink.createCalls)
	require.Equal(t, 1, sink.dropCalls)
}

func TestLoader_DropAndCreateTable_OtherErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	sink := &fakeSink{createErrs: []error{boom}}
	l := setupLoader(t, sink)

	err := l.DropAndCreateTable(context.Background(), "events", nil)
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, sink.dropCalls)
}

func TestLoader_Load_RetriesThenSucceeds(t *testing.T) {
	sink := &fakeSink{insertErrs: []error{errors.New("timeout"), errors.New("timeout")}}
	l := setupLoader(t, sink)
	l.sink = sink

	start := time.Now()
	err := l.Load(context.Background(), "events", []olap.Field{{Name: "id", Type: olap.FieldTypeInteger}}, []Row{{"id": 1}})
	require.NoError(t, err)
	require.Equal(t, 3, sink.insertCalls)
	require.GreaterOrEqual(t, time.Since(start), 3*time.Second) // 1s + 2s backoff before the third attempt
}

func TestLoader_Load_CancelledDuringBackoffFails(t *testing.T) {
	persistent := errors.New("permanent failure")
	errs := make([]error, 6)
	for i := range errs {
		errs[i] = persistent
	}
	sink := &fakeSink{insertErrs: errs}
	l := setupLoader(t, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Cancel immediately after the first failed attempt so the test does not
	// have to sleep through the full 1+2+4+8+16s backoff schedule; Load must
	// still surface an error rather than hang.
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := l.Load(ctx, "events", nil, []Row{{"id": 1}})
	require.Error(t, err)
}

func TestSerializeRow_TemporalAndOpaqueFields(t *testing.T) {
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fields := []olap.Field{
		{Name: "created_at", Type: olap.FieldTypeDatetime},
		{Name: "payload", Type: olap.FieldTypeOpaque},
		{Name: "name", Type: olap.FieldTypeString},
	}
	out := serializeRow(fields, Row{
		"created_at": when,
		"payload":    map[string]interface{}{"k": "v"},
		"name":       "alice",
	})

	require.Equal(t, when.Format(time.RFC3339), out["created_at"])
	require.Equal(t, `{"k":"v"}`, out["payload"])
	require.Equal(t, "alice", out["name"])
}

func TestIsTableExistsError(t *testing.T) {
	require.True(t, IsTableExistsError(errors.New(`Catalog Error: Table "x" already exists`)))
	require.True(t, IsTableExistsError(errors.New("duplicate table name")))
	require.False(t, IsTableExistsError(errors.New("connection reset")))
	require.False(t, IsTableExistsError(nil))
}
