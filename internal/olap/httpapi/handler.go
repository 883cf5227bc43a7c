// Package httpapi exposes the query planning and execution core over a
// single minimal net/http handler. It intentionally does not pull in a
// router or CORS middleware: the surface is one JSON endpoint, not a REST
// API, so the extra dependency weight buys nothing here.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"olapcore/internal/olap"
)

// principalHeader carries the caller identity used for cache isolation and
// per-principal rate limiting (olap.Principal).
const principalHeader = "X-Principal"

// Handler serves POST /query, decoding a olap.QueryDTO body and returning
// the shaped result table alongside cumulative cache stats.
type Handler struct {
	Executor *olap.QueryExecutor
	Engine   olap.QueryEngine
	Logger   *slog.Logger
}

// NewHandler builds an http.Handler wrapping executor/engine.
func NewHandler(executor *olap.QueryExecutor, engine olap.QueryEngine, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{Executor: executor, Engine: engine, Logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", h.serveQuery)
	mux.HandleFunc("GET /healthz", h.serveHealth)
	return mux
}

type queryResponse struct {
	Fields []string                 `json:"fields"`
	Rows   []map[string]interface{} `json:"rows"`
	Stats  olap.CacheStats          `json:"cacheStats"`
}

func (h *Handler) serveQuery(w http.ResponseWriter, r *http.Request) {
	var query olap.QueryDTO
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	principal := olap.Principal(r.Header.Get(principalHeader))
	if principal == "" {
		principal = "anonymous"
	}

	table, stats, err := h.Executor.ExecuteQuery(r.Context(), query, h.Engine, principal)
	if err != nil {
		h.Logger.Error("olap: query failed", "error", err, "principal", string(principal))
		writeError(w, statusFor(err), err)
		return
	}

	resp := queryResponse{Fields: table.FieldOrder(), Stats: stats}
	resp.Rows = make([]map[string]interface{}, table.Count())
	for i := 0; i < table.Count(); i++ {
		row := make(map[string]interface{}, len(resp.Fields))
		for _, name := range resp.Fields {
			col, _ := table.Column(name)
			row[name] = col[i]
		}
		resp.Rows[i] = row
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// statusFor maps the core's typed errors onto HTTP status codes.
func statusFor(err error) int {
	switch err.(type) {
	case *olap.ValidationError, *olap.UnknownFieldError, *olap.TypeMismatchError:
		return http.StatusBadRequest
	case *olap.CancelledError:
		return http.StatusRequestTimeout
	case *olap.TimeoutError:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
