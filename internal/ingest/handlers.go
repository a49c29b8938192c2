// Package ingest is the receiving side of the logger: it authenticates
// submissions, stores them and serves the latest readings.
package ingest

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bbeesley/temperature-logger/internal/report"
	"github.com/bbeesley/temperature-logger/internal/store"
)

const (
	maxBodyBytes = 64 << 10
	defaultLimit = 10
	maxLimit     = 1000
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type API struct {
	repo   store.MeasurementRepository
	db     Pinger
	apiKey string
	logger *slog.Logger
	now    func() time.Time
}

func NewAPI(repo store.MeasurementRepository, db Pinger, apiKey string, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{repo: repo, db: db, apiKey: apiKey, logger: logger, now: time.Now}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /measurements", a.handleSubmit)
	mux.HandleFunc("GET /measurements/latest", a.handleLatest)
	mux.HandleFunc("GET /loggers", a.handleLoggers)
	mux.HandleFunc("GET /healthz", a.handleHealthz)
}

func (a *API) authorized(r *http.Request) bool {
	key := r.Header.Get(report.APIKeyHeader)
	return key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) == 1
}

// handleSubmit answers 200 once authenticated; storage and parse failures are
// reported in the body as status "failed".
func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		WriteJSON(w, http.StatusForbidden, map[string]string{"error": "missing api key"})
		return
	}

	m, err := decodeMeasurement(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		a.logger.Warn("invalid measurement body", "error", err)
		WriteJSON(w, http.StatusOK, SubmitResponse{Status: StatusFailed, Message: err.Error()})
		return
	}

	id, err := a.repo.Insert(r.Context(), m, a.now(), store.SourceHTTP)
	if err != nil {
		a.logger.Error("failed to store measurement", "logger", m.LoggerID, "error", err)
		WriteJSON(w, http.StatusOK, SubmitResponse{Status: StatusFailed, Message: err.Error()})
		return
	}

	a.logger.Debug("measurement stored", "logger", m.LoggerID, "id", id)
	WriteJSON(w, http.StatusOK, SubmitResponse{Status: StatusOK, ID: id})
}

func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loggerID := strings.TrimSpace(q.Get("logger"))

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := a.repo.Latest(r.Context(), loggerID, limit)
	if err != nil {
		a.logger.Error("failed to load measurements", "logger", loggerID, "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to load measurements")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"logger": loggerID,
		"limit":  limit,
		"items":  items,
	})
}

func (a *API) handleLoggers(w http.ResponseWriter, r *http.Request) {
	loggers, err := a.repo.Loggers(r.Context())
	if err != nil {
		a.logger.Error("failed to list loggers", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to list loggers")
		return
	}
	WriteJSON(w, http.StatusOK, loggers)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := a.db.PingContext(r.Context()); err != nil {
		a.logger.Error("failed to check database connectivity", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": StatusOK})
}

func parseLimit(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if n < 1 || n > maxLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxLimit)
	}
	return n, nil
}
