package ingest

import (
	"log/slog"
	"net/http"
	"time"
)

func NewMux(api *API) *http.ServeMux {
	mux := http.NewServeMux()
	api.Register(mux)
	return mux
}

func NewServer(addr string, mux *http.ServeMux, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &http.Server{
		Addr:              addr,
		Handler:           requestLogger(logger, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
