// Jobclerk is a job dispatch and lease tracking service.
// Copyright (C) 2025  Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobclerk/internal/api"
	"jobclerk/internal/config"
	"jobclerk/internal/dispatch"
	"jobclerk/internal/logging"
	"jobclerk/internal/metrics"
	"jobclerk/internal/reaper"
	"jobclerk/internal/store"
	"jobclerk/internal/web"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	var (
		port         = flag.String("port", cfg.Port, "HTTP server port")
		dbPath       = flag.String("db", cfg.DBPath, "SQLite database path")
		logLevel     = flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
		reapInterval = flag.Duration("reap-interval", cfg.ReapInterval, "How often to reclaim stuck jobs (0 disables the timer)")
	)
	flag.Parse()

	// Initialize logging
	logger := logging.New(*logLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the database; this also runs migrations.
	st, err := store.Open(ctx, *dbPath)
	if err != nil {
		slog.Error("Failed to open database", "error", err, "path", *dbPath)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	engine := dispatch.New(st, logger)

	mux := http.NewServeMux()
	mux.Handle("/api", api.New(engine))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/", web.New(st, cfg.AdminPasswordHash))

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start the lease reaper unless disabled
	if *reapInterval > 0 {
		go reaper.New(st, *reapInterval, logger).Run(ctx)
	} else {
		slog.Info("Reaper timer disabled; stuck jobs are only reclaimed on request")
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting jobclerk server", "port", *port, "db", *dbPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}
