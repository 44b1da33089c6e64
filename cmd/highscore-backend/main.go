package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hatemosphere/highscore-backend/internal/api"
	"github.com/hatemosphere/highscore-backend/internal/audit"
	"github.com/hatemosphere/highscore-backend/internal/auth"
	"github.com/hatemosphere/highscore-backend/internal/config"
	"github.com/hatemosphere/highscore-backend/internal/engine"
	"github.com/hatemosphere/highscore-backend/internal/storage"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	// Configure logging format.
	var logHandler slog.Handler
	if cfg.LogFormat == "text" {
		logHandler = slog.NewTextHandler(os.Stdout, nil)
	} else {
		logHandler = slog.NewJSONHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(logHandler))

	// Disable audit logging if configured.
	if !cfg.AuditLogs {
		audit.Enabled = false
	}

	// Open storage.
	store, err := storage.NewSQLiteStore(cfg.DBPath, storage.SQLiteStoreConfig{
		NonceTTL: cfg.NonceTTL,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}

	// Pick the nonce backend.
	var nonces storage.NonceStore = store
	if cfg.NonceBackend == config.NonceBackendMemory {
		memNonces, err := storage.NewMemoryNonceStore(cfg.NonceCapacity, cfg.NonceTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create nonce store: %v\n", err)
			os.Exit(1)
		}
		api.RegisterOutstandingNoncesGauge(func() float64 {
			return float64(memNonces.Len())
		})
		nonces = memNonces
	}
	slog.Info("nonce store configured", "backend", cfg.NonceBackend, "ttl", cfg.NonceTTL)

	authenticator, err := auth.NewAuthenticator(nonces, cfg.Secret)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create authenticator: %v\n", err)
		os.Exit(1)
	}

	// Create the score ledger.
	mgr, err := engine.NewManager(store, engine.ManagerConfig{
		DefaultPageSize: cfg.PageSize,
		BackupDir:       cfg.BackupDir,
		BackupInterval:  cfg.BackupInterval,
		BackupRetention: cfg.BackupRetention,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create engine: %v\n", err)
		os.Exit(1)
	}
	if cfg.BackupDir != "" {
		api.RegisterBackupStatusGauge(mgr.LastBackupError)
		slog.Info("backups enabled", "dir", cfg.BackupDir, "interval", cfg.BackupInterval, "retention", cfg.BackupRetention)
	}

	// Create API server.
	serverOpts := []api.ServerOption{
		api.WithMaxBodyBytes(cfg.MaxBodyBytes),
		api.WithTrustProxyHeaders(cfg.TrustProxyHeaders),
	}
	if cfg.ClientKeyHeader != "" {
		serverOpts = append(serverOpts, api.WithClientKeyFunc(auth.HeaderKey(cfg.ClientKeyHeader)))
		slog.Info("clients keyed by header", "header", cfg.ClientKeyHeader)
	}
	if cfg.AdminToken != "" {
		serverOpts = append(serverOpts, api.WithAdminToken(cfg.AdminToken))
	}
	// When management-addr is set, health/metrics move to a separate server.
	if cfg.ManagementAddr != "" {
		serverOpts = append(serverOpts, api.WithSeparateManagement())
	}

	srv := api.NewServer(mgr, authenticator, serverOpts...)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start separate management server for health probes and metrics.
	var mgmtServer *http.Server
	if cfg.ManagementAddr != "" {
		mgmtServer = &http.Server{
			Addr:              cfg.ManagementAddr,
			Handler:           srv.ManagementRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("management server starting", "addr", cfg.ManagementAddr)
			if err := mgmtServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("management server error", "error", err)
			}
		}()
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())

		// Give in-flight requests 30 seconds to complete.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if mgmtServer != nil {
			if err := mgmtServer.Shutdown(ctx); err != nil {
				slog.Error("management server shutdown error", "error", err)
			}
		}
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
		close(done)
	}()

	slog.Info("highscore backend starting", "addr", cfg.Addr, "db", cfg.DBPath)

	if cfg.TLS {
		err = httpServer.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// Wait for shutdown to complete.
	<-done

	// Stop scheduled backups and close storage.
	mgr.Shutdown()
	if err := store.Close(); err != nil {
		slog.Error("failed to close storage", "error", err)
	}
	slog.Info("shutdown complete")
}
