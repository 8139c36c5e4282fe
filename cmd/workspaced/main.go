// workspaced is the backend daemon: it owns the SQLite-backed workspace
// store and serves the HTTP API used by agents and the browser login
// page.
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

	"github.com/spf13/viper"

	"workspaced/internal/httpapi"
	"workspaced/internal/logging"
	"workspaced/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "workspaced: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	v := viper.New()
	v.SetDefault("listen", ":8787")
	v.SetDefault("db_path", "workspaced.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("token_ttl", "24h")
	v.SetDefault("session_timeout", "10m")
	v.SetDefault("session_sweep_interval", "5m")
	v.SetDefault("session_retain", "1h")

	v.SetEnvPrefix("WORKSPACED")
	v.AutomaticEnv()

	v.SetConfigName("workspaced")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/workspaced")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	log, err := logging.New(logging.Config{
		Level:     v.GetString("log_level"),
		Format:    v.GetString("log_format"),
		Component: "workspaced",
	})
	if err != nil {
		return err
	}

	secret := v.GetString("jwt_secret")
	if secret == "" {
		return errors.New("jwt_secret is required (set WORKSPACED_JWT_SECRET or the config file)")
	}

	st, err := store.Open(v.GetString("db_path"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	srv := httpapi.NewServer(st, httpapi.Config{
		JWTSecret:      secret,
		TokenTTL:       v.GetDuration("token_ttl"),
		SessionTimeout: v.GetDuration("session_timeout"),
	}, log)

	httpSrv := &http.Server{
		Addr:              v.GetString("listen"),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweepSessions(ctx, st, log,
		v.GetDuration("session_sweep_interval"),
		v.GetDuration("session_timeout"),
		v.GetDuration("session_retain"))

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", httpSrv.Addr, "db", v.GetString("db_path"))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// sweepSessions periodically expires stale pending handshake sessions and
// prunes terminal ones past the retention window.
func sweepSessions(ctx context.Context, st *store.Store, log *slog.Logger, interval, timeout, retain time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := st.SweepExpiredSessions(timeout, retain)
			if err != nil {
				log.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("session sweep", "expired", n)
			}
		}
	}
}
