package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/trainstation/gatehouse/api"
	"github.com/trainstation/gatehouse/secure"
	"github.com/trainstation/gatehouse/storage/boltsessions"
)

var (
	port        int
	sessionDB   string
	tlsCert     string
	tlsKey      string
	disableCSRF bool
	enforceIP   bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the security middleware server",
	RunE: func(cmd *cobra.Command, args []string) error {
		// A .env file is optional; real deployments set the environment
		// directly.
		if err := godotenv.Load(); err == nil {
			fmt.Println("Loaded configuration from .env")
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		policy := secure.DefaultPolicy()
		policy.EnableCSRF = !disableCSRF
		policy.EnforceIPBinding = enforceIP
		policy.EnableSQLSanitization = getEnv("GATEHOUSE_SQL_SANITIZE", "") == "true"

		opts := []secure.Option{secure.WithLogger(logger)}

		var store *boltsessions.Store
		if sessionDB != "" {
			keyHex := getEnv("GATEHOUSE_SESSION_KEY", "")
			key, err := hex.DecodeString(keyHex)
			if err != nil || len(key) != 32 {
				return fmt.Errorf("GATEHOUSE_SESSION_KEY must be 64 hex characters when --session-db is set")
			}
			store, err = boltsessions.Open(sessionDB, key)
			if err != nil {
				return fmt.Errorf("opening session store: %w", err)
			}
			defer store.Close()
			opts = append(opts, secure.WithSessionStore(store))
		}

		mw := secure.New(policy, opts...)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mw.Start(ctx)
		defer mw.Stop()

		a := api.New(mw, api.WithLogger(logger), api.WithAlertFunc(func(e api.AlertEvent) {
			logger.Warn("security anomaly", "type", string(e.Type), "message", e.Message)
		}))

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Handle("/metrics", a.MetricsHandler())
		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if tlsCert != "" && tlsKey != "" {
				err = server.ListenAndServeTLS(tlsCert, tlsKey)
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		logger.Info("gatehouse listening", "port", port, "csrf", policy.EnableCSRF, "persistent_sessions", store != nil)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on")
	serverCmd.Flags().StringVar(&sessionDB, "session-db", "", "Path to the persistent session database (empty = in-memory)")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().BoolVar(&disableCSRF, "disable-csrf", false, "Disable CSRF token enforcement")
	serverCmd.Flags().BoolVar(&enforceIP, "enforce-ip-binding", false, "Reject sessions whose source IP changes")
}
