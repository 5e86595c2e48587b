package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/warp/expense-engine/api"
	"github.com/warp/expense-engine/approval"
	"github.com/warp/expense-engine/rates"
	"github.com/warp/expense-engine/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}

	cmd.Flags().Int("port", 8080, "HTTP server port")
	cmd.Flags().String("db", "expenses.db", `SQLite database path (":memory:" for in-memory)`)
	cmd.Flags().String("scenario", "", "demo scenario to load on startup")

	_ = viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("database.path", cmd.Flags().Lookup("db"))
	_ = viper.BindPFlag("server.scenario", cmd.Flags().Lookup("scenario"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	dbPath := viper.GetString("database.path")
	store, err := sqlite.New(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	lookup, err := rateLookup()
	if err != nil {
		return err
	}

	engine := approval.NewEngine(store, lookup, logger.With().Str("component", "engine").Logger())
	handler := api.NewHandler(engine, store, logger.With().Str("component", "api").Logger())

	if id := viper.GetString("server.scenario"); id != "" {
		if err := handler.LoadScenarioByID(ctx, id); err != nil {
			return fmt.Errorf("failed to load scenario %q: %w", id, err)
		}
		logger.Info().Str("scenario", id).Msg("Loaded demo scenario")
	}

	reminders := api.NewReminderScheduler(store, logger.With().Str("component", "reminders").Logger())
	reminders.Enabled = viper.GetBool("reminders.enabled")
	reminders.CheckInterval = viper.GetDuration("reminders.interval")
	reminders.StaleAfter = viper.GetDuration("reminders.stale_after")
	reminders.Start()
	defer reminders.Stop()

	port := viper.GetInt("server.port")
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", port).Str("db", dbPath).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("Server stopped")
	return nil
}

// rateLookup builds the configured rate table behind a TTL cache.
func rateLookup() (approval.RateLookup, error) {
	table := rates.DefaultTable()
	if raw := viper.GetStringMapString("rates.table"); len(raw) > 0 {
		// viper lowercases map keys
		entries := make(map[string]string, len(raw))
		for k, v := range raw {
			entries[strings.ToUpper(k)] = v
		}
		t, err := rates.FromMap(entries)
		if err != nil {
			return nil, fmt.Errorf("invalid rates.table: %w", err)
		}
		table = t
	}
	logger.Debug().Int("pairs", table.Len()).Msg("Rate table ready")
	return rates.NewCached(table, viper.GetDuration("rates.ttl")), nil
}
