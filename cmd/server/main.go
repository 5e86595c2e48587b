/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the Expense Approval Engine. Loads configuration,
  sets up logging, and dispatches to subcommands.

COMMANDS:
  serve     Start the HTTP API (see serve.go)
  version   Print the build version

CONFIGURATION:
  Read from config.yaml in the working directory or
  $HOME/.config/expense-engine, then overridden by EXPENSE_* environment
  variables (EXPENSE_SERVER_PORT, EXPENSE_DATABASE_PATH, ...), then by flags.

  server.port             HTTP port (default: 8080)
  database.path           SQLite path, ":memory:" for a throwaway db
  logging.level           debug, info, warn, error
  logging.format          console, json
  rates.ttl               How long looked-up rates are cached (default: 1h)
  rates.table             Map of "FROM:TO" -> rate; demo rates when empty
  reminders.enabled       Run the stale approval scanner (default: true)
  reminders.interval      Scan interval (default: 1h)
  reminders.stale_after   Age at which a pending expense is reported (default: 48h)

EXAMPLES:
  # Run with file database
  ./server serve --db=./data/expenses.db

  # Run with in-memory database and JSON logs
  EXPENSE_LOGGING_FORMAT=json ./server serve --db=":memory:"

SEE ALSO:
  - serve.go: Server wiring and graceful shutdown
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	version = "dev"
	logger  = zerolog.Nop()

	rootCmd = &cobra.Command{
		Use:   "server",
		Short: "Expense approval rule engine",
		Long: `Expense approval rule engine: routes submitted expenses to the approval
rule that governs them and tracks every decision until the expense is
approved, rejected, or paid.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/expense-engine/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	setDefaults()

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.path", "expenses.db")
	viper.SetDefault("rates.ttl", time.Hour)
	viper.SetDefault("reminders.enabled", true)
	viper.SetDefault("reminders.interval", time.Hour)
	viper.SetDefault("reminders.stale_after", 48*time.Hour)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(fmt.Sprintf("%s/.config/expense-engine", home))
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("EXPENSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	l, err := newLogger(viper.GetString("logging.level"), viper.GetString("logging.format"))
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	logger = l
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Debug().Str("file", used).Msg("Loaded config")
	}
	return nil
}

func newLogger(level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.Logger{}, fmt.Errorf("invalid log level: %q", level)
	}

	switch format {
	case "console":
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(lvl).With().Timestamp().Logger(), nil
	case "json":
		return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger(), nil
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid log format: %q", format)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "expense-engine %s\n", version)
		},
	}
}
