/*
main.go - Application entry point

PURPOSE:
  Command line for the CitizenSpace reservation engine. "serve" runs the
  HTTP API; "quote" and "slots" answer pricing and availability questions
  straight from the database without a running server.

COMMANDS:
  serve    Start the HTTP server and the credit cycle scheduler
  quote    Price a window on a resource for a member
  slots    List free and busy spans of a resource on a date

STARTUP SEQUENCE (serve):
  1. Load configuration (defaults, TOML, .env, environment, flags)
  2. Open SQLite store (and the bolt credit store when configured)
  3. Load the catalog and sync it with the resources table
  4. Wire ledger, booking service, allocator, scheduler and handler
  5. Start server with graceful shutdown

GLOBAL FLAGS:
  --config    TOML config file (optional)
  --env-file  .env file (default: .env, ignored when missing)
  --db        SQLite database path, overrides config
              Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (shutdown timeout)
  4. Close stores
  5. Exit

EXAMPLES:
  # Run with file database
  ./server serve --db ./data/citizenspace.db

  # Keep credits in a separate bolt file
  CITIZENSPACE_CREDITS_BOLT=./data/credits.bolt ./server serve

  # Price three hours on desk-1
  ./server quote --resource desk-1 --user bob --start 2025-03-10T10:00 --end 2025-03-10T13:00

SEE ALSO:
  - config/config.go: Configuration keys and environment variables
  - api/server.go: Router configuration
  - booking/service.go: Reservation flow
*/
package main

import (
	"fmt"
	"os"

	"github.com/CitizenCafe-LLC/citizenspace-sub001/booking"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/catalog"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/config"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/engine"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/store/boltdb"
	"github.com/CitizenCafe-LLC/citizenspace-sub001/store/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "citizenspace",
	Short: "Coworking reservation engine",
	Long: `CitizenSpace books desks, meeting rooms and day passes, prices them
with holder discounts and membership credits, and settles stays at checkout.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "TOML config file")
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file loaded before CITIZENSPACE_* overrides")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// =============================================================================
// WIRING
// =============================================================================

// app holds everything a command needs.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	store   *sqlite.Store
	credits *boltdb.Store // nil when credits live in sqlite
	catalog *catalog.Catalog
	ledger  *engine.CreditLedger
	booking *booking.Service
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")

	cfg, err := config.Load(path, envFile)
	if err != nil {
		return nil, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Storage.Database = db
	}
	return cfg, nil
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := cfg.NewLogger()
	a := &app{cfg: cfg, log: log}

	a.store, err = sqlite.New(cfg.Storage.Database)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Storage.Database, err)
	}

	var credits engine.CreditTxStore = a.store
	if cfg.Storage.CreditsBolt != "" {
		a.credits, err = boltdb.New(cfg.Storage.CreditsBolt)
		if err != nil {
			a.store.Close()
			return nil, fmt.Errorf("open credit store %s: %w", cfg.Storage.CreditsBolt, err)
		}
		credits = a.credits
	}

	if cfg.Storage.Catalog != "" {
		a.catalog, err = catalog.Load(cfg.Storage.Catalog)
		if err != nil {
			a.Close()
			return nil, err
		}
	} else {
		a.catalog = catalog.Default()
	}

	a.ledger = engine.NewCreditLedger(credits)
	a.booking = booking.NewService(cfg.EngineRules(), a.catalog, a.store, a.ledger, a.store, log)

	log.WithFields(logrus.Fields{
		"database":  cfg.Storage.Database,
		"credits":   creditStoreName(cfg),
		"resources": len(a.catalog.Resources()),
		"timezone":  cfg.Rules.Timezone,
	}).Debug("Stores opened")
	return a, nil
}

func creditStoreName(cfg *config.Config) string {
	if cfg.Storage.CreditsBolt != "" {
		return "bolt:" + cfg.Storage.CreditsBolt
	}
	return "sqlite"
}

func (a *app) Close() {
	if a.credits != nil {
		if err := a.credits.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close credit store")
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close database")
	}
}
