/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Sport Coin engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML file, .env, SPORTCOIN_* env)
  2. Apply command-line flags on top
  3. Open the store (SQLite or PostgreSQL) and migrate
  4. Load the spend cap / sharing policy
  5. Create API handler and router
  6. Start the settlement scheduler (if enabled)
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    HTTP server port (overrides server.port)
  -driver  sqlite | postgres (overrides database.driver)
  -db      SQLite path or PostgreSQL DSN (overrides database.dsn)
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the settlement scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection and flush error reports

EXAMPLES:
  # Run with file database
  ./server -db="./data/sportcoin.db"

  # Run against PostgreSQL
  SPORTCOIN_DATABASE_DSN="postgres://localhost/sportcoin?sslmode=disable" ./server -driver=postgres

  # Run on different port with authentication
  SPORTCOIN_AUTH_JWT_SECRET=change-me ./server -port=3000

SEE ALSO:
  - config/config.go: Every setting and its environment variable
  - api/server.go: Router configuration
  - store/sqlstore/: Database implementation
*/
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sportcoin/coin-engine/api"
	"github.com/sportcoin/coin-engine/coin"
	"github.com/sportcoin/coin-engine/config"
	"github.com/sportcoin/coin-engine/factory"
	"github.com/sportcoin/coin-engine/generic"
	"github.com/sportcoin/coin-engine/logging"
	"github.com/sportcoin/coin-engine/settlement"
	"github.com/sportcoin/coin-engine/store/postgres"
	"github.com/sportcoin/coin-engine/store/sqlite"
	"github.com/sportcoin/coin-engine/store/sqlstore"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port")
	driver := flag.String("driver", "", "Database driver: sqlite or postgres")
	dsn := flag.String("db", "", "SQLite database path or PostgreSQL DSN")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logger := logging.New(logging.Options{
		RollbarToken: cfg.Logging.RollbarToken,
		Environment:  cfg.Logging.Environment,
	})
	defer logger.Close()
	mainLog := logger.With("Server")

	// Initialize store
	store, err := openStore(context.Background(), cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Policies
	caps := coin.DefaultCapPolicy()
	sharing := settlement.DefaultSharingPolicy()
	if cfg.Policy.File != "" {
		if caps, sharing, err = factory.LoadPolicyFile(cfg.Policy.File); err != nil {
			log.Fatalf("Failed to load policy: %v", err)
		}
	}

	periodType, err := generic.ParsePeriodType(cfg.Settlement.Period)
	if err != nil {
		log.Fatal(err)
	}

	spendSecret := []byte(cfg.Auth.SpendTokenSecret)
	if len(spendSecret) == 0 {
		// Tokens then only survive until restart, which their TTL allows.
		spendSecret = make([]byte, 32)
		if _, err := rand.Read(spendSecret); err != nil {
			log.Fatalf("Failed to generate spend token secret: %v", err)
		}
		mainLog.Warnf("auth.spend_token_secret not set, using a random secret")
	}
	if cfg.Auth.JWTSecret == "" {
		mainLog.Warnf("auth.jwt_secret not set, authentication is disabled")
	}

	opts := coin.DefaultOptions()
	opts.OpTimeout = cfg.Database.OpTimeout
	opts.Caps = caps
	opts.RegistrationBonus = decimal.NewFromInt(cfg.Coins.RegistrationBonus)
	opts.GovernmentValidity = cfg.Coins.GovernmentValidity
	opts.TokenTTL = cfg.Auth.SpendTokenTTL

	// Initialize handler
	handler := api.NewHandler(api.Config{
		Store:                 store,
		Options:               opts,
		Sharing:               sharing,
		SpendTokenSecret:      spendSecret,
		JWTSecret:             cfg.Auth.JWTSecret,
		AllowedOrigins:        cfg.Server.AllowedOrigins,
		SettlementPeriod:      periodType,
		SettlementConcurrency: cfg.Settlement.Concurrency,
		Logger:                logger,
	})

	// Create router
	router := api.NewRouter(handler)

	// Settlement scheduler
	scheduler := api.NewSettlementScheduler(handler.Settlement, logger)
	scheduler.PeriodType = periodType
	scheduler.CheckInterval = cfg.Settlement.Interval
	scheduler.Concurrency = cfg.Settlement.Concurrency
	scheduler.Enabled = cfg.Settlement.SchedulerEnabled
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		mainLog.Infof("Server starting on http://localhost:%d (%s)", cfg.Server.Port, cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLog.Errorf(err, "server failed")
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mainLog.Infof("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		mainLog.Errorf(err, "server forced to shutdown")
	}

	mainLog.Infof("Server stopped")
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (*sqlstore.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.New(ctx, cfg.DSN, postgres.DefaultOptions())
	default:
		return sqlite.New(ctx, cfg.DSN)
	}
}
