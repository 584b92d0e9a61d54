package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eren2212/supplementApp-sub000/internal/config"
	"github.com/eren2212/supplementApp-sub000/internal/events"
	"github.com/eren2212/supplementApp-sub000/internal/logging"
	"github.com/eren2212/supplementApp-sub000/internal/server"
)

var (
	configPath string

	cfg    config.Config
	logger zerolog.Logger
)

// rootCmd serves the shop when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "shop",
	Short: "Supplement shop storefront and back office",
	Long: `shop runs the supplement storefront: catalog, cart, checkout, orders,
reviews, the recommendation survey and the admin dashboard.

Configuration comes from an optional YAML file (--config or CONFIG_FILE)
followed by environment variables. serve requires JWT_SECRET and either
Stripe keys or PAYMENTS_OFFLINE=true; DEV_MODE=true relaxes both for local
runs. Without a database every store runs in memory and the starter
catalog is loaded automatically.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Read(configPath)
		if err != nil {
			return err
		}
		logger = logging.New(cfg.ModuleName, cfg.LogLevel, cfg.LogFormat)
		return nil
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the Postgres tables",
	Long:  `migrate creates every table and index the stores need. It is safe to run repeatedly.`,
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the starter catalog and the admin account",
	Long: `seed adds the bundled supplements that are not in the catalog yet and,
when ADMIN_EMAIL and ADMIN_PASSWORD are set, creates or promotes that
account to ADMIN.`,
	RunE: runSeed,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: $CONFIG_FILE)")
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, recommendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	srv, err := server.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()
	return srv.Run(cmd.Context())
}

// withStores opens the database and hands fn the stores bound to it.
// Unlike serve, these commands refuse to fall back to memory.
func withStores(ctx context.Context, fn func(*server.Stores) error) error {
	db, err := server.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	st := server.NewStores(db, 0, events.LogPublisher{Logger: logger})
	if err := st.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return fn(st)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	return withStores(cmd.Context(), func(*server.Stores) error {
		logger.Info().Str(logging.EVENT, "migrate").Msg("schema up to date")
		return nil
	})
}

func runSeed(cmd *cobra.Command, args []string) error {
	return withStores(cmd.Context(), func(st *server.Stores) error {
		return st.Seed(cmd.Context(), cfg.AdminEmail, cfg.AdminPassword, logger)
	})
}
