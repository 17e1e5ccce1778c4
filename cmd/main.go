package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/KAsare1/strings-server/cmd/api"
	"github.com/KAsare1/strings-server/cmd/config"
	"github.com/KAsare1/strings-server/cmd/logging"
	"github.com/KAsare1/strings-server/db"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "strings-server",
	Short: "Strings social feed API",
	Long: `Serves the Strings API: accounts, posts and comments with media,
likes, reposts, follows and profiles.

Run without a subcommand to start the server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.Logging.Level, verbose)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Migrate the database and start the HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update all tables and upload directories",
	RunE:  runMigrate,
}

var clearDBCmd = &cobra.Command{
	Use:   "clear-db",
	Short: "Drop every table",
	RunE:  runClearDB,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert two demo users with a post and a reply",
	RunE:  runSeed,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default $CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	clearDBCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	seedCmd.Flags().Bool("reset", false, "drop and recreate all tables first")

	rootCmd.AddCommand(serveCmd, migrateCmd, clearDBCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openDB validates the config and connects.
func openDB() (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level := gormlogger.Warn
	if verbose {
		level = gormlogger.Info
	}
	conn, err := db.Open(cfg.Database, level)
	if err != nil {
		return nil, fmt.Errorf("database initialization error: %w", err)
	}
	logger.Info("connected to the database", zap.String("driver", cfg.Database.Driver))
	return conn, nil
}

func closeDB(conn *gorm.DB) {
	if err := db.Close(conn); err != nil {
		logger.Warn("error closing database", zap.Error(err))
		return
	}
	logger.Info("database connection closed")
}

func runServe(cmd *cobra.Command, args []string) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer closeDB(conn)

	if err := performMigrations(conn); err != nil {
		return err
	}

	server, err := api.NewAPIServer(cfg, conn, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer closeDB(conn)

	if err := performMigrations(conn); err != nil {
		return err
	}
	logger.Info("migrations completed successfully")
	return nil
}

func performMigrations(conn *gorm.DB) error {
	logger.Info("starting database migrations")
	if err := db.Migrate(conn); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}

	directories := []string{cfg.Media.TmpDir}
	if cfg.Media.Backend == "local" {
		directories = append(directories, cfg.Media.Dir)
	}
	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("could not create directory %s: %w", dir, err)
		}
		logger.Debug("directory created/verified", zap.String("dir", dir))
	}
	return nil
}

func runClearDB(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		fmt.Fprint(cmd.OutOrStdout(), "Are you sure you want to clear the database? (yes/no): ")
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			logger.Info("database clearing cancelled")
			return nil
		}
	}

	conn, err := openDB()
	if err != nil {
		return err
	}
	defer closeDB(conn)

	if err := db.DropAll(conn); err != nil {
		return fmt.Errorf("error clearing database: %w", err)
	}
	logger.Info("database cleared successfully")
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	conn, err := openDB()
	if err != nil {
		return err
	}
	defer closeDB(conn)

	if reset, _ := cmd.Flags().GetBool("reset"); reset {
		if err := db.DropAll(conn); err != nil {
			return fmt.Errorf("error clearing database: %w", err)
		}
	}
	if err := performMigrations(conn); err != nil {
		return err
	}

	store, err := api.NewMediaStore(cfg.Media)
	if err != nil {
		return err
	}
	return seed(cmd.Context(), conn, store, cfg, logger)
}
