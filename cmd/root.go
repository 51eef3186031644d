// file: cmd/root.go
// version: 2.0.0
// guid: 6a7b8c9d-0e1f-2a3b-4c5d-6e7f8a9b0c1d

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdfalk/dj-tagger/internal/config"
	"github.com/jdfalk/dj-tagger/internal/database"
	"github.com/jdfalk/dj-tagger/internal/duplicates"
	"github.com/jdfalk/dj-tagger/internal/fileops"
	"github.com/jdfalk/dj-tagger/internal/fingerprint"
	"github.com/jdfalk/dj-tagger/internal/logger"
	"github.com/jdfalk/dj-tagger/internal/operations"
	"github.com/jdfalk/dj-tagger/internal/realtime"
	"github.com/jdfalk/dj-tagger/internal/server"
	"github.com/jdfalk/dj-tagger/internal/watcher"
)

var cfgFile string
var envFile string
var musicDir string
var databasePath string
var databaseType string
var enableSQLite bool
var logLevel string
var fpcalcPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dj-tagger",
	Short: "Find and clean up duplicate tracks in a music library",
	Long: `dj-tagger catalogs the audio files of a music library, computes an
acoustic fingerprint for every track with fpcalc, and groups tracks that
are the same recording so redundant copies can be reviewed and removed.`,
	SilenceUsage: true,
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long:  `Start the HTTP API for fingerprint generation, duplicate review and track deletion.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := database.InitializeStore(config.AppConfig.DatabaseType, config.AppConfig.DatabasePath, config.AppConfig.EnableSQLite); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer database.CloseStore()

		fmt.Fprintf(cmd.OutOrStdout(), "Using database: %s (%s)\n", config.AppConfig.DatabasePath, config.AppConfig.DatabaseType)

		store := database.GlobalStore
		hub := realtime.NewEventHub()

		coordinator := newCoordinator(store, operations.WithEventHub(hub))
		if !coordinator.ToolAvailable(cmd.Context()) {
			logger.Warn("fpcalc is not available; generation requests will be refused until it is installed",
				logger.String("fpcalc_path", config.AppConfig.FpcalcPath))
		}

		workers, _ := cmd.Flags().GetInt("workers")
		jobs := operations.NewJobQueue(workers, hub)

		srv := server.NewServer(server.Dependencies{
			Store:              store,
			Coordinator:        coordinator,
			Grouper:            newGrouper(store),
			Deleter:            fileops.NewDeleter(store, fileops.WithDeleteEvents(hub)),
			Jobs:               jobs,
			Hub:                hub,
			MusicDir:           config.AppConfig.MusicDir,
			Extensions:         config.AppConfig.SupportedExtensions,
			DefaultWorkers:     config.AppConfig.FingerprintWorkers,
			RateLimitPerMinute: config.AppConfig.RateLimitPerMinute,
		})

		if config.AppConfig.Watch {
			if config.AppConfig.MusicDir == "" {
				return fmt.Errorf("--watch requires a music directory")
			}
			w := watcher.New(func(paths []string) {
				if _, err := operations.InvalidateFingerprints(store, paths); err != nil {
					logger.Warn("fingerprint invalidation incomplete", logger.Err(err))
				}
			}, config.AppConfig.SupportedExtensions, watcher.DefaultDebounce)
			if err := w.Start(config.AppConfig.MusicDir); err != nil {
				return fmt.Errorf("failed to watch %s: %w", config.AppConfig.MusicDir, err)
			}
			defer w.Stop()
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s for changes\n", config.AppConfig.MusicDir)
		}

		cfg := server.GetDefaultServerConfig()
		cfg.Host = config.AppConfig.Host
		cfg.Port = config.AppConfig.Port
		if rt, _ := cmd.Flags().GetDuration("read-timeout"); rt > 0 {
			cfg.ReadTimeout = rt
		}
		if it, _ := cmd.Flags().GetDuration("idle-timeout"); it > 0 {
			cfg.IdleTimeout = it
		}

		return srv.Start(cfg)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	defer logger.Sync()
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dj-tagger.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&musicDir, "music-dir", "", "root directory of the music library")
	rootCmd.PersistentFlags().StringVar(&databasePath, "db", "dj-tagger.pebble", "path to database (default: dj-tagger.pebble for PebbleDB)")
	rootCmd.PersistentFlags().StringVar(&databaseType, "db-type", "pebble", "database type: pebble (default) or sqlite")
	rootCmd.PersistentFlags().BoolVar(&enableSQLite, "enable-sqlite3-i-know-the-risks", false, "enable SQLite3 database (WARNING: cross-compilation issues, PebbleDB recommended)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&fpcalcPath, "fpcalc", "fpcalc", "path or name of the fpcalc binary")

	viper.BindPFlag("music_dir", rootCmd.PersistentFlags().Lookup("music-dir"))
	viper.BindPFlag("database_path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("database_type", rootCmd.PersistentFlags().Lookup("db-type"))
	viper.BindPFlag("enable_sqlite3_i_know_the_risks", rootCmd.PersistentFlags().Lookup("enable-sqlite3-i-know-the-risks"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("fpcalc_path", rootCmd.PersistentFlags().Lookup("fpcalc"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(duplicatesCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(diagnosticsCmd)

	// Add flags for serve command
	serveCmd.Flags().String("port", "8080", "port to run the web server on")
	serveCmd.Flags().String("host", "localhost", "host to bind the web server to")
	serveCmd.Flags().Duration("read-timeout", 15*time.Second, "read timeout (e.g. 15s, 1m)")
	serveCmd.Flags().Duration("idle-timeout", 60*time.Second, "idle timeout (e.g. 60s, 2m)")
	serveCmd.Flags().Int("workers", 2, "number of background job workers")
	serveCmd.Flags().Bool("watch", false, "watch the music directory and invalidate fingerprints of changed files")
	serveCmd.Flags().Int("rate-limit", 120, "API requests per minute per client IP (0 disables)")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("watch", serveCmd.Flags().Lookup("watch"))
	viper.BindPFlag("rate_limit_per_minute", serveCmd.Flags().Lookup("rate-limit"))
}

func initConfig() {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := config.LoadEnvFile(envFile); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not load %s: %v\n", envFile, err)
			}
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".dj-tagger")
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	config.InitConfig()

	// Ensure database directory exists
	if dbDir := filepath.Dir(config.AppConfig.DatabasePath); dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating database directory: %v\n", err)
		}
	}

	if err := logger.Init(logger.Config{
		Level:      logger.LogLevel(config.AppConfig.LogLevel),
		OutputPath: config.AppConfig.LogFile,
		MaxSize:    config.AppConfig.LogMaxSizeMB,
		MaxBackups: config.AppConfig.LogMaxBackups,
		MaxAge:     config.AppConfig.LogMaxAgeDays,
		Compress:   config.AppConfig.LogCompress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
	}
}

func newCoordinator(store database.Store, opts ...operations.CoordinatorOption) *operations.Coordinator {
	extractor := fingerprint.NewFpcalc(
		fingerprint.WithToolPath(config.AppConfig.FpcalcPath),
		fingerprint.WithTimeout(config.AppConfig.FingerprintTimeout),
	)
	return operations.NewCoordinator(store, extractor, opts...)
}

func newGrouper(store database.Store) *duplicates.Grouper {
	return duplicates.NewGrouper(store, duplicates.Options{
		SimilarityThreshold: config.AppConfig.SimilarityThreshold,
	})
}

// openStore opens the configured catalog for a one-shot command
func openStore() (func(), error) {
	if err := database.InitializeStore(
		config.AppConfig.DatabaseType,
		config.AppConfig.DatabasePath,
		config.AppConfig.EnableSQLite,
	); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return func() { database.CloseStore() }, nil
}
