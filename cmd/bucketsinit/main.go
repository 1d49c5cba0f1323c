package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/artemis/bucketsinit/internal/bucketsconfig"
	"github.com/artemis/bucketsinit/internal/loader"
	"github.com/artemis/bucketsinit/internal/observability"
	"github.com/artemis/bucketsinit/internal/opsserver"
	"github.com/artemis/bucketsinit/internal/orchestrator"
)

var (
	cfgFile      string
	migrationsDir string
	opsAddr      string
	logger       *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bucketsinit",
	Short: "Bucket schema, reindex, and data-migration coordinator",
	Long: `bucketsinit brings a set of indexed, versioned buckets in a remote
key-value/indexing service into a desired schema state, reindexes stored
records, and runs ordered per-collection data migrations.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = observability.NewLogger(viper.GetString("log_level"))
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
}

func loadBucketsConfig(path string) (*bucketsconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bucket configuration %q: %w", path, err)
	}
	return bucketsconfig.LoadYAML(data)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full schema setup, reindex, and data migration pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadBucketsConfig(cfgFile)
		if err != nil {
			return err
		}

		client, err := newClient()
		if err != nil {
			return fmt.Errorf("connecting to storage client: %w", err)
		}

		var opts []orchestrator.Option
		if migrationsDir != "" {
			opts = append(opts, orchestrator.WithMigrationsPath(migrationsDir, loader.NewRegistry()))
		}
		if n, _ := cmd.Flags().GetInt("max-setup-attempts"); n > 0 {
			opts = append(opts, orchestrator.WithMaxBucketsSetupAttempts(n))
		}
		if n, _ := cmd.Flags().GetInt("max-reindex-attempts"); n > 0 {
			opts = append(opts, orchestrator.WithMaxBucketsReindexAttempts(n))
		}
		if n, _ := cmd.Flags().GetInt("max-migration-attempts"); n > 0 {
			opts = append(opts, orchestrator.WithMaxDataMigrationsAttempts(n))
		}

		init, err := orchestrator.New(cfg, client, logger, opts...)
		if err != nil {
			return fmt.Errorf("constructing initializer: %w", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if opsAddr != "" {
			ops := opsserver.New(init, logger, opsAddr)
			go func() {
				if err := ops.Start(); err != nil {
					logger.Warn("opsserver stopped", zap.Error(err))
				}
			}()
		}

		logger.Info("starting bucket initializer", zap.String("instance_id", init.InstanceID()))

		if err := init.Start(ctx); err != nil {
			return fmt.Errorf("bucket initialization failed: %w", err)
		}

		logger.Info("bucket initialization complete")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status model for a long-running instance (placeholder)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("status querying against a running instance requires the opsserver HTTP surface; see --ops-addr on `run`")
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate-migrations",
	Short: "Validate a migration directory and bucket configuration without running anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadBucketsConfig(cfgFile)
		if err != nil {
			return err
		}
		if migrationsDir == "" {
			return fmt.Errorf("--migrations is required for validate-migrations")
		}
		plan, err := loader.LoadPlan(migrationsDir, loader.NewRegistry(), cfg)
		if err != nil {
			return err
		}
		for _, model := range plan.Models() {
			fmt.Printf("%s: %d migration(s)\n", model, len(plan.Modules(model)))
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "bucketsinit.yaml", "bucket configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "zap log level")
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.SetEnvPrefix("BUCKETSINIT")
	viper.AutomaticEnv()

	// --migrations only validates directory shape (filenames, version
	// sequence, data_version index) against whatever modules this binary
	// was compiled with via loader.NewRegistry(); it does not load migration
	// code from disk. A real embedder registers its migrations at compile
	// time and builds its own cmd around orchestrator.WithMigrationsPath.
	runCmd.Flags().StringVar(&migrationsDir, "migrations", "", "root directory of migration modules")
	runCmd.Flags().StringVar(&opsAddr, "ops-addr", "", "address to serve the opsserver HTTP/WebSocket surface on (empty disables it)")
	runCmd.Flags().Int("max-setup-attempts", 0, "maximum schema setup retry attempts (0 = unlimited)")
	runCmd.Flags().Int("max-reindex-attempts", 0, "maximum reindex retry attempts (0 = unlimited)")
	runCmd.Flags().Int("max-migration-attempts", 0, "maximum data migration retry attempts (0 = unlimited)")

	validateCmd.Flags().StringVar(&migrationsDir, "migrations", "", "root directory of migration modules")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
}
