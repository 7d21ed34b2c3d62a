package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fourks/sockethub/internal/common/logtrace"
	"github.com/fourks/sockethub/internal/sockethub/config"
	"github.com/fourks/sockethub/internal/sockethub/server"
)

var (
	// Global flags
	configFile  string
	secretsFile string
	cmdline     config.Cmdline
)

var ErrAlreadyHandled = errors.New("already handled")

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sockethub [command] [flags]",
	Short: "Sockethub - a polyglot messaging service",
	Long: `Sockethub translates messages between web applications and
protocol platforms. This binary runs the session subsystem: the
dispatcher that owns the encryption key and the platform workers
that share sessions through the configured store.

Examples:
  # Run the platforms listed in HOST.MY_PLATFORMS
  sockethub serve -c config.json

  # Print the resolved configuration
  sockethub config -c config.json

  # List the processes answering on the control channel
  sockethub ping -c config.json

  # Retire two sessions across every platform worker
  sockethub cleanup -c config.json sid1 sid2`,
	PersistentPreRunE: preRunHandlePersistents,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFile, "config", "c", "config.json", "Path to the config file (.json, .yaml, .toml or .js)")
	pf.StringVarP(&secretsFile, "secrets", "s", "", "Path to the secrets file")
	pf.BoolVarP(&cmdline.Debug, "debug", "d", false, "Enable debug logging")
	pf.StringVarP(&cmdline.Log, "log", "l", "", "Append logs to this file")
	pf.BoolVarP(&cmdline.Verbose, "verbose", "v", false, "Human-readable log output")
	pf.BoolVarP(&cmdline.Info, "info", "i", false, "Print the config summary and exit")
	pf.StringVar(&cmdline.RedisHost, "redis-host", "", "Redis host, overrides REDIS.HOST")
	pf.IntVar(&cmdline.RedisPort, "redis-port", 0, "Redis port, overrides REDIS.PORT")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newPingCmd())
	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	// a missing .env is not an error
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// loadConfig resolves the config and initialises the logger from it. The
// returned closer releases the log file.
func loadConfig(ctx context.Context) (*config.Config, func() error, error) {
	cfg, err := config.Load(ctx, config.Options{
		ConfigFile:  configFile,
		SecretsFile: secretsFile,
		Cmdline:     cmdline,
		Version:     server.Version,
	})
	if err != nil {
		return nil, nil, err
	}
	closer, err := logtrace.InitLogger(logtrace.Options{
		Debug:   cfg.Debug,
		Verbose: cfg.Verbose,
		LogFile: cfg.LogFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	log.Debug().Str("config_file", cfg.ConfigFile).Str("instance_id", cfg.Session.InstanceID).Msg("config resolved")
	return cfg, closer, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// It returns the process exit code.
func Execute() int {
	rootCmd.SilenceErrors = true // Prevent Cobra from printing the error
	rootCmd.SilenceUsage = true  // Prevent Cobra from printing usage on error

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, ErrAlreadyHandled) {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()
			cfg.Summary(cmd.OutOrStdout())
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Create a bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()
			if cfg.Admin.TokenSecret == "" {
				return fmt.Errorf("admin auth is disabled, set ADMIN.TOKEN_SECRET")
			}
			token, expiry, appErr := server.CreateAdminToken([]byte(cfg.Admin.TokenSecret), cfg.Session.InstanceID, ttl)
			if appErr != nil {
				return appErr
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			okLabel.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiry.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sockethub %s (admin api %s)\n", server.Version, server.APIVersion)
		},
	}
}
