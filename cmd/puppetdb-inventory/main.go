package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rcourtman/puppetdb-inventory/internal/cache"
	"github.com/rcourtman/puppetdb-inventory/internal/config"
	inverrors "github.com/rcourtman/puppetdb-inventory/internal/errors"
	"github.com/rcourtman/puppetdb-inventory/internal/inventory"
	"github.com/rcourtman/puppetdb-inventory/internal/logging"
	"github.com/rcourtman/puppetdb-inventory/internal/metrics"
	"github.com/rcourtman/puppetdb-inventory/pkg/puppetdb"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	listFlag   bool
	hostFlag   string
	refresh    bool
)

var rootCmd = &cobra.Command{
	Use:   "puppetdb-inventory",
	Short: "Ansible dynamic inventory backed by PuppetDB",
	Long: `puppetdb-inventory builds an Ansible dynamic inventory from the nodes and
facts stored in PuppetDB. Run with --list for the full inventory or --host
for the variables of a single host.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInventory(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to puppetdb.yml (searched ahead of the default locations)")
	rootCmd.Flags().BoolVarP(&listFlag, "list", "l", false, "print the full inventory")
	rootCmd.Flags().StringVar(&hostFlag, "host", "", "print the variables of a single host")
	rootCmd.Flags().BoolVarP(&refresh, "refresh", "r", false, "rebuild the inventory cache before printing")
	rootCmd.MarkFlagsMutuallyExclusive("list", "host")
	rootCmd.MarkFlagsOneRequired("list", "host")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(cacheCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("puppetdb-inventory %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and re-initializes logging from it.
func loadConfig() (*config.Config, error) {
	// Baseline logger for messages emitted while loading the config
	logging.Init(logging.Config{
		Format:    config.DefaultLogFormat,
		Level:     config.DefaultLogLevel,
		Component: "inventory",
	})

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "inventory",
		FilePath:  cfg.LogFile,
	})
	return cfg, nil
}

func newService(cfg *config.Config, recorder *metrics.Recorder) (*inventory.Service, error) {
	client, err := puppetdb.NewClient(puppetdb.ClientConfig{
		Host:       cfg.Host,
		Port:       cfg.Port,
		Protocol:   cfg.Protocol,
		APIVersion: cfg.APIVersion,
		Token:      cfg.Token,
		VerifySSL:  cfg.SSLVerify.Enabled,
		CAFile:     cfg.SSLVerify.CAFile,
		CertFile:   cfg.SSLCert,
		KeyFile:    cfg.SSLKey,
		Timeout:    cfg.TimeoutDuration(),
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("url", client.BaseURL()).Int("api_version", cfg.APIVersion).Msg("Using PuppetDB")

	builder := inventory.NewBuilder(client, inventory.OptionsFromConfig(cfg), recorder)
	return inventory.NewService(builder, cache.New(cfg.CacheFile, cfg.CacheTTL()), recorder), nil
}

func runInventory(cmd *cobra.Command) error {
	started := time.Now()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Shutdown()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	hostMode := cmd.Flags().Changed("host")
	mode := "list"
	if hostMode {
		mode = "host"
	}
	ctx, _ = logging.WithRunID(ctx, "")
	ctx = logging.WithLogger(ctx, logging.New("", logging.WithFields(map[string]interface{}{"mode": mode})))
	logger := logging.FromContext(ctx)

	recorder := metrics.NewRecorder()
	data, err := produce(ctx, cfg, recorder, hostMode)

	recorder.RecordRun(started, time.Now(), err)
	if werr := recorder.WriteTextfile(cfg.MetricsTextfile); werr != nil {
		logger.Warn().Err(werr).Str("path", cfg.MetricsTextfile).Msg("Failed to write metrics textfile")
	}
	if logging.IsLevelEnabled(zerolog.DebugLevel) {
		if snap, serr := recorder.Snapshot(); serr == nil {
			logger.Debug().Interface("metrics", snap).Msg("Run metrics")
		}
	}
	if err != nil {
		logger.Debug().Err(err).Dur("elapsed", time.Since(started)).Msg("Inventory run failed")
		if inverrors.IsAuthError(err) {
			return fmt.Errorf("%w (PuppetDB rejected the credentials; check token, or ssl_cert and ssl_key)", err)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if _, err := out.Write(data); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out)
	return err
}

func produce(ctx context.Context, cfg *config.Config, recorder *metrics.Recorder, hostMode bool) ([]byte, error) {
	svc, err := newService(cfg, recorder)
	if err != nil {
		return nil, err
	}

	if hostMode {
		host := strings.TrimSpace(hostFlag)
		if host == "" {
			return nil, fmt.Errorf("--host requires a host name")
		}
		return svc.Host(ctx, host)
	}
	return svc.List(ctx, refresh)
}
