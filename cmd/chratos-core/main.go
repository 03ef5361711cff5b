// Command chratos-core runs one consensus/propagation node: it loads or
// generates a representative key, opens a badger-backed ledgertest store
// under the database directory (removed again when the store closes),
// wires a node.Node from flags/config file, and runs it until SIGINT.
package main

import (
	"fmt"
	"os"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chratos-network/core/config"
	"github.com/chratos-network/core/ledger/ledgertest"
	"github.com/chratos-network/core/node"
)

var cfg = config.NewDefaultConfig()

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfg.DataDir, "datadir", "d", cfg.DataDir, "base data directory")
	flags.StringVarP(&cfg.BindAddr, "listen", "l", cfg.BindAddr, "UDP listen address for peer traffic")
	flags.StringVarP(&cfg.StatsAddr, "stats-listen", "s", cfg.StatsAddr, "HTTP listen address for Prometheus metrics, empty to disable")
	flags.StringVar(&cfg.DatabaseDir, "db", cfg.DatabaseDir, "ledger database directory")
	flags.StringVar(&cfg.LogLevel, "log", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "additionally route info/warn/error logs to this file")
	flags.IntVar(&cfg.IOThreads, "io-threads", cfg.IOThreads, "size of the I/O executor worker pool")
	flags.Uint8Var(&cfg.WorkDifficulty, "work-difficulty", cfg.WorkDifficulty, "minimum leading-zero-bit proof of work accepted over the wire")
	flags.IntVar(&cfg.OnlineWeightQuorumPercent, "online-weight-quorum-percent", cfg.OnlineWeightQuorumPercent, "quorum delta as a percent of online stake")
	flags.Uint64Var(&cfg.BootstrapFractionNumerator, "bootstrap-fraction-numerator", cfg.BootstrapFractionNumerator, "gap-cache bootstrap threshold numerator over 256")
	flags.DurationVar(&cfg.PurgeInterval, "purge-interval", cfg.PurgeInterval, "peer-set purge cadence")
	flags.DurationVar(&cfg.PurgeCutoff, "purge-cutoff", cfg.PurgeCutoff, "peer staleness cutoff before purging")
	flags.DurationVar(&cfg.CookiePurgeInterval, "cookie-purge-interval", cfg.CookiePurgeInterval, "syn-cookie purge cadence")
	flags.DurationVar(&cfg.CookiePurgeCutoff, "cookie-purge-cutoff", cfg.CookiePurgeCutoff, "syn-cookie staleness cutoff before purging")
	flags.DurationVar(&cfg.KeepaliveInterval, "keepalive-interval", cfg.KeepaliveInterval, "keepalive broadcast cadence")
	flags.StringSliceVar(&cfg.PreconfiguredPeers, "preconfigured-peers", cfg.PreconfiguredPeers, "host:port peers seeded at startup")
	flags.BoolVar(&cfg.LiveNetwork, "live-network", cfg.LiveNetwork, "enforce live-network reserved-address rules")
}

func initConfig() {
	viper.AddConfigPath(cfg.DataDir)
	viper.SetConfigName("chratos-core")
	viper.BindPFlags(rootCmd.PersistentFlags())

	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "chratos-core: no config file found, using flags/defaults:", err)
	}
	if err := viper.Unmarshal(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "chratos-core: failed to unmarshal config:", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chratos-core",
	Short: "chratos consensus and propagation node",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := cfg.Logger()
		if cfg.LogFile != "" {
			log.Logger.Hooks.Add(lfshook.NewHook(lfshook.PathMap{
				logrus.InfoLevel:  cfg.LogFile,
				logrus.WarnLevel:  cfg.LogFile,
				logrus.ErrorLevel: cfg.LogFile,
			}, &logrus.TextFormatter{}))
		}

		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return fmt.Errorf("chratos-core: create data dir: %w", err)
		}

		signer, err := loadOrGenerateKey(cfg.Keyfile())
		if err != nil {
			return fmt.Errorf("chratos-core: load key: %w", err)
		}
		log.WithField("account", signer.Account()).Info("chratos-core: representative identity")

		store, err := ledgertest.Open(cfg.DatabaseDir)
		if err != nil {
			return fmt.Errorf("chratos-core: open ledger database: %w", err)
		}
		defer store.Close()

		n, err := node.New(cfg, store, store, &ledgertest.Bootstrapper{}, signer)
		if err != nil {
			return fmt.Errorf("chratos-core: build node: %w", err)
		}
		n.Run()
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
