// Package config collects every tunable this core's components need,
// with mapstructure tags so cmd/chratos-core can bind it from a config
// file and command-line flags via viper.
package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/chratos-network/core/common"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file holding this node's
	// representative private key.
	DefaultKeyfile = "priv_key"
	// DefaultBadgerDir is the default name of the on-disk ledger
	// database directory.
	DefaultBadgerDir = "ledger_db"
)

// Default configuration values.
const (
	DefaultLogLevel   = "info"
	DefaultBindAddr   = "0.0.0.0:7075"
	DefaultStatsAddr  = "127.0.0.1:7076"
	DefaultIOThreads  = 4
	DefaultWorkDifficulty      = 1
	DefaultOnlineWeightQuorumPercent = 50
	DefaultBootstrapFractionNumerator = 16
	DefaultPurgeInterval    = time.Minute
	DefaultPurgeCutoff      = 5 * time.Minute
	DefaultOnlineRepsCutoff = 5 * time.Minute
	DefaultCookiePurgeInterval = time.Minute
	DefaultCookiePurgeCutoff   = 2 * time.Minute
	DefaultKeepaliveInterval = 15 * time.Second
	DefaultLiveNetwork      = true
)

// Config contains all configuration properties of a chratos-core node.
type Config struct {
	// DataDir is the top-level directory holding this node's key and
	// database.
	DataDir string `mapstructure:"datadir"`

	// LogLevel is the logrus level name ("debug", "info", "warn", ...).
	LogLevel string `mapstructure:"log"`

	// LogFile, if set, additionally writes info, warn and error entries
	// to this path through an lfshook file hook; the file is not rotated.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the UDP address this node's Network listens on.
	BindAddr string `mapstructure:"listen"`

	// StatsAddr is the HTTP address statsvc exposes Prometheus metrics
	// on. Empty disables the stats server.
	StatsAddr string `mapstructure:"stats-listen"`

	// DatabaseDir is where the on-disk ledger database lives.
	DatabaseDir string `mapstructure:"db"`

	// IOThreads sizes the I/O executor worker pool.
	IOThreads int `mapstructure:"io-threads"`

	// WorkDifficulty is the minimum leading-zero-bit count Network
	// requires of a block's proof of work before queuing it.
	WorkDifficulty uint8 `mapstructure:"work-difficulty"`

	// OnlineWeightQuorumPercent and OnlineWeightMinimum drive election
	// quorum math; BootstrapFractionNumerator drives GapCache's
	// bootstrap threshold.
	OnlineWeightQuorumPercent  int    `mapstructure:"online-weight-quorum-percent"`
	OnlineWeightMinimum        uint64 `mapstructure:"online-weight-minimum"`
	BootstrapFractionNumerator uint64 `mapstructure:"bootstrap-fraction-numerator"`

	// PurgeInterval/PurgeCutoff govern PeerSet.PurgeList maintenance.
	PurgeInterval time.Duration `mapstructure:"purge-interval"`
	PurgeCutoff   time.Duration `mapstructure:"purge-cutoff"`

	// OnlineRepsCutoff is how long a representative is still counted as
	// online after its last vote.
	OnlineRepsCutoff time.Duration `mapstructure:"online-reps-cutoff"`

	// CookiePurgeInterval/CookiePurgeCutoff govern syncookie.Table.Purge
	// maintenance, reclaiming per-IP handshake slots from abandoned
	// challenges.
	CookiePurgeInterval time.Duration `mapstructure:"cookie-purge-interval"`
	CookiePurgeCutoff   time.Duration `mapstructure:"cookie-purge-cutoff"`

	// KeepaliveInterval is how often this node sends a keepalive to
	// every known peer and to PreconfiguredPeers.
	KeepaliveInterval time.Duration `mapstructure:"keepalive-interval"`

	// PreconfiguredPeers seeds the initial keepalive targets, "host:port"
	// pairs.
	PreconfiguredPeers []string `mapstructure:"preconfigured-peers"`

	// LiveNetwork gates the reserved-address rejection rules; false for
	// local test networks using private ranges.
	LiveNetwork bool `mapstructure:"live-network"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a Config with every default value set.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir:                    DefaultDataDir(),
		LogLevel:                   DefaultLogLevel,
		BindAddr:                   DefaultBindAddr,
		StatsAddr:                  DefaultStatsAddr,
		DatabaseDir:                DefaultDatabaseDir(),
		IOThreads:                  DefaultIOThreads,
		WorkDifficulty:             DefaultWorkDifficulty,
		OnlineWeightQuorumPercent:  DefaultOnlineWeightQuorumPercent,
		BootstrapFractionNumerator: DefaultBootstrapFractionNumerator,
		PurgeInterval:              DefaultPurgeInterval,
		PurgeCutoff:                DefaultPurgeCutoff,
		OnlineRepsCutoff:           DefaultOnlineRepsCutoff,
		CookiePurgeInterval:        DefaultCookiePurgeInterval,
		CookiePurgeCutoff:          DefaultCookiePurgeCutoff,
		KeepaliveInterval:          DefaultKeepaliveInterval,
		LiveNetwork:                DefaultLiveNetwork,
	}
}

// NewTestConfig returns a default Config wired to a test logger.
func NewTestConfig(t testing.TB) *Config {
	c := NewDefaultConfig()
	c.logger = common.NewTestLogger(t).Logger
	return c
}

// Keyfile returns the full path to this node's private key file.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// Logger returns a formatted logrus Entry carrying this node's
// "component" field convention; callers add their own component name
// via WithField.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = parseLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "chratos-core")
}

func parseLevel(name string) logrus.Level {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// DefaultDataDir returns the default per-OS data directory, following
// XDG-ish conventions.
func DefaultDataDir() string {
	if home := homeDir(); home != "" {
		switch runtime.GOOS {
		case "darwin":
			return filepath.Join(home, "Library", "ChratosCore")
		case "windows":
			return filepath.Join(home, "AppData", "Roaming", "ChratosCore")
		default:
			return filepath.Join(home, ".chratos-core")
		}
	}
	return ""
}

// DefaultDatabaseDir returns the default on-disk ledger database path.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerDir)
}

func homeDir() string {
	if u, err := user.Current(); err == nil && u.HomeDir != "" {
		return u.HomeDir
	}
	return os.Getenv("HOME")
}
