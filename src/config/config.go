package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/braidb/braid/src/common"
)

// Default filenames.
const (
	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database.
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel       = "debug"
	DefaultBindAddr       = "127.0.0.1:2280"
	DefaultServiceAddr    = "127.0.0.1:8000"
	DefaultTCPTimeout     = 1000 * time.Millisecond
	DefaultMaxPool        = 2
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultLeaderWait     = 30 * time.Second
	DefaultCatchUpTimeout = 3 * time.Minute
	DefaultStore          = false
)

// Config contains all the configuration properties of a braid node.
type Config struct {
	// DataDir is the top-level directory containing braid configuration and
	// data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, duplicates log output to the given file.
	LogFile string `mapstructure:"log-file"`

	// Moniker defines the friendly name of this node.
	Moniker string `mapstructure:"moniker"`

	// BindAddr is the local address:port where this node serves the catch-up
	// protocol. In some cases, there may be a routable address that cannot be
	// bound. Use AdvertiseAddr to advertise a different address to support
	// this.
	BindAddr string `mapstructure:"listen"`

	// AdvertiseAddr is used to change the address that we advertise to other
	// nodes.
	AdvertiseAddr string `mapstructure:"advertise"`

	// UpstreamAddr is the address:port of the core member to replicate from.
	// When set, the node runs as a read replica; when empty, it serves its
	// own store.
	UpstreamAddr string `mapstructure:"upstream"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service. If not
	// specified, and "no-service" is not set, the API handlers are registered
	// with the DefaultServerMux of the http package, which may be shared with
	// another server in the same process.
	ServiceAddr string `mapstructure:"service-listen"`

	// TCPTimeout is the timeout applied to catch-up connections.
	TCPTimeout time.Duration `mapstructure:"timeout"`

	// MaxPool controls how many connections are pooled per target by the
	// catch-up client.
	MaxPool int `mapstructure:"max-pool"`

	// PollInterval is how often a replica polls its upstream for new
	// transactions.
	PollInterval time.Duration `mapstructure:"poll-interval"`

	// LeaderWait bounds how long membership operations wait for a leader.
	LeaderWait time.Duration `mapstructure:"leader-wait"`

	// CatchUpTimeout bounds how long a joining replica may take to reach the
	// transaction id observed on the leader at join time.
	CatchUpTimeout time.Duration `mapstructure:"catchup-timeout"`

	// Store activates persistent storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// CertFile and KeyFile activate the TLS stream layer when both are set.
	CertFile string `mapstructure:"cert-file"`
	KeyFile  string `mapstructure:"key-file"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:        DefaultDataDir(),
		LogLevel:       DefaultLogLevel,
		BindAddr:       DefaultBindAddr,
		ServiceAddr:    DefaultServiceAddr,
		TCPTimeout:     DefaultTCPTimeout,
		MaxPool:        DefaultMaxPool,
		PollInterval:   DefaultPollInterval,
		LeaderWait:     DefaultLeaderWait,
		CatchUpTimeout: DefaultCatchUpTimeout,
		Store:          DefaultStore,
		DatabaseDir:    DefaultDatabaseDir(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level braid directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "braid". When
// LogFile is set, output is also written there.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			pathMap := lfshook.PathMap{}
			for _, level := range logrus.AllLevels {
				if level <= c.logger.Level {
					pathMap[level] = c.LogFile
				}
			}
			c.logger.Hooks.Add(lfshook.NewHook(pathMap, &logrus.TextFormatter{}))
		}
	}
	return c.logger.WithField("prefix", "braid")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir returns the default directory name for top-level braid
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Braid")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Braid")
		} else {
			return filepath.Join(home, ".braid")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
