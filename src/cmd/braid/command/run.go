package command

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/braidb/braid/src/braid"
)

// NewRunCmd returns the command that starts a braid node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runBraid,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runBraid(cmd *cobra.Command, args []string) error {
	engine := braid.NewBraid(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize node:", err)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		engine.Shutdown()
	}()

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

// AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.LogFile, "Duplicate log output to this file")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.BindAddr, "Listen IP:Port for the catch-up server")
	cmd.Flags().StringP("advertise", "a", _config.AdvertiseAddr, "Advertise IP:Port for the catch-up server")
	cmd.Flags().StringP("upstream", "u", _config.UpstreamAddr, "IP:Port of the core member to replicate from")
	cmd.Flags().DurationP("timeout", "t", _config.TCPTimeout, "TCP Timeout")
	cmd.Flags().Int("max-pool", _config.MaxPool, "Connection pool size max")
	cmd.Flags().String("cert-file", _config.CertFile, "TLS certificate file")
	cmd.Flags().String("key-file", _config.KeyFile, "TLS key file")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")

	// Replication
	cmd.Flags().Duration("poll-interval", _config.PollInterval, "Time between replication rounds")
	cmd.Flags().Duration("leader-wait", _config.LeaderWait, "Max wait for a leader")
	cmd.Flags().Duration("catchup-timeout", _config.CatchUpTimeout, "Max time for a joining replica to catch up")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"braid.DataDir":        _config.DataDir,
		"braid.BindAddr":       _config.BindAddr,
		"braid.AdvertiseAddr":  _config.AdvertiseAddr,
		"braid.UpstreamAddr":   _config.UpstreamAddr,
		"braid.ServiceAddr":    _config.ServiceAddr,
		"braid.MaxPool":        _config.MaxPool,
		"braid.Store":          _config.Store,
		"braid.LogLevel":       _config.LogLevel,
		"braid.Moniker":        _config.Moniker,
		"braid.TCPTimeout":     _config.TCPTimeout,
		"braid.PollInterval":   _config.PollInterval,
		"braid.LeaderWait":     _config.LeaderWait,
		"braid.CatchUpTimeout": _config.CatchUpTimeout,
	}

	if _config.Store {
		logFields["braid.DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/braid.toml (.json, .yaml also work)
	viper.SetConfigName("braid")
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
