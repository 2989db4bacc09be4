package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	coreconfig "github.com/automagik/omni/core/config"
)

// Exit codes: 0 clean shutdown, 2 configuration error, 3 storage error.
const (
	ExitConfigError  = 2
	ExitStorageError = 3
)

var rootCmd = &cobra.Command{
	Use:   "omni",
	Short: "Multi-tenant messaging hub",
	Long: `Omni routes inbound WhatsApp and Discord messages to per-tenant
agent endpoints and dispatches the replies back, tracing every event.`,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads the process config, exiting with the config error code
// when the environment is unusable.
func loadConfig() *coreconfig.Config {
	cfg, err := coreconfig.LoadConfig()
	if err != nil {
		logrus.WithError(err).Error("[APP] Invalid configuration")
		os.Exit(ExitConfigError)
	}
	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	return cfg
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
