package cli

import (
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/telekom/mailqueue/pkg/config"
)

// Options are the process-level settings taken from flags or the environment.
// Everything else lives in the configuration file.
type Options struct {
	Debug         bool
	ConfigPath    string
	ListenAddress string
}

// DefaultOptions resolves the environment fallbacks used as flag defaults.
func DefaultOptions() Options {
	return Options{
		Debug:         getEnvBool("MAILQUEUE_DEBUG", false),
		ConfigPath:    getEnvString("MAILQUEUE_CONFIG_PATH", config.DefaultConfigPath),
		ListenAddress: getEnvString("MAILQUEUE_LISTEN_ADDRESS", ""),
	}
}

func (o *Options) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", o.Debug,
		"config_path", o.ConfigPath,
		"listen_address", o.ListenAddress,
	)
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
