package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jacobclevenger/unison/internal/logging"
	"github.com/jacobclevenger/unison/server"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the CLI settings that sit on top of the server
// configuration.
type Config struct {
	ConfigFile string

	LogLevel  string
	LogFormat string
	NoColor   bool

	// Secret signs the demo's bearer tokens.
	Secret string
}

// loadEnvFiles loads .env files into the environment; .env.local
// overrides .env.  Missing files are ignored.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// newViper returns a viper instance reading UNISON_* environment variables
// and, when present, a config file.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("UNISON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "console")
	v.SetDefault("no-color", false)
	v.SetDefault("secret", "")
	return v
}

// readConfigFile reads the file named by the config key, or searches for
// .unison.yaml in the working and home directories.
func readConfigFile(v *viper.Viper) error {
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
		return nil
	}

	v.SetConfigName(".unison")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func configFrom(v *viper.Viper) *Config {
	return &Config{
		ConfigFile: v.ConfigFileUsed(),
		LogLevel:   v.GetString("log-level"),
		LogFormat:  v.GetString("log-format"),
		NoColor:    v.GetBool("no-color"),
		Secret:     v.GetString("secret"),
	}
}

// Logging converts the CLI settings to a logger configuration.
func (c *Config) Logging() *logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.LogLevel
	cfg.Format = c.LogFormat
	cfg.NoColor = cfg.NoColor || c.NoColor
	return cfg
}

// serverConfig loads the server configuration from the environment and
// applies host and port when set by flag or config file.
func serverConfig(v *viper.Viper) (server.Config, error) {
	cfg, err := server.LoadConfig()
	if err != nil {
		return server.Config{}, err
	}
	if v.IsSet("host") {
		cfg.Host = v.GetString("host")
	}
	if v.IsSet("port") {
		cfg.Port = v.GetInt("port")
	}
	return cfg, cfg.Validate()
}
