package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PULPFILE_STORAGE_PATH.
const EnvPrefix = "PULPFILE"

// Load initializes the global viper configuration.
// cfgFile is optional; without it config.yaml is searched in ., .pulpfile
// and $HOME/.pulpfile.
func Load(cfgFile string) error {
	// 1. defaults
	setDefaults()

	// 2. search paths
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath(".pulpfile")
		viper.AddConfigPath(filepath.Join(home, ".pulpfile"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// 3. environment (storage.path -> PULPFILE_STORAGE_PATH)
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("server.http_addr", ":24817")
	viper.SetDefault("server.grpc_addr", ":24818")
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.path", filepath.Join(".pulpfile", "meta.db"))

	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(".pulpfile", "objects"))
	viper.SetDefault("storage.s3.region", "us-east-1")

	viper.SetDefault("cache.ttl", 24*time.Hour)

	viper.SetDefault("remote.timeout", 30*time.Second)
	viper.SetDefault("remote.download_timeout", 10*time.Minute)
	viper.SetDefault("remote.download_concurrency", 4)

	viper.SetDefault("tasks.workers", 4)
	viper.SetDefault("tasks.retention", 24*time.Hour)

	viper.SetDefault("publish.path", filepath.Join(".pulpfile", "publications"))
	viper.SetDefault("publish.materialize", false)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}
