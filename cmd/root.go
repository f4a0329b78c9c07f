package cmd

import (
	"fmt"
	"os"

	"github.com/DolevBitran/dynamic-products-scraper/logging"
	"github.com/DolevBitran/dynamic-products-scraper/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

// RootCmd is the base command; every subcommand shares its config loading.
var RootCmd = &cobra.Command{
	Use:   "products-scraper",
	Short: "Dynamic product data scraper",
	Long: `Scrapes product listings with user defined field selectors, reconciles
them into a product store and enriches them from their detail pages.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	RootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, prod or elk")
	_ = viper.BindPFlag("log_level", RootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "read config %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	}
}

// loadConfig decodes the configuration and installs the global logger.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, nil, err
	}

	var logger *zap.Logger
	if cfg.LogLevel == logging.LogLevelELK {
		logger = logging.SetupLoggerELK()
	} else {
		logger = logging.SetupLogger(cfg.LogFile, cfg.LogLevel)
	}
	zap.ReplaceGlobals(logger)
	if used := viper.ConfigFileUsed(); used != "" {
		logger.Info("Loaded config file", zap.String("path", used))
	}
	return cfg, logger, nil
}
