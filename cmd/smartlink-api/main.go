package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mdmcmusicads/smartlink/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "smartlink-api",
		Short: "SmartLink resolution and landing page backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
		SilenceUsage: true,
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	})
	rootCmd.AddCommand(newCacheCommand())
	rootCmd.AddCommand(newAccountCommand())

	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("public.base_url"), "Base URL of public SmartLink pages")
	cmd.PersistentFlags().String("odesli-api-url", defaults.GetString("odesli.api_url"), "Aggregation API base URL")
	cmd.PersistentFlags().Int("odesli-rate-limit", defaults.GetInt("odesli.rate_limit"), "Outbound aggregation calls allowed per window")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("ratelimit.redis_addr"), "Redis address for the shared rate limiter (empty keeps it in-process)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "public.base_url", "public-base-url")
	bindFlag(cmd, "odesli.api_url", "odesli-api-url")
	bindFlag(cmd, "odesli.rate_limit", "odesli-rate-limit")
	bindFlag(cmd, "ratelimit.redis_addr", "redis-addr")
	bindFlag(cmd, "session.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return fmt.Errorf("config file %s: %w", cfgFile, err)
		}
	}

	return nil
}
