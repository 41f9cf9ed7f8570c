package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/obsidianstack/hydrowatch/internal/config"
)

// settings are the process-level overrides taken from flags or
// HYDROWATCH_* environment variables.
type settings struct {
	configPath string
	logLevel   string
	dataDir    string
}

// override applies s on top of a loaded config.
func (s settings) override(cfg *config.Config) {
	if s.logLevel != "" {
		cfg.Log.Level = s.logLevel
	}
	if s.dataDir != "" {
		cfg.Mirror.Path = s.dataDir
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "hydrowatch",
		Short:         "hydrowatch polls hydrological data sources and reports their health",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	load := bindSettings(cmd)

	cmd.AddCommand(newServeCmd(load))
	cmd.AddCommand(newInspectCmd(load))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// bindSettings registers the persistent flags on cmd and returns a function
// resolving them, flag first, then HYDROWATCH_<FLAG> from the environment.
func bindSettings(cmd *cobra.Command) func() settings {
	v := viper.New()
	v.SetEnvPrefix("HYDROWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags := cmd.PersistentFlags()
	flags.String("config", "config.yaml", "path to config file")
	flags.String("log-level", "", "override log.level (debug|info|warn|error)")
	flags.String("data-dir", "", "override mirror.path, the badger data directory")
	_ = v.BindPFlags(flags)

	return func() settings {
		return settings{
			configPath: v.GetString("config"),
			logLevel:   v.GetString("log-level"),
			dataDir:    v.GetString("data-dir"),
		}
	}
}

func loadConfig(s settings) (*config.Config, error) {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return nil, err
	}
	s.override(cfg)
	return cfg, nil
}

// newLogger returns a JSON logger writing to w at the named level.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "log level %q", level),
			"use one of debug, info, warn, error",
		)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l})), nil
}
