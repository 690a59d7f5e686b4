// Package cmd contains all the commands included in the reactive-flow binary.
package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/config"
)

const configFlag = "config"

// NewRootCommand returns the reactive-flow command with every subcommand.
// Settings are read from flags, environment variables named after the config
// keys, or config.yaml (in that order).
func NewRootCommand() *cobra.Command {
	v := config.New("/etc/reactive-flow", "$HOME/.reactive-flow", ".")

	cmd := &cobra.Command{
		Use:   "reactive-flow",
		Short: "Run demo pipelines on the reactive-flow stream engine",
		Long: `Run demo pipelines on the reactive-flow stream engine.

Every pipeline runs on a materializer configured from config.yaml,
FLOW_* environment variables and the flags below.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if path, _ := cmd.Flags().GetString(configFlag); path != "" {
				v.SetConfigFile(path)
			}
			return nil
		},
	}
	bindRootFlags(cmd, v)

	cmd.AddCommand(
		newWordCountCommand(v),
		newGrepCommand(v),
		newTicksCommand(v),
	)
	return cmd
}

func bindRootFlags(cmd *cobra.Command, v *viper.Viper) {
	defaults := config.DefaultConfig()
	flags := cmd.PersistentFlags()

	flags.String(configFlag, "", "path of a config file to use instead of the default locations")

	flags.String("log-format", defaults.Log.Format, "the log format to output logs in (json or text)")
	mustBindPFlag(v, config.LogFormatKey, flags.Lookup("log-format"))

	flags.String("log-level", defaults.Log.Level, "the log level to use (none, debug, info, warn, error)")
	mustBindPFlag(v, config.LogLevelKey, flags.Lookup("log-level"))

	flags.Int("max-input-buffer-size", defaults.Materializer.MaxInputBufferSize, "the buffer size in front of every async boundary")
	mustBindPFlag(v, config.MaxInputBufferSizeKey, flags.Lookup("max-input-buffer-size"))
}

// mustBindPFlag binds key to flag and panics if the binding fails.
func mustBindPFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic("failed to bind pflag: " + err.Error())
	}
}

// withMaterializer runs fn with a context carrying a materializer built from
// the configuration, and shuts the materializer down afterwards.
func withMaterializer(ctx context.Context, v *viper.Viper, fn func(context.Context, *zap.Logger) error) (err error) {
	cfg, err := config.Read(v)
	if err != nil {
		return err
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	mat, err := flow.NewMaterializer(ctx, cfg.Options(log)...)
	if err != nil {
		return err
	}
	defer func() {
		mat.Shutdown()
		mat.Wait()
	}()

	log.Debug("materializer started", zap.String("name", cfg.Materializer.Name))
	if err := fn(flow.WithMaterializer(ctx, mat), log); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("pipeline cancelled")
		}
		return err
	}
	return nil
}
