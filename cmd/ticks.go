package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/filter"
	"github.com/lguimbarda/reactive-flow/flow/timing"
	"github.com/lguimbarda/reactive-flow/flow/transform"
)

func newTicksCommand(v *viper.Viper) *cobra.Command {
	var (
		interval time.Duration
		count    int64
	)
	cmd := &cobra.Command{
		Use:   "ticks",
		Short: "Print a numbered tick at a fixed interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			return withMaterializer(cmd.Context(), v, func(ctx context.Context, _ *zap.Logger) error {
				ticks := flow.Via(timing.Tick(0, interval, struct{}{}), transform.ZipWithIndex[struct{}]())
				ticks = flow.Via(ticks, filter.Take[transform.Indexed[struct{}]](count))
				done, err := flow.RunWith(ctx, ticks, flow.ForEach(func(t transform.Indexed[struct{}]) error {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "tick %d\n", t.Index+1)
					return err
				}))
				if err != nil {
					return err
				}
				_, err = done.Get(ctx)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "the time between two ticks")
	cmd.Flags().Int64Var(&count, "count", 5, "the number of ticks to print")
	return cmd
}
