package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lguimbarda/reactive-flow/flow"
	"github.com/lguimbarda/reactive-flow/flow/filter"
	flowio "github.com/lguimbarda/reactive-flow/flow/io"
	"github.com/lguimbarda/reactive-flow/flow/transform"
)

func newGrepCommand(v *viper.Viper) *cobra.Command {
	var (
		maxCount   int64
		lineNumber bool
	)
	cmd := &cobra.Command{
		Use:   "grep PATTERN FILE",
		Short: "Print the lines of a file containing a pattern",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern, path := args[0], args[1]
			return withMaterializer(cmd.Context(), v, func(ctx context.Context, log *zap.Logger) error {
				numbered := flow.Via(flowio.ReadLines(path), transform.ZipWithIndex[string]())
				matches := flow.Via(numbered, filter.Filter(func(l transform.Indexed[string]) bool {
					return strings.Contains(l.Value, pattern)
				}))
				if maxCount > 0 {
					matches = flow.Via(matches, filter.Take[transform.Indexed[string]](maxCount))
				}
				lines := flow.Via(matches, transform.Map(func(l transform.Indexed[string]) (string, error) {
					if lineNumber {
						return fmt.Sprintf("%d:%s", l.Index+1, l.Value), nil
					}
					return l.Value, nil
				}))

				written, err := flow.RunWith(ctx, lines, flowio.WriteTo(cmd.OutOrStdout()))
				if err != nil {
					return err
				}
				res, err := written.Get(ctx)
				if err != nil {
					return err
				}
				log.Debug("grep finished", zap.Int64("bytes", res.Count))
				return nil
			})
		},
	}
	cmd.Flags().Int64VarP(&maxCount, "max-count", "m", 0, "stop after this many matching lines (0 means no limit)")
	cmd.Flags().BoolVarP(&lineNumber, "line-number", "n", false, "prefix every line with its line number")
	return cmd
}
