package cmd

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lguimbarda/reactive-flow/flow"
	flowio "github.com/lguimbarda/reactive-flow/flow/io"
	"github.com/lguimbarda/reactive-flow/flow/observe"
	"github.com/lguimbarda/reactive-flow/flow/transform"
)

type wordCount struct {
	Word  string
	Count int
}

func newWordCountCommand(v *viper.Viper) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "wordcount FILE",
		Short: "Count the words of a file and print the most frequent ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if top < 1 {
				return fmt.Errorf("--top must be positive, got %d", top)
			}
			return withMaterializer(cmd.Context(), v, func(ctx context.Context, log *zap.Logger) error {
				counts, err := countWords(ctx, args[0])
				if err != nil {
					return err
				}
				log.Debug("words counted", zap.Int("distinct", len(counts)))
				for _, wc := range topWords(counts, top) {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", wc.Count, wc.Word)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "the number of words to print")
	return cmd
}

func countWords(ctx context.Context, path string) (map[string]int, error) {
	words := flow.Via(flowio.ReadLines(path), transform.MapConcat(func(line string) ([]string, error) {
		return strings.FieldsFunc(strings.ToLower(line), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
		}), nil
	}))
	words = flow.Via(words, observe.Log[string]("words", nil))

	counted, err := flow.RunWith(ctx, words, flow.Fold(map[string]int{}, func(acc map[string]int, w string) (map[string]int, error) {
		acc[w]++
		return acc, nil
	}))
	if err != nil {
		return nil, err
	}
	return counted.Get(ctx)
}

// topWords orders by descending count, then alphabetically.
func topWords(counts map[string]int, n int) []wordCount {
	out := make([]wordCount, 0, len(counts))
	for _, w := range slices.Sorted(maps.Keys(counts)) {
		out = append(out, wordCount{Word: w, Count: counts[w]})
	}
	slices.SortStableFunc(out, func(a, b wordCount) int { return cmp.Compare(b.Count, a.Count) })
	return out[:min(n, len(out))]
}
