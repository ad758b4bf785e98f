package main

import (
	"fmt"

	"github.com/noperator/coinrank/pkg/coinrank"
	"github.com/spf13/cobra"
)

var demoOpts struct {
	seed   uint64
	budget int
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the built-in twelve coin demonstration",
	Long: `Shuffle six cold coins (p > 0.5) and six warm coins (p < 0.5), show their
hidden probabilities, run one search and check the answer against the truth.`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().Uint64Var(&demoOpts.seed, "seed", 7, "Seed for the shuffle and the coins")
	demoCmd.Flags().IntVarP(&demoOpts.budget, "budget", "b", 120, "Flip budget")
}

func runDemo(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	sc := coinrank.DemoScenario(demoOpts.seed)
	sc.Budget = demoOpts.budget

	out := cmd.OutOrStdout()
	probs := coinrank.Probabilities(sc.Arrange())
	for i, p := range probs {
		fmt.Fprintf(out, "  #%02d: p(H)=%.2f  [%s]\n", i, p, group(p))
	}

	rep, err := search(cmd.Context(), sc, logger, runOptions{})
	if err != nil {
		return err
	}

	if !rep.Found {
		fmt.Fprintln(out, "no coin chosen: too few flips")
		return nil
	}
	truth := probs[rep.Index]
	fmt.Fprintf(out, "chose coin #%d, true p(H)=%.2f, group %s", rep.Index, truth, group(truth))
	if rep.TrueTarget != nil {
		fmt.Fprintf(out, ", true target #%d (correct: %t)", *rep.TrueTarget, *rep.Correct)
	}
	fmt.Fprintln(out)
	return nil
}

func group(p float64) string {
	if p > 0.5 {
		return "ANT"
	}
	return "SAH"
}
