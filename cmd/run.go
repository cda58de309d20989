// -- cmd/run.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wrenfin/wren/api/schemas"
	"github.com/wrenfin/wren/internal/engine"
	"github.com/wrenfin/wren/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run <recipe id or name>",
	Short: "Replay a stored recipe and import its transactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		recipe, err := findRecipe(ctx, a.store, args[0])
		if err != nil {
			return err
		}
		report, err := a.engine.Run(ctx, recipe)
		if err != nil {
			printRunFailure(report, err)
			return err
		}
		printReport(report)
		return nil
	},
}

// findRecipe accepts an id or a unique name.
func findRecipe(ctx context.Context, st store.RecipeStore, key string) (*schemas.Recipe, error) {
	recipe, err := st.Get(ctx, key)
	if err == nil {
		return recipe, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	all, err := st.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == key {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", store.ErrNotFound, key)
}

func printRunFailure(report *engine.RunReport, err error) {
	fmt.Printf("Run failed: %v\n", err)
	if report != nil && report.Playback != nil && report.Playback.FailedStep >= 0 {
		fmt.Printf("Stopped at step %d of %d.\n",
			report.Playback.FailedStep+1,
			report.Playback.StepsExecuted+1)
	}
}

func printReport(report *engine.RunReport) {
	fmt.Printf("Replayed %q: %d steps, extraction method %s, %d transactions.\n",
		report.Recipe.Name,
		report.Playback.StepsExecuted,
		report.Method,
		len(report.Transactions))
	if len(report.Transactions) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tDATE\tDESCRIPTION\tAMOUNT\tBALANCE\tCONF")
	for _, tx := range report.Transactions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\n",
			tx.Index, tx.Date, tx.Description, tx.Amount, tx.Balance, tx.Confidence)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(runCmd)
}
