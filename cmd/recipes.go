// -- cmd/recipes.go --
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var recipesCmd = &cobra.Command{
	Use:   "recipes",
	Short: "Inspect and manage stored recipes",
}

var recipesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored recipes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		recipes, err := a.store.List(ctx)
		if err != nil {
			return err
		}
		if len(recipes) == 0 {
			fmt.Println("No recipes recorded yet. Use \"wren record\" to create one.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTEPS\tLAST RUN\tMETHOD")
		for _, r := range recipes {
			lastRun := "never"
			if r.LastRunAt != nil {
				lastRun = r.LastRunAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				r.ID, r.Name, len(r.Steps), lastRun, r.LastScrapingMethod)
		}
		return w.Flush()
	},
}

var recipesShowCmd = &cobra.Command{
	Use:   "show <recipe id or name>",
	Short: "Show a recipe's recorded steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		recipe, err := findRecipe(ctx, a.store, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s)\nStart URL: %s\n", recipe.Name, recipe.ID, recipe.StartURL)
		if recipe.AccountID != "" {
			fmt.Printf("Account: %s\n", recipe.AccountID)
		}
		for i, s := range recipe.Steps {
			desc := s.Identification.Text
			if desc == "" {
				desc = s.Identification.AriaLabel
			}
			if desc == "" {
				desc = s.Identification.Placeholder
			}
			switch {
			case s.IsSensitive:
				fmt.Printf("%3d. %-10s %s (sensitive, value not stored)\n", i+1, s.Type, s.FieldLabel)
			case s.Value != "":
				fmt.Printf("%3d. %-10s %s = %q\n", i+1, s.Type, desc, s.Value)
			default:
				fmt.Printf("%3d. %-10s %s\n", i+1, s.Type, desc)
			}
		}
		return nil
	},
}

var recipesDeleteCmd = &cobra.Command{
	Use:   "delete <recipe id or name>",
	Short: "Delete a stored recipe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		recipe, err := findRecipe(ctx, a.store, args[0])
		if err != nil {
			return err
		}
		if err := a.store.Delete(ctx, recipe.ID); err != nil {
			return err
		}
		fmt.Printf("Deleted recipe %q (%s).\n", recipe.Name, recipe.ID)
		return nil
	},
}

func init() {
	recipesCmd.AddCommand(recipesListCmd, recipesShowCmd, recipesDeleteCmd)
	rootCmd.AddCommand(recipesCmd)
}
