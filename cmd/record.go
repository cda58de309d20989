// -- cmd/record.go --
package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	recordName    string
	recordURL     string
	recordAccount string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a new recipe by driving the bank page yourself",
	Long: `Opens a browser window on the start URL with capture active. Perform the
login and navigate to the transaction page as you normally would, then press
Enter in this terminal to finish. Password fields are redacted in the saved
recipe and will be asked for again at replay time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.engine.StartRecording(ctx, recordName, recordURL, recordAccount); err != nil {
			return err
		}
		fmt.Printf("Recording %q. Interact with the browser window; press Enter here when done.\n", recordName)
		waitForEnter()

		recipe, err := a.engine.StopRecording(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Saved recipe %q (%s) with %d steps.\n", recipe.Name, recipe.ID, len(recipe.Steps))
		return nil
	},
}

func waitForEnter() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
}

func init() {
	recordCmd.Flags().StringVarP(&recordName, "name", "n", "", "recipe name (e.g. \"chase-checking\")")
	recordCmd.Flags().StringVarP(&recordURL, "url", "u", "", "start URL of the bank portal")
	recordCmd.Flags().StringVarP(&recordAccount, "account", "a", "", "account id to attach extracted transactions to")
	_ = recordCmd.MarkFlagRequired("name")
	_ = recordCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(recordCmd)
}
