package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codecowboy/cowboy/internal/lql"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate <file.lql>",
	Short: "Validate an LQL interface description",
	Long: `Check an LQL file for structural problems before using it in a
generation request.

Example:
  cowboy validate stack.lql`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	res := lql.Validate(string(data))
	if res.Valid {
		iface, err := lql.Parse(string(data))
		if err != nil {
			return err
		}
		fmt.Printf("✅ %s: interface %q with %d method(s)\n", args[0], iface.Name, len(iface.Methods))
		return nil
	}

	fmt.Printf("❌ %s has %d problem(s):\n", args[0], len(res.Errors))
	for _, e := range res.Errors {
		fmt.Printf("   %s\n", e)
	}
	return fmt.Errorf("%s is not valid LQL", args[0])
}
