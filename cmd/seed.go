package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/abhisek/pathwise/internal/curriculum"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Publish curricula and lesson templates from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		f, err := curriculum.ParseSeed(data)
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.curricula.Seed(cmd.Context(), f)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}

		out := cmd.OutOrStdout()
		for _, id := range res.Published {
			fmt.Fprintln(out, "published", id)
		}
		for _, id := range res.Existing {
			fmt.Fprintln(out, "already published", id)
		}
		fmt.Fprintf(out, "%d lesson templates stored\n", res.Templates)
		return nil
	},
}
