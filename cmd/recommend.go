package cmd

import (
	"encoding/json"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/abhisek/pathwise/internal/recommend"
	"github.com/abhisek/pathwise/internal/scheduler"
	"github.com/abhisek/pathwise/internal/ui/render"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <student> <course>",
	Short: "Rank the lessons to teach next",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		completed, _ := cmd.Flags().GetStringSlice("completed")
		top, _ := cmd.Flags().GetInt("top")
		asJSON, _ := cmd.Flags().GetBool("json")

		req := scheduler.Request{
			StudentID:   args[0],
			CourseID:    args[1],
			Completed:   completed,
			Constraints: recommend.Constraints{TopN: top},
		}
		if cmd.Flags().Changed("avoid-repeat-days") {
			days, _ := cmd.Flags().GetInt("avoid-repeat-days")
			req.Constraints.AvoidRepeatWithinDays = days
			if days == 0 {
				req.Constraints.AvoidRepeatWithinDays = -1
			}
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.scheduler.Recommend(cmd.Context(), req)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}
		_, err = lipgloss.Fprint(cmd.OutOrStdout(), render.Recommendation(rec))
		return err
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress <student> <course>",
	Short: "Show completion progress",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		completed, _ := cmd.Flags().GetStringSlice("completed")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.enrollments.Progress(cmd.Context(), args[0], args[1], completed)
		if err != nil {
			return err
		}
		_, err = lipgloss.Fprint(cmd.OutOrStdout(), render.Progress(args[1], p, render.DefaultWidth))
		return err
	},
}

var nextCmd = &cobra.Command{
	Use:   "next <student> <course>",
	Short: "Show the next lesson in curriculum order",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		completed, _ := cmd.Flags().GetStringSlice("completed")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		next, err := a.enrollments.NextLesson(cmd.Context(), args[0], args[1], completed)
		if err != nil {
			return err
		}
		_, err = lipgloss.Fprintln(cmd.OutOrStdout(), render.NextLesson(next))
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{recommendCmd, progressCmd, nextCmd} {
		c.Flags().StringSlice("completed", nil, "Completed lesson refs (comma separated)")
	}
	recommendCmd.Flags().Int("top", 0, "Number of candidates (default from config)")
	recommendCmd.Flags().Int("avoid-repeat-days", 0, "Penalize lessons taught within this many days (0 disables)")
	recommendCmd.Flags().Bool("json", false, "Print the recommendation as JSON")
}
