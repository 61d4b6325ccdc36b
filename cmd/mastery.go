package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/abhisek/pathwise/internal/ui/render"
)

var masteryCmd = &cobra.Command{
	Use:   "mastery",
	Short: "Inspect and update outcome mastery",
}

var masteryShowCmd = &cobra.Command{
	Use:   "show <student> <course>",
	Short: "Show the EMA of every outcome",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.tracker.Get(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		_, err = lipgloss.Fprint(cmd.OutOrStdout(), render.Mastery(rec, render.DefaultWidth))
		return err
	},
}

var masterySetCmd = &cobra.Command{
	Use:   "set <student> <course> <outcome=score>...",
	Short: "Set outcome EMAs in one batch (values are clamped to [0,1])",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		updates, err := parseScores(args[2:])
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.tracker.BatchUpdateEMAs(cmd.Context(), args[0], args[1], updates)
		if err != nil {
			return err
		}
		_, err = lipgloss.Fprint(cmd.OutOrStdout(), render.Mastery(rec, render.DefaultWidth))
		return err
	},
}

var masteryEvidenceCmd = &cobra.Command{
	Use:   "evidence <student> <course> <outcome> <score>",
	Short: "Fold an observed score into an outcome's EMA",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.ParseFloat(args[3], 64)
		if err != nil {
			return fmt.Errorf("invalid score %q: %w", args[3], err)
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.tracker.RecordEvidence(cmd.Context(), args[0], args[1], args[2], score)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %.3f\n", args[2], rec.EMAByOutcome[args[2]])
		return nil
	},
}

// parseScores parses outcome=score pairs.
func parseScores(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		id, raw, ok := strings.Cut(p, "=")
		if !ok || id == "" {
			return nil, fmt.Errorf("expected outcome=score, got %q", p)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid score for %s: %w", id, err)
		}
		out[id] = v
	}
	return out, nil
}

var taughtCmd = &cobra.Command{
	Use:   "taught <student> <course> <lesson>",
	Short: "Record that a lesson was taught and schedule its outcomes for review",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		outcomes, _ := cmd.Flags().GetStringSlice("outcomes")
		at := time.Now().UTC()
		if raw, _ := cmd.Flags().GetString("at"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}
			at = t
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if len(outcomes) == 0 {
			templates, err := a.curricula.Templates(ctx, args[1])
			if err != nil {
				return err
			}
			for _, t := range templates {
				if t.ID == args[2] {
					outcomes = t.OutcomeRefs
				}
			}
		}

		rc, err := a.routines.RecordTaught(ctx, args[0], args[1], args[2], outcomes, at)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "recorded %s for %s\n", args[2], args[0])
		for _, o := range outcomes {
			fmt.Fprintf(out, "  %s due %s\n", o, rc.DueAtByOutcome[o].Local().Format("2006-01-02"))
		}
		return nil
	},
}

func init() {
	masteryCmd.AddCommand(masteryShowCmd)
	masteryCmd.AddCommand(masterySetCmd)
	masteryCmd.AddCommand(masteryEvidenceCmd)

	taughtCmd.Flags().StringSlice("outcomes", nil, "Outcomes covered (default: from the lesson catalog)")
	taughtCmd.Flags().String("at", "", "When the lesson was taught, RFC 3339 (default: now)")
}
