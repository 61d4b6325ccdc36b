package cmd

import (
	"fmt"
	"io"
	"os"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/abhisek/pathwise/internal/curriculum"
	"github.com/abhisek/pathwise/internal/ui/render"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <student> <course>",
	Short: "Enroll a student in a course's latest (or a given) curriculum",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		studentID, courseID := args[0], args[1]
		curriculumID, _ := cmd.Flags().GetString("curriculum")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		var c *curriculum.AuthoredCurriculum
		if curriculumID != "" {
			c, err = a.curricula.Get(ctx, curriculumID)
		} else {
			c, err = a.curricula.Latest(ctx, courseID)
		}
		if err != nil {
			return fmt.Errorf("resolve curriculum: %w", err)
		}

		o, err := a.enrollments.CreateReference(ctx, studentID, courseID, c)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enrolled %s in %s (%s %s)\n", o.StudentID, o.CourseID, o.SourceCurriculumID, o.SourceVersion)
		return nil
	},
}

var unenrollCmd = &cobra.Command{
	Use:   "unenroll <student> <course>",
	Short: "Remove a student's enrollment and customizations",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.enrollments.Unenroll(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unenrolled %s from %s\n", args[0], args[1])
		return nil
	},
}

var customizeCmd = &cobra.Command{
	Use:   "customize <student> <course>",
	Short: "Merge a JSON customization patch into an enrollment",
	Long: `Merge a customization patch into a student's enrollment. Entries merge by
order and field, for example:

  pathwise customize s1 math --patch '{"entries":{"2":{"skipped":true}}}'

Use --file - to read the patch from stdin.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, _ := cmd.Flags().GetString("patch")
		file, _ := cmd.Flags().GetString("file")

		var raw []byte
		switch {
		case patch != "" && file != "":
			return fmt.Errorf("use --patch or --file, not both")
		case patch != "":
			raw = []byte(patch)
		case file == "-":
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read patch: %w", err)
			}
			raw = data
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read patch: %w", err)
			}
			raw = data
		default:
			return fmt.Errorf("a patch is required (--patch or --file)")
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.enrollments.ApplyCustomizationJSON(cmd.Context(), args[0], args[1], raw); err != nil {
			return err
		}
		view, err := a.enrollments.Dereference(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		_, err = lipgloss.Fprint(cmd.OutOrStdout(), render.View(view, nil))
		return err
	},
}

var showCmd = &cobra.Command{
	Use:   "show <student> <course>",
	Short: "Show a student's curriculum with customizations applied",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		completed, _ := cmd.Flags().GetStringSlice("completed")

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		view, err := a.enrollments.Dereference(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		_, err = lipgloss.Fprint(cmd.OutOrStdout(), render.View(view, completed))
		return err
	},
}

func init() {
	enrollCmd.Flags().String("curriculum", "", "Curriculum id to reference (default: latest published version)")

	customizeCmd.Flags().String("patch", "", "Customization patch as JSON")
	customizeCmd.Flags().String("file", "", "Read the patch from a file (- for stdin)")

	showCmd.Flags().StringSlice("completed", nil, "Completed lesson refs")
}
