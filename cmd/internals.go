package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/nimora/nimora/pkg/ecampus"
	"github.com/spf13/cobra"
)

// internalsCmd represents the internals command
var internalsCmd = &cobra.Command{
	Use:   "internals",
	Short: "Show internal marks and the end-semester score each course needs",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentialsFromFlags(cmd)
		if err != nil {
			return err
		}
		target, _ := cmd.Flags().GetFloat64("target")
		endsemMax, _ := cmd.Flags().GetFloat64("endsem-max")
		refresh, _ := cmd.Flags().GetBool("refresh")

		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			snap, cached, err := a.svc.Internals(ctx, creds, target, endsemMax, refresh)
			if err != nil {
				return err
			}
			return render(cmd, snap, cached, func(w io.Writer) { printInternals(w, snap) })
		})
	},
}

func printInternals(out io.Writer, snap *ecampus.InternalsSnapshot) {
	fmt.Fprintf(out, "%s  target %g/100, end semester out of %g\n\n", snap.RollNo, snap.TargetTotal, snap.EndsemMax)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COURSE\tMARKS\tTOTAL\tEND SEM NEEDED")
	for _, c := range snap.Courses {
		marks := make([]string, 0, len(c.Marks))
		for _, m := range c.Marks {
			marks = append(marks, fmt.Sprintf("%s %g/%g", m.TestName, m.ObtainedMarks, m.MaxMarks))
		}
		needed := "unreachable"
		if c.RequiredEndsem != nil {
			needed = fmt.Sprint(*c.RequiredEndsem)
		}
		fmt.Fprintf(w, "%s\t%s\t%g/%g\t%s\n", courseLabel(c.CourseCode, c.CourseName), strings.Join(marks, ", "), c.TotalObtained, c.TotalMax, needed)
	}
	w.Flush()
}

func courseLabel(code, name string) string {
	if name == "" || name == code {
		return code
	}
	return code + " " + name
}

func init() {
	rootCmd.AddCommand(internalsCmd)
	addCredentialFlags(internalsCmd)
	addOutputFlags(internalsCmd)
	internalsCmd.Flags().Float64("target", ecampus.DefaultTargetTotal, "Total mark (out of 100) to aim for")
	internalsCmd.Flags().Float64("endsem-max", ecampus.DefaultEndsemMax, "Maximum mark of the end semester exam")
}
