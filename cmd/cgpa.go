package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nimora/nimora/pkg/ecampus"
	"github.com/spf13/cobra"
)

// cgpaCmd represents the cgpa command
var cgpaCmd = &cobra.Command{
	Use:   "cgpa",
	Short: "Show semester-wise GPA and the current CGPA",
	Long:  "Reads the course grades from studzone2 and rolls them up per semester. Semesters from the first one with an arrear onwards are reported as pending.",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentialsFromFlags(cmd)
		if err != nil {
			return err
		}
		refresh, _ := cmd.Flags().GetBool("refresh")
		showCourses, _ := cmd.Flags().GetBool("courses")

		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			snap, cached, err := a.svc.CGPA(ctx, creds, refresh)
			if err != nil {
				return err
			}
			return render(cmd, snap, cached, func(w io.Writer) { printCGPA(w, snap, showCourses) })
		})
	},
}

func printCGPA(out io.Writer, snap *ecampus.CGPASnapshot, showCourses bool) {
	fmt.Fprintf(out, "%s  CGPA %.2f over %d semesters (%d credits)\n\n", snap.RollNo, snap.CurrentCGPA, snap.CompletedSemesters, snap.TotalCredits)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEMESTER\tGPA\tCGPA\tCREDITS")
	for _, s := range snap.SemesterWise {
		if s.IsPending {
			fmt.Fprintf(w, "%d\tpending\tpending\t-\n", s.Semester)
			continue
		}
		fmt.Fprintf(w, "%d\t%.2f\t%.2f\t%d\n", s.Semester, s.GPA, s.CGPA, s.Credits)
	}
	w.Flush()

	if !showCourses {
		return
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEM\tCODE\tCOURSE\tCREDITS\tGRADE")
	for _, c := range snap.Courses {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", c.Semester, c.CourseCode, c.CourseName, c.Credits, c.Grade)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(cgpaCmd)
	addCredentialFlags(cgpaCmd)
	addOutputFlags(cgpaCmd)
	cgpaCmd.Flags().Bool("courses", false, "Also list every graded course")
}
