package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nimora/nimora/pkg/academics"
	"github.com/nimora/nimora/pkg/ecampus"
	"github.com/spf13/cobra"
)

// attendanceCmd represents the attendance command
var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Show attendance and how many classes you can skip",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentialsFromFlags(cmd)
		if err != nil {
			return err
		}
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		if threshold <= 0 || threshold > 100 {
			return fmt.Errorf("threshold must be in (0, 100], got %v", threshold)
		}
		refresh, _ := cmd.Flags().GetBool("refresh")

		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			snap, cached, err := a.svc.Attendance(ctx, creds, threshold, refresh)
			if err != nil {
				return err
			}
			return render(cmd, snap, cached, func(w io.Writer) { printAttendance(w, snap) })
		})
	},
}

func printAttendance(out io.Writer, snap *ecampus.AttendanceSnapshot) {
	fmt.Fprintf(out, "%s (%s)  overall %.2f%%  threshold %g%%\n\n", snap.StudentName, snap.RollNo, snap.OverallPercentage, snap.Threshold)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COURSE\tATTENDED\tTOTAL\tPERCENT\tCAN SKIP\tMUST ATTEND")
	for _, c := range snap.Courses {
		must := fmt.Sprint(c.MustAttend)
		if c.ThresholdUnreachable {
			must = "unreachable"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%.2f%%\t%d\t%s\n", c.CourseName, c.AttendedClasses, c.TotalClasses, c.Percentage, c.CanBunk, must)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(attendanceCmd)
	addCredentialFlags(attendanceCmd)
	addOutputFlags(attendanceCmd)
	attendanceCmd.Flags().Float64P("threshold", "t", academics.DefaultThreshold, "Minimum attendance percentage to stay above")
}
