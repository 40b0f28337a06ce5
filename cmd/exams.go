package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nimora/nimora/pkg/ecampus"
	"github.com/spf13/cobra"
)

// examsCmd represents the exams command
var examsCmd = &cobra.Command{
	Use:     "exams",
	Aliases: []string{"exam-schedule"},
	Short:   "Show the upcoming continuous assessment schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentialsFromFlags(cmd)
		if err != nil {
			return err
		}
		refresh, _ := cmd.Flags().GetBool("refresh")

		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			sched, cached, err := a.svc.ExamSchedule(ctx, creds, refresh)
			if err != nil {
				return err
			}
			return render(cmd, sched, cached, func(w io.Writer) { printExams(w, sched) })
		})
	},
}

func printExams(out io.Writer, sched *ecampus.ExamSchedule) {
	if len(sched.Exams) == 0 {
		fmt.Fprintln(out, sched.Message)
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COURSE\tDATE\tTIME\tVENUE")
	for _, e := range sched.Exams {
		venue := e.Venue
		if venue == "" {
			venue = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CourseName, e.Date, e.Time, venue)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(examsCmd)
	addCredentialFlags(examsCmd)
	addOutputFlags(examsCmd)
}
