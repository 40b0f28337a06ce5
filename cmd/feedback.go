package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var errFeedbackNotSubmitted = errors.New("feedback was not submitted")

// feedbackCmd represents the feedback command
var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Fill in a feedback form",
	Long: `Walks one of the portal's feedback forms and answers every question.
Form 0 is the end semester feedback; any other index is an intermediate
feedback form. Forms saved before a failure stay saved on the portal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentialsFromFlags(cmd)
		if err != nil {
			return err
		}
		index, _ := cmd.Flags().GetInt("index")

		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.svc.SubmitFeedback(ctx, creds, index)
			if err != nil {
				return err
			}
			if err := render(cmd, res, false, func(w io.Writer) { fmt.Fprintln(w, res.Message) }); err != nil {
				return err
			}
			if res.Failed() {
				return errFeedbackNotSubmitted
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(feedbackCmd)
	addCredentialFlags(feedbackCmd)
	feedbackCmd.Flags().IntP("index", "i", 0, "Feedback form to fill (0 = end semester)")
	feedbackCmd.Flags().StringP("output", "o", "table", "Output format: table or json")
	feedbackCmd.Flags().StringP("query", "q", "", "gjson path applied to the JSON output")
}
