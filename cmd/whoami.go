package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/nimora/nimora/pkg/ecampus"
	"github.com/spf13/cobra"
)

// whoamiCmd represents the whoami command
var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the name the portal has on record",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := credentialsFromFlags(cmd)
		if err != nil {
			return err
		}
		refresh, _ := cmd.Flags().GetBool("refresh")

		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			info, cached, err := a.svc.UserInfo(ctx, creds, refresh)
			if err != nil {
				return err
			}
			return render(cmd, info, cached, func(w io.Writer) { printUserInfo(w, info) })
		})
	},
}

func printUserInfo(w io.Writer, info *ecampus.UserInfo) {
	fmt.Fprintf(w, "%s (%s)\n", info.Username, info.RollNo)
	if info.IsBirthday {
		fmt.Fprintln(w, "Happy birthday!")
	}
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
	addCredentialFlags(whoamiCmd)
	addOutputFlags(whoamiCmd)
}
