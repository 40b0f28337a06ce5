package cmd

import (
	"context"
	"fmt"

	"github.com/nimora/nimora/internal/utils"
	"github.com/nimora/nimora/pkg/cache"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached portal data",
}

// cacheClearCmd represents the cache clear command
var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget cached data for a roll number",
	RunE: func(cmd *cobra.Command, args []string) error {
		rollNo, err := rollNoFromFlags(cmd)
		if err != nil {
			return err
		}
		names, _ := cmd.Flags().GetStringSlice("kind")
		kinds, err := parseKinds(names)
		if err != nil {
			return err
		}

		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.svc.Invalidate(ctx, rollNo, kinds...); err != nil {
				return err
			}
			utils.Log.Infof("Cleared cached data for %s", rollNo)
			return nil
		})
	},
}

func parseKinds(names []string) ([]cache.Kind, error) {
	kinds := make([]cache.Kind, 0, len(names))
	for _, name := range names {
		known := false
		for _, k := range cache.Kinds {
			if string(k) == name {
				kinds = append(kinds, k)
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown data kind %q (available: %v)", name, cache.Kinds)
		}
	}
	return kinds, nil
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheClearCmd.Flags().StringP("rollno", "r", "", "Roll number (env NIMORA_STUDENT_ROLLNO)")
	cacheClearCmd.Flags().StringSliceP("kind", "k", nil, "Data kinds to clear (attendance, cgpa, internals, exams, profile). Default: all")
}
