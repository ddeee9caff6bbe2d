package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loftcall/loftcall/pkg/core/workflow"
)

func newValidateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "validate [file...]",
		Short: "Check workflow definitions for unknown targets and dead ends",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				workflows, err := workflow.LoadDir(dir)
				if err != nil {
					return err
				}
				if len(workflows) == 0 {
					return fmt.Errorf("no workflows found in %s", dir)
				}
				for id := range workflows {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", id)
				}
				return nil
			}

			var failed bool
			for _, path := range args {
				if _, err := workflow.Load(path); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					failed = true
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			if failed {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "data/workflows", "workflow directory to validate")
	return cmd
}
