package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdulachik/multipost/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file.yaml>...",
	Short: "Check submission files for problems",
	Long:  `Validate the submissions described by the YAML files against every selected site without storing them.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openApp(ctx, (*config.Config).Validate)
	if err != nil {
		return err
	}
	defer a.Close()

	drafts, err := loadDrafts(args)
	if err != nil {
		return err
	}

	invalid := 0
	for _, d := range drafts {
		sub := unsaved(d)
		problems := a.Validator.Validate(sub)
		printProblems(sub.Title, problems)
		if len(problems) > 0 {
			invalid++
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d submission(s) have problems", invalid, len(drafts))
	}
	return nil
}
