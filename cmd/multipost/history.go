package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdulachik/multipost/internal/config"
	"github.com/abdulachik/multipost/internal/db"
)

var (
	historySite  string
	historySince time.Duration
	historyLimit uint64
)

var historyCmd = &cobra.Command{
	Use:   "history [submission-id]",
	Short: "Show post history",
	Long:  `Display recorded post attempts with success and failure counts.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historySite, "site", "", "Only show attempts on this site")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "Only show attempts newer than this, e.g. 24h")
	historyCmd.Flags().Uint64Var(&historyLimit, "limit", 20, "Maximum attempts to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openApp(ctx, (*config.Config).Validate)
	if err != nil {
		return err
	}
	defer a.Close()

	filter := db.AttemptFilter{Site: historySite}
	if len(args) == 1 {
		filter.SubmissionID = args[0]
	}
	if historySince > 0 {
		filter.Since = time.Now().Add(-historySince)
	}

	total, err := a.Store.CountAttempts(ctx, filter)
	if err != nil {
		return err
	}
	ok := true
	filter.OK = &ok
	succeeded, err := a.Store.CountAttempts(ctx, filter)
	if err != nil {
		return err
	}
	filter.OK = nil

	fmt.Println("=== Post history ===")
	fmt.Println()
	fmt.Printf("  Attempts: %d\n", total)
	fmt.Printf("  Succeeded: %d\n", succeeded)
	fmt.Printf("  Failed: %d\n", total-succeeded)
	fmt.Println()

	attempts, err := a.Store.ListAttempts(ctx, filter, historyLimit)
	if err != nil {
		return err
	}
	for _, at := range attempts {
		result := "posted " + at.PostURL
		if !at.OK {
			result = fmt.Sprintf("failed (%s) %s", at.Kind, at.Message)
		}
		fmt.Printf("  %s  %-10s %s  %s\n",
			at.CreatedAt.Local().Format(time.DateTime), at.Site, at.SubmissionID, result)
	}
	return nil
}
