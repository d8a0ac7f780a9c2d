package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdulachik/multipost/internal/config"
)

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "List stored submissions",
	Long:  `List stored submissions with their sites, problems and queue state.`,
	RunE:  runSubmissions,
}

var submissionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete stored submissions and their files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSubmissionsDelete,
}

func init() {
	submissionsCmd.AddCommand(submissionsDeleteCmd)
	rootCmd.AddCommand(submissionsCmd)
}

func runSubmissions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openApp(ctx, (*config.Config).Validate)
	if err != nil {
		return err
	}
	defer a.Close()

	subs, err := a.Store.GetSubmissions(ctx)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		fmt.Println("No submissions stored.")
		return nil
	}

	for _, sub := range subs {
		var state string
		switch {
		case sub.Postable():
			state = "ready"
		case sub.Queued:
			state = "queued"
		case sub.Scheduled:
			state = "scheduled " + sub.ScheduleAt.Local().Format(time.DateTime)
		default:
			state = fmt.Sprintf("%d problem(s)", len(sub.Problems))
		}
		fmt.Printf("%s  %-30s %-10s [%s] %s\n",
			sub.ID, sub.Title, sub.Rating, strings.Join(sub.Websites(), ", "), state)
	}
	return nil
}

func runSubmissionsDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openApp(ctx, (*config.Config).Validate)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Store.Delete(ctx, args); err != nil {
		return err
	}
	fmt.Printf("Deleted %d submission(s)\n", len(args))
	return nil
}
