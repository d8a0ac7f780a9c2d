package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdulachik/multipost/internal/app"
	"github.com/abdulachik/multipost/internal/config"
	"github.com/abdulachik/multipost/internal/queue"
	"github.com/abdulachik/multipost/internal/submission"
)

var postDryRun bool

var postCmd = &cobra.Command{
	Use:   "post <file.yaml>...",
	Short: "Store submissions and post them",
	Long: `Store the submissions described by the YAML files, queue them and wait
for every site to report back. Scheduled submissions are stored and left for
the scheduler.

Examples:
  multipost post fox.yaml            # Actually post
  multipost post fox.yaml --dry-run  # Validate and show formatted content only`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPost,
}

func init() {
	postCmd.Flags().BoolVar(&postDryRun, "dry-run", false, "Validate and show what would be posted without posting")
	rootCmd.AddCommand(postCmd)
}

func runPost(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, (*config.Config).ValidateForPosting)
	if err != nil {
		return err
	}
	defer a.Close()

	drafts, err := loadDrafts(args)
	if err != nil {
		return err
	}

	slog.Info("starting post workflow", "submissions", len(drafts), "dry_run", postDryRun)

	if postDryRun {
		return dryRun(a, drafts)
	}

	subs, err := a.Store.CreateSubmissions(ctx, drafts)
	if err != nil {
		return fmt.Errorf("store submissions: %w", err)
	}

	queueCtx, stopQueue := context.WithCancel(ctx)
	defer stopQueue()
	go func() {
		if err := a.Queue.Run(queueCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("post queue stopped", "error", err)
		}
	}()

	var entries []*queue.Entry
	rejected := 0
	for _, sub := range subs {
		if sub.Scheduled {
			fmt.Printf("%s: scheduled for %s (id %s)\n", sub.Title, sub.ScheduleAt.Local().Format(time.RFC1123), sub.ID)
			continue
		}

		entry, err := a.Queue.Enqueue(ctx, sub)
		var verr *queue.ValidationError
		if errors.As(err, &verr) {
			rejected++
			if uerr := a.Store.UpdateSubmission(ctx, sub); uerr != nil {
				slog.Warn("failed to store problems", "submission", sub.ID, "error", uerr)
			}
			printProblems(sub.Title, verr.Problems)
			continue
		}
		if err != nil {
			return fmt.Errorf("queue %s: %w", sub.Title, err)
		}
		entries = append(entries, entry)
	}

	failed := 0
	for _, entry := range entries {
		done, err := a.Queue.Wait(ctx, entry.ID)
		if err != nil {
			return fmt.Errorf("wait for %s: %w", entry.Title, err)
		}
		printEntry(done)
		if done.Status != queue.StatusSuccess {
			failed++
		}
	}

	if rejected > 0 || failed > 0 {
		return fmt.Errorf("%d submission(s) rejected, %d not fully posted", rejected, failed)
	}
	return nil
}

func dryRun(a *app.App, drafts []submission.Draft) error {
	invalid := 0
	for _, d := range drafts {
		sub := unsaved(d)
		problems := a.Validator.Validate(sub)
		printProblems(sub.Title, problems)
		if len(problems) > 0 {
			invalid++
			continue
		}

		for _, site := range sub.Websites() {
			content, err := a.Registry.FormatContent(sub, site)
			if err != nil {
				return err
			}
			fmt.Printf("  [%s]\n", site)
			fmt.Printf("    tags: %v\n", content.Tags)
			fmt.Printf("    description: %s\n", content.Description)
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%d submission(s) have problems", invalid)
	}
	return nil
}

func printEntry(e queue.Entry) {
	fmt.Printf("%s: %s\n", e.Title, e.Status)

	sites := make([]string, 0, len(e.Results))
	for site := range e.Results {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	for _, site := range sites {
		r := e.Results[site]
		switch {
		case r.OK && r.PostURL != "":
			fmt.Printf("  %s: posted %s\n", site, r.PostURL)
		case r.OK:
			fmt.Printf("  %s: posted\n", site)
		default:
			fmt.Printf("  %s: failed (%s) %s\n", site, r.Kind, r.Message)
		}
	}
}
