package main

import (
	"context"
	"fmt"

	"github.com/abdulachik/multipost/internal/app"
	"github.com/abdulachik/multipost/internal/config"
	"github.com/abdulachik/multipost/internal/submission"
)

// openApp loads the configuration, checks it with validate and wires the app.
func openApp(ctx context.Context, validate func(*config.Config) error) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create app: %w", err)
	}
	return a, nil
}

// loadDrafts reads the drafts of every submission file.
func loadDrafts(paths []string) ([]submission.Draft, error) {
	var drafts []submission.Draft
	for _, p := range paths {
		d, err := submission.LoadDrafts(p)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d...)
	}
	return drafts, nil
}

// unsaved turns a draft into a submission without storing it.
func unsaved(d submission.Draft) *submission.Submission {
	return &submission.Submission{
		Title:      d.Title,
		Rating:     d.Rating,
		Type:       d.Type,
		Primary:    d.Primary,
		Additional: d.Additional,
		FormData:   d.FormData,
		Scheduled:  d.Scheduled,
		ScheduleAt: d.ScheduleAt,
	}
}

func printProblems(title string, problems []string) {
	if len(problems) == 0 {
		fmt.Printf("%s: ok\n", title)
		return
	}
	fmt.Printf("%s: %d problem(s)\n", title, len(problems))
	for _, p := range problems {
		fmt.Printf("  - %s\n", p)
	}
}
