package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdulachik/multipost/internal/config"
	"github.com/abdulachik/multipost/internal/website"
)

var statusProfile string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show login status of a profile on every site",
	Long: `Probe every registered site and report whether the login profile is
signed in, and as whom.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusProfile, "profile", "", "Login profile to check")
	statusCmd.MarkFlagRequired("profile")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openApp(ctx, (*config.Config).Validate)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("=== Login status: %s ===\n\n", statusProfile)
	for _, d := range a.Registry.Descriptors() {
		h, err := a.Registry.Get(d.ID)
		if err != nil {
			return err
		}
		status := h.CheckStatus(ctx, statusProfile)
		if status.Status == website.LoggedIn {
			fmt.Printf("  %-12s logged in as %s\n", d.DisplayName, status.Username)
			continue
		}
		fmt.Printf("  %-12s logged out (sign in at %s)\n", d.DisplayName, d.Login.URL)
	}
	return nil
}
