package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abdulachik/multipost/internal/config"
)

var (
	profileID     string
	profileSite   string
	profileDomain string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage login profiles",
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored login profiles",
	Args:  cobra.NoArgs,
	RunE:  runProfileList,
}

var profileSetCmd = &cobra.Command{
	Use:   "set key=value...",
	Short: "Store site data for a profile",
	Long: `Merge key=value pairs into the data stored for a profile on one site,
such as OAuth tokens or app passwords. An empty value removes the key.

Examples:
  multipost profile set --profile main --site Bluesky username=me.bsky.social password=app-pass
  multipost profile set --profile main --site DeviantArt accessToken=`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProfileSet,
}

var profileImportCmd = &cobra.Command{
	Use:   "import-cookies <cookies.txt>",
	Short: "Import browser cookies for a profile",
	Long:  `Import a Netscape cookies.txt export, as written by most browser extensions, into a profile.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileImport,
}

var profileClearCmd = &cobra.Command{
	Use:   "clear-cookies",
	Short: "Forget the cookies of a profile",
	Long:  `Delete the stored cookies of a profile, for one domain or all of them.`,
	Args:  cobra.NoArgs,
	RunE:  runProfileClear,
}

func init() {
	for _, c := range []*cobra.Command{profileSetCmd, profileImportCmd, profileClearCmd} {
		c.Flags().StringVar(&profileID, "profile", "", "Login profile id")
		c.MarkFlagRequired("profile")
	}
	profileSetCmd.Flags().StringVar(&profileSite, "site", "", "Site id, e.g. Bluesky")
	profileSetCmd.MarkFlagRequired("site")

	profileClearCmd.Flags().StringVar(&profileDomain, "domain", "", "Only clear cookies of this domain, e.g. .weasyl.com")

	profileCmd.AddCommand(profileListCmd, profileSetCmd, profileImportCmd, profileClearCmd)
	rootCmd.AddCommand(profileCmd)
}

func runProfileList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openApp(ctx, (*config.Config).Validate)
	if err != nil {
		return err
	}
	defer a.Close()

	profiles, err := a.Store.Profiles(ctx)
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Println("No profiles stored.")
		return nil
	}
	for _, p := range profiles {
		fmt.Println(p)
	}
	return nil
}

func runProfileSet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	pairs, err := parsePairs(args)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, (*config.Config).Validate)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.Registry.Get(profileSite); err != nil {
		return err
	}

	data, err := a.Sessions.Data(ctx, profileID, profileSite)
	if err != nil {
		return fmt.Errorf("load profile data: %w", err)
	}
	data = mergePairs(data, pairs)

	if err := a.Sessions.StoreData(ctx, profileID, profileSite, data); err != nil {
		return fmt.Errorf("store profile data: %w", err)
	}
	fmt.Printf("Stored %d key(s) for %s on %s\n", len(data), profileID, profileSite)
	return nil
}

func runProfileImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open cookies: %w", err)
	}
	defer f.Close()

	a, err := openApp(ctx, (*config.Config).Validate)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Sessions.ImportCookies(ctx, profileID, f)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d cookie(s) into %s\n", n, profileID)
	return nil
}

func runProfileClear(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := openApp(ctx, (*config.Config).Validate)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Store.DeleteCookies(ctx, profileID, profileDomain); err != nil {
		return err
	}
	fmt.Printf("Cleared cookies of %s\n", profileID)
	return nil
}

// parsePairs parses key=value arguments.
func parsePairs(args []string) (map[string]string, error) {
	pairs := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid pair %q, want key=value", arg)
		}
		pairs[k] = v
	}
	return pairs, nil
}

// mergePairs applies pairs to data. Empty values delete keys; an empty result
// is nil so the stored data is removed.
func mergePairs(data, pairs map[string]string) map[string]string {
	out := make(map[string]string, len(data)+len(pairs))
	for k, v := range data {
		out[k] = v
	}
	for k, v := range pairs {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
