package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/peinadoso/SynchronousAudioRouter/internal/updater"
)

// CreateUpdateCmd creates the update command.
func CreateUpdateCmd() *cobra.Command {
	var repository string
	var prerelease bool
	var apply bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for and apply updates from GitHub releases",
		Run: func(_ *cobra.Command, _ []string) {
			service, err := updater.NewService(&updater.Options{
				Repository: repository,
				Prerelease: prerelease,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "updater unavailable: %v\n", err)
				os.Exit(1)
			}
			if !service.IsEnabled() {
				fmt.Fprintf(os.Stderr, "updater disabled: %s\n", service.DisabledReason())
				os.Exit(1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			info, err := service.CheckForUpdate(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "update check failed: %v\n", err)
				os.Exit(1)
			}

			if !info.UpdateAvailable {
				fmt.Printf("up to date (%s)\n", info.CurrentVersion)
				return
			}
			fmt.Printf("update available: %s -> %s\n", info.CurrentVersion, info.LatestVersion)
			if info.ReleaseURL != "" {
				fmt.Printf("release: %s\n", info.ReleaseURL)
			}

			if !apply {
				fmt.Println("run with --apply to install")
				return
			}
			if err := service.ApplyUpdate(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "update failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("updated to %s\n", info.LatestVersion)
		},
	}

	cmd.Flags().StringVar(&repository, "repository", "peinadoso/SynchronousAudioRouter", "GitHub repository slug")
	cmd.Flags().BoolVar(&prerelease, "prerelease", false, "Include prereleases")
	cmd.Flags().BoolVar(&apply, "apply", false, "Download and install the available update")

	return cmd
}
