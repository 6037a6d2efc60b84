package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peinadoso/SynchronousAudioRouter/internal/version"
)

// CreateVersionCmd creates the version command.
func CreateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and build information",
		Run: func(_ *cobra.Command, _ []string) {
			info := version.Get()
			fmt.Printf("sar-engine %s\n", info.Version)
			fmt.Printf("  commit:   %s\n", info.GitCommit)
			fmt.Printf("  built:    %s\n", info.BuildDate)
			fmt.Printf("  go:       %s (%s)\n", info.GoVersion, info.Platform)
		},
	}
}
