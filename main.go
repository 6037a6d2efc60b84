package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/peinadoso/SynchronousAudioRouter/cmd"
	"github.com/peinadoso/SynchronousAudioRouter/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:     "sar-engine",
		Short:   "User-mode engine for the synchronous audio router",
		Long:    `sar-engine routes audio between virtual endpoints and host buffers through a shared ring-buffer protocol with the driver.`,
		Version: version.String(),
	}

	root.AddCommand(
		cmd.CreateRunCmd(),
		cmd.CreateEndpointsCmd(),
		cmd.CreateUpdateCmd(),
		cmd.CreateVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
