package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/peinadoso/SynchronousAudioRouter/internal/config"
)

// CreateEndpointsCmd creates the endpoints command group.
func CreateEndpointsCmd() *cobra.Command {
	var endpointsFile string

	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "Inspect and manage virtual endpoint definitions",
	}
	cmd.PersistentFlags().StringVar(&endpointsFile, "endpoints", "endpoints.toml", "Path to endpoint definitions")

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured endpoints",
		Run: func(_ *cobra.Command, _ []string) {
			manager := loadManager(endpointsFile)
			endpoints := manager.GetEndpoints()
			if len(endpoints) == 0 {
				fmt.Println("No endpoints configured")
				return
			}

			ids := make([]string, 0, len(endpoints))
			for id := range endpoints {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			for _, id := range ids {
				endpoint := endpoints[id]
				state := "disabled"
				if endpoint.Enabled {
					state = "enabled"
				}
				line := fmt.Sprintf("%-24s %-9s %dch  %s  %s", id, endpoint.Type, endpoint.Channels, state, endpoint.Name)
				if endpoint.Device != "" {
					line += fmt.Sprintf("  (device %s)", endpoint.Device)
				}
				fmt.Println(line)
			}
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate endpoint definitions",
		Run: func(_ *cobra.Command, _ []string) {
			manager := loadManager(endpointsFile)

			failures := 0
			for _, endpoint := range manager.GetEndpoints() {
				if err := endpoint.Validate(); err != nil {
					fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
					failures++
				}
			}
			if failures > 0 {
				os.Exit(1)
			}

			session, err := manager.ToSessionEndpoints()
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%d definitions valid, %d enabled for the next session\n",
				len(manager.GetEndpoints()), len(session))
		},
	}

	var addType string
	var addChannels int
	var addDevice string
	var addDisabled bool
	add := &cobra.Command{
		Use:   "add [name]",
		Short: "Add an endpoint definition",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			manager := loadManager(endpointsFile)
			endpoint := config.EndpointConfig{
				Name:     args[0],
				Type:     addType,
				Channels: addChannels,
				Device:   addDevice,
				Enabled:  !addDisabled,
			}
			if err := manager.AddEndpoint(endpoint); err != nil {
				fmt.Fprintf(os.Stderr, "add failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("added %q\n", args[0])
		},
	}
	add.Flags().StringVar(&addType, "type", "playback", "Endpoint type: playback or recording")
	add.Flags().IntVar(&addChannels, "channels", 2, "Channel count")
	add.Flags().StringVar(&addDevice, "device", "", "Backing device file name for the device monitor")
	add.Flags().BoolVar(&addDisabled, "disabled", false, "Create the endpoint disabled")

	remove := &cobra.Command{
		Use:   "remove [id]",
		Short: "Remove an endpoint definition",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			manager := loadManager(endpointsFile)
			if err := manager.RemoveEndpoint(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "remove failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("removed %q\n", args[0])
		},
	}

	cmd.AddCommand(list, validate, add, remove)
	return cmd
}

func loadManager(path string) *config.EndpointManager {
	manager := config.NewEndpointManager(path)
	if err := manager.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", path, err)
		os.Exit(1)
	}
	return manager
}
