package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/facegate/pkg/hubclient"
)

var (
	// Global flags
	hubURL  string
	timeout time.Duration

	// Global client instance
	client *hubclient.Client
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "doorctl",
		Short: "facegate hub command line interface",
		Long: `doorctl talks to a facegate hub the way a door node does, and lists what
the hub knows. It also converts frames between capture files and the
encoded payload doors relay.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&hubURL, "hub", "http://localhost:8080", "Hub URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(newRegisterCommand())
	rootCmd.AddCommand(newPollCommand())
	rootCmd.AddCommand(newRelayCommand())
	rootCmd.AddCommand(newDoorsCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newEncodeCommand())
	rootCmd.AddCommand(newDecodeCommand())

	return rootCmd
}

// initializeClient sets up the hub client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	// Skip client initialization for help commands
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	var err error
	client, err = hubclient.NewClient(hubclient.Config{
		HubURL:       hubURL,
		Timeout:      timeout,
		RelayTimeout: timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}
