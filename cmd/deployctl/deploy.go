package main

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsline/deployctl/internal/cli"
	"github.com/opsline/deployctl/internal/config"
	"github.com/opsline/deployctl/internal/trigger"
)

var deployTimeoutSecs int

var deployCmd = &cobra.Command{
	Use:   "deploy <serverName>",
	Short: "Trigger a deployment on a configured server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		profile, err := store.GetServer(args[0])
		if err == sql.ErrNoRows {
			return fmt.Errorf("unknown server %q (run 'deployctl init client' to register one)", args[0])
		}
		if err != nil {
			return fmt.Errorf("look up server %q: %w", args[0], err)
		}

		url, err := resolveTargetURL(store, profile.URL)
		if err != nil {
			return err
		}

		timeout := time.Duration(deployTimeoutSecs) * time.Second
		client := trigger.NewClient(url, profile.Secret, timeout)

		result, err := client.Trigger()
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(result)
		}
		cli.FormatResult(result)
		return nil
	},
}

func init() {
	deployCmd.Flags().IntVar(&deployTimeoutSecs, "timeout", 0,
		"Round-trip timeout in seconds (default: 10 minutes)")
}

// resolveTargetURL picks the trigger endpoint: the profile's URL, then the
// server_url setting (env override included), then Consul discovery.
func resolveTargetURL(store *config.Store, profileURL string) (string, error) {
	if profileURL != "" {
		return profileURL, nil
	}

	url, err := store.Get(config.KeyServerURL)
	if err != nil {
		return "", fmt.Errorf("read setting %s: %w", config.KeyServerURL, err)
	}
	if url != "" {
		return url, nil
	}

	if consulAddr := os.Getenv("CONSUL_HTTP_ADDR"); consulAddr != "" {
		return trigger.DiscoverServer(consulAddr)
	}

	return "", &config.ConfigurationError{
		Reason: "no server URL configured for this profile",
	}
}
