package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opsline/deployctl/internal/cli"
	"github.com/opsline/deployctl/internal/config"
	"github.com/opsline/deployctl/internal/models"
)

var initCmd = &cobra.Command{
	Use:       "init [client|server]",
	Short:     "Interactively configure this host",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"client", "server"},
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		switch args[0] {
		case "client":
			return initClient(store)
		case "server":
			return initServer(store)
		default:
			return fmt.Errorf("unknown init target %q", args[0])
		}
	},
}

var generateCmd = &cobra.Command{
	Use:       "generate [secret_key|working_dir]",
	Short:     "Generate and persist a setting",
	Args:      cobra.RangeArgs(1, 2),
	ValidArgs: []string{"secret_key", "working_dir"},
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		switch args[0] {
		case "secret_key":
			secret, err := generateSecret(store)
			if err != nil {
				return err
			}
			fmt.Printf("Generated secret_key: %s\n", secret)
			return nil
		case "working_dir":
			path := ""
			if len(args) > 1 {
				path = args[1]
			}
			dir, err := generateWorkingDir(store, path)
			if err != nil {
				return err
			}
			fmt.Printf("Created working_dir: %s\n", dir)
			return nil
		default:
			return fmt.Errorf("unknown generate target %q", args[0])
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage persisted settings",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a setting (environment overrides apply)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		value, err := store.Get(args[0])
		if err != nil {
			return err
		}
		if value == "" {
			return fmt.Errorf("setting %q is not set", args[0])
		}

		fmt.Println(value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		return store.Set(args[0], args[1])
	},
}

var configListCmd = &cobra.Command{
	Use:   "list [client|server]",
	Short: "List persisted settings and server profiles",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		scope := ""
		if len(args) > 0 {
			scope = args[0]
		}

		if scope == "" || scope == "server" {
			settings, err := store.List()
			if err != nil {
				return err
			}
			if outputJSON {
				if err := cli.FormatJSON(settings); err != nil {
					return err
				}
			} else if err := cli.FormatSettingsTable(settings); err != nil {
				return err
			}
		}

		if scope == "" || scope == "client" {
			profiles, err := store.ListServers()
			if err != nil {
				return err
			}
			if outputJSON {
				return cli.FormatJSON(profiles)
			}
			return cli.FormatServersTable(profiles)
		}

		return nil
	},
}

var configClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all persisted settings and server profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		return store.Clear()
	},
}

func init() {
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configClearCmd)
}

func initClient(store *config.Store) error {
	reader := bufio.NewReader(os.Stdin)

	name, err := prompt(reader, "Server name: ")
	if err != nil {
		return err
	}
	url, err := prompt(reader, "Server URL (host:port): ")
	if err != nil {
		return err
	}
	secret, err := prompt(reader, "Shared secret: ")
	if err != nil {
		return err
	}

	if name == "" || secret == "" {
		return &config.ConfigurationError{
			Reason: "server name and shared secret are required",
		}
	}

	if err := store.PutServer(&models.ServerProfile{Name: name, URL: url, Secret: secret}); err != nil {
		return fmt.Errorf("save server profile: %w", err)
	}

	fmt.Printf("Registered server %q\n", name)
	return nil
}

func initServer(store *config.Store) error {
	reader := bufio.NewReader(os.Stdin)

	secret, err := prompt(reader, "Shared secret (empty to generate): ")
	if err != nil {
		return err
	}
	if secret == "" {
		secret, err = generateSecret(store)
		if err != nil {
			return err
		}
		fmt.Printf("Generated secret_key: %s\n", secret)
	} else if err := store.Set(config.KeySecretKey, secret); err != nil {
		return fmt.Errorf("save secret_key: %w", err)
	}

	workingDir, err := prompt(reader, "Working directory: ")
	if err != nil {
		return err
	}
	if workingDir != "" {
		if _, err := generateWorkingDir(store, workingDir); err != nil {
			return err
		}
	}

	command, err := prompt(reader, "Deployment command: ")
	if err != nil {
		return err
	}
	if command != "" {
		if err := store.Set(config.KeyDeploymentCommand, command); err != nil {
			return fmt.Errorf("save deployment_command: %w", err)
		}
	}

	port, err := prompt(reader, fmt.Sprintf("Port [%s]: ", config.Defaults[config.KeyServerPort]))
	if err != nil {
		return err
	}
	if port != "" {
		if err := store.Set(config.KeyServerPort, port); err != nil {
			return fmt.Errorf("save server_port: %w", err)
		}
	}

	fmt.Println("Server configured. Run 'deployctl start' to launch it.")
	return nil
}

func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func generateSecret(store *config.Store) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}

	secret := hex.EncodeToString(buf)
	if err := store.Set(config.KeySecretKey, secret); err != nil {
		return "", fmt.Errorf("save secret_key: %w", err)
	}
	return secret, nil
}

func generateWorkingDir(store *config.Store, path string) (string, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "/tmp"
		}
		path = filepath.Join(homeDir, "deployctl-app")
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("create working directory: %w", err)
	}
	if err := store.Set(config.KeyWorkingDir, path); err != nil {
		return "", fmt.Errorf("save working_dir: %w", err)
	}
	return path, nil
}
