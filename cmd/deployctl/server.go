package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsline/deployctl/internal/cli"
	"github.com/opsline/deployctl/internal/config"
	"github.com/opsline/deployctl/internal/executor"
	"github.com/opsline/deployctl/internal/supervisor"
	"github.com/opsline/deployctl/internal/trigger"
)

var (
	startPort  int
	listenPort int
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the deploy server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sup, err := supervisor.New(store)
		if err != nil {
			return err
		}

		state, err := sup.Start(startPort)
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(state)
		}
		if state.PID > 0 {
			fmt.Printf("Server running (pid %d, %s)\n", state.PID, state.ManagedBy)
		} else {
			fmt.Printf("Server running (%s)\n", state.ManagedBy)
		}
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background deploy server",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sup, err := supervisor.New(store)
		if err != nil {
			return err
		}

		state, err := sup.Stop()
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(state)
		}
		fmt.Println("Server stopped")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the deploy server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sup, err := supervisor.New(store)
		if err != nil {
			return err
		}

		state, err := sup.Status()
		if err != nil {
			return err
		}

		if outputJSON {
			return cli.FormatJSON(state)
		}

		if !state.Running {
			fmt.Println("Server not running")
			return nil
		}

		if state.PID > 0 {
			fmt.Printf("Server running (pid %d, %s)\n", state.PID, state.ManagedBy)
		} else {
			fmt.Printf("Server running (%s)\n", state.ManagedBy)
		}

		// Best effort: the daemon's own view of itself via the status API.
		if port, err := resolvePort(store, 0); err == nil {
			client := cli.NewClient(fmt.Sprintf("http://127.0.0.1:%d", port+1))
			if status, err := client.Status(); err == nil {
				fmt.Printf("Uptime: %vs\n", status["uptime_seconds"])
				fmt.Printf("Deployments: %v\n", status["deployments"])
			}
		}
		return nil
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the deploy server in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		return runListen(store, listenPort)
	},
}

func init() {
	startCmd.Flags().IntVar(&startPort, "port", 0, "Port to listen on (default: server_port setting)")
	listenCmd.Flags().IntVar(&listenPort, "port", 0, "Port to listen on (default: server_port setting)")
}

func runListen(store *config.Store, port int) error {
	// Fail fast on incomplete configuration, before binding anything.
	if err := supervisor.ValidateServerConfig(store); err != nil {
		return err
	}

	secret, err := store.Get(config.KeySecretKey)
	if err != nil {
		return fmt.Errorf("read setting %s: %w", config.KeySecretKey, err)
	}
	workingDir, err := store.Get(config.KeyWorkingDir)
	if err != nil {
		return fmt.Errorf("read setting %s: %w", config.KeyWorkingDir, err)
	}
	command, err := store.Get(config.KeyDeploymentCommand)
	if err != nil {
		return fmt.Errorf("read setting %s: %w", config.KeyDeploymentCommand, err)
	}

	timeout, err := deploymentTimeout(store)
	if err != nil {
		return err
	}

	port, err = resolvePort(store, port)
	if err != nil {
		return err
	}
	httpPort := port + 1

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := trigger.NewServer(secret, executor.New(workingDir, command, timeout))

	mux := http.NewServeMux()
	api := trigger.NewAPI(server)
	api.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", httpPort),
		Handler: mux,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := trigger.RegisterConsul(port, httpPort); err != nil {
		log.Printf("Warning: failed to register with Consul: %v", err)
	}
	defer trigger.DeregisterConsul()

	errChan := make(chan error, 2)
	go func() {
		log.Printf("Trigger server listening on :%d", port)
		errChan <- server.Serve(ctx, lis)
	}()

	go func() {
		log.Printf("HTTP status API listening on :%d", httpPort)
		errChan <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		cancel()
		httpServer.Shutdown(context.Background())
		return nil
	}
}

func resolvePort(store *config.Store, port int) (int, error) {
	if port > 0 {
		return port, nil
	}

	portStr, err := store.Get(config.KeyServerPort)
	if err != nil {
		return 0, fmt.Errorf("read setting %s: %w", config.KeyServerPort, err)
	}

	port, err = strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return 0, &config.ConfigurationError{
			Reason: fmt.Sprintf("invalid %s %q", config.KeyServerPort, portStr),
		}
	}
	return port, nil
}

// deploymentTimeout reads the optional maximum execution duration, in
// seconds. Zero means executions are never interrupted.
func deploymentTimeout(store *config.Store) (time.Duration, error) {
	value, err := store.Get(config.KeyDeploymentTimeout)
	if err != nil {
		return 0, fmt.Errorf("read setting %s: %w", config.KeyDeploymentTimeout, err)
	}
	if value == "" {
		return 0, nil
	}

	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0, &config.ConfigurationError{
			Reason: fmt.Sprintf("invalid %s %q", config.KeyDeploymentTimeout, value),
		}
	}
	return time.Duration(seconds) * time.Second, nil
}

func openStore() (*config.Store, error) {
	store, err := config.NewStore(config.DefaultPath())
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	return store, nil
}
