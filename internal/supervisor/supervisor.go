package supervisor

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/opsline/deployctl/internal/config"
)

// State describes the daemon as seen by a backend. ManagedBy is "pm2" or
// "native" for a running daemon, empty otherwise.
type State struct {
	Running   bool   `json:"running"`
	PID       int    `json:"pid,omitempty"`
	ManagedBy string `json:"managed_by,omitempty"`
}

// Backend is one way of keeping the server process alive in the background.
// Both variants expose the same start/stop/status contract so the CLI stays
// backend-agnostic.
type Backend interface {
	Start(port int) (*State, error)
	Stop() (*State, error)
	Status() (*State, error)
}

// Supervisor manages the server's background lifecycle: external process
// manager first, self-detached native process as the fallback. Staleness is
// only ever observed on demand; there is no background health-check loop.
type Supervisor struct {
	store   *config.Store
	manager Backend
	native  Backend
}

func New(store *config.Store) (*Supervisor, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}

	return &Supervisor{
		store:   store,
		manager: NewManagerBackend(exe),
		native:  NewNativeBackend(store, exe),
	}, nil
}

// ValidateServerConfig checks that every setting the server needs is
// present, reporting all missing keys at once.
func ValidateServerConfig(store *config.Store) error {
	required := []string{
		config.KeySecretKey,
		config.KeyWorkingDir,
		config.KeyDeploymentCommand,
	}

	var missing []string
	for _, key := range required {
		value, err := store.Get(key)
		if err != nil {
			return fmt.Errorf("read setting %s: %w", key, err)
		}
		if value == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return &config.ConfigurationError{MissingKeys: missing}
	}
	return nil
}

// Start launches the daemon in the background. It validates configuration
// before touching any process, so a misconfigured server never binds a
// socket. Starting against an already-live daemon is a no-op that reports
// the existing instance.
func (s *Supervisor) Start(port int) (*State, error) {
	if err := ValidateServerConfig(s.store); err != nil {
		return nil, err
	}

	if port == 0 {
		p, err := s.resolvePort()
		if err != nil {
			return nil, err
		}
		port = p
	}

	state, err := s.manager.Start(port)
	if err == nil {
		if err := s.store.Set(config.KeyServerManagedBy, state.ManagedBy); err != nil {
			log.Printf("Error persisting daemon state: %v", err)
		}
		return state, nil
	}

	log.Printf("Process manager unavailable (%v), falling back to native mode", err)
	return s.native.Start(port)
}

// Stop terminates the daemon, manager first. A daemon that is already gone
// is success: the desired end state is "not running".
func (s *Supervisor) Stop() (*State, error) {
	if state, err := s.manager.Stop(); err == nil {
		s.clearDaemonState()
		return state, nil
	}

	return s.native.Stop()
}

// Status probes the daemon without disturbing it, clearing stale persisted
// state when the recorded process turns out to be gone.
func (s *Supervisor) Status() (*State, error) {
	if state, err := s.manager.Status(); err == nil && state.Running {
		return state, nil
	}

	return s.native.Status()
}

func (s *Supervisor) resolvePort() (int, error) {
	portStr, err := s.store.Get(config.KeyServerPort)
	if err != nil {
		return 0, fmt.Errorf("read setting %s: %w", config.KeyServerPort, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, &config.ConfigurationError{
			Reason: fmt.Sprintf("invalid %s %q", config.KeyServerPort, portStr),
		}
	}
	return port, nil
}

func (s *Supervisor) clearDaemonState() {
	for _, key := range []string{config.KeyServerPID, config.KeyServerManagedBy, config.KeyServerStartedAt} {
		if err := s.store.Delete(key); err != nil {
			log.Printf("Error clearing daemon state %s: %v", key, err)
		}
	}
}
