package supervisor

import (
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/opsline/deployctl/internal/config"
)

// NativeBackend runs the server as a self-detached background process and
// tracks it through a PID persisted in the config store. The persisted PID
// is always treated as possibly stale and reconciled with a liveness probe
// before being trusted.
type NativeBackend struct {
	store *config.Store
	exe   string
}

func NewNativeBackend(store *config.Store, exe string) *NativeBackend {
	return &NativeBackend{store: store, exe: exe}
}

// Start spawns `<exe> listen --port N` detached from the CLI process and
// returns as soon as the process is launched, without waiting for it to
// bind. If a live daemon is already recorded, Start reports it instead of
// spawning a duplicate.
func (b *NativeBackend) Start(port int) (*State, error) {
	if pid, ok := b.livePID(); ok {
		return &State{Running: true, PID: pid, ManagedBy: "native"}, nil
	}

	cmd := exec.Command(b.exe, "listen", "--port", strconv.Itoa(port))
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn server: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		log.Printf("Error releasing spawned process: %v", err)
	}

	if err := b.persist(pid); err != nil {
		return nil, fmt.Errorf("persist daemon state: %w", err)
	}

	return &State{Running: true, PID: pid, ManagedBy: "native"}, nil
}

// Stop signals the recorded PID. A process that is already gone is treated
// as success, and the stale record is cleared either way.
func (b *NativeBackend) Stop() (*State, error) {
	pid, err := b.recordedPID()
	if err != nil {
		return nil, err
	}
	if pid == 0 {
		return &State{Running: false}, nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return nil, fmt.Errorf("signal pid %d: %w", pid, err)
	}

	b.clear()
	return &State{Running: false}, nil
}

// Status performs a non-destructive liveness probe against the recorded
// PID, clearing stale state on a negative probe.
func (b *NativeBackend) Status() (*State, error) {
	pid, err := b.recordedPID()
	if err != nil {
		return nil, err
	}
	if pid == 0 {
		return &State{Running: false}, nil
	}

	if !pidAlive(pid) {
		log.Printf("Clearing stale daemon state (pid %d is gone)", pid)
		b.clear()
		return &State{Running: false}, nil
	}

	return &State{Running: true, PID: pid, ManagedBy: "native"}, nil
}

// livePID reports the recorded PID when it still corresponds to a live
// process, clearing the record when it does not.
func (b *NativeBackend) livePID() (int, bool) {
	pid, err := b.recordedPID()
	if err != nil || pid == 0 {
		return 0, false
	}

	if !pidAlive(pid) {
		log.Printf("Clearing stale daemon state (pid %d is gone)", pid)
		b.clear()
		return 0, false
	}

	return pid, true
}

func (b *NativeBackend) recordedPID() (int, error) {
	pidStr, err := b.store.Get(config.KeyServerPID)
	if err != nil {
		return 0, fmt.Errorf("read daemon state: %w", err)
	}
	if pidStr == "" {
		return 0, nil
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		// Corrupt record; reconcile by dropping it.
		log.Printf("Clearing corrupt daemon state (pid %q)", pidStr)
		b.clear()
		return 0, nil
	}
	return pid, nil
}

func (b *NativeBackend) persist(pid int) error {
	if err := b.store.Set(config.KeyServerPID, strconv.Itoa(pid)); err != nil {
		return err
	}
	if err := b.store.Set(config.KeyServerManagedBy, "native"); err != nil {
		return err
	}
	return b.store.Set(config.KeyServerStartedAt, time.Now().Format(time.RFC3339))
}

func (b *NativeBackend) clear() {
	for _, key := range []string{config.KeyServerPID, config.KeyServerManagedBy, config.KeyServerStartedAt} {
		if err := b.store.Delete(key); err != nil {
			log.Printf("Error clearing daemon state %s: %v", key, err)
		}
	}
}

func pidAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return false
	}
	return alive
}
