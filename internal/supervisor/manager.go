package supervisor

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const managedName = "deployctl"

// ManagerBackend delegates the daemon lifecycle to pm2. Any invocation
// failure (manager not installed, non-zero exit) makes the supervisor fall
// back to native mode; the fallback is a recovery path, not an error.
type ManagerBackend struct {
	bin string
	exe string
}

func NewManagerBackend(exe string) *ManagerBackend {
	return &ManagerBackend{
		bin: "pm2",
		exe: exe,
	}
}

func (m *ManagerBackend) Start(port int) (*State, error) {
	cmd := exec.Command(m.bin, "start", m.exe,
		"--name", managedName, "--",
		"listen", "--port", strconv.Itoa(port))

	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s start: %w: %s", m.bin, err, strings.TrimSpace(string(out)))
	}

	return &State{Running: true, ManagedBy: m.bin}, nil
}

func (m *ManagerBackend) Stop() (*State, error) {
	cmd := exec.Command(m.bin, "delete", managedName)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s delete: %w: %s", m.bin, err, strings.TrimSpace(string(out)))
	}

	return &State{Running: false}, nil
}

func (m *ManagerBackend) Status() (*State, error) {
	cmd := exec.Command(m.bin, "pid", managedName)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s pid: %w", m.bin, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil || pid <= 0 {
		return &State{Running: false}, nil
	}

	return &State{Running: true, PID: pid, ManagedBy: m.bin}, nil
}
