package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/opsline/deployctl/internal/models"
)

func FormatJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func FormatResult(result *models.DeployResult) {
	status := "FAILED"
	if result.Success {
		status = "OK"
	}

	fmt.Printf("Deployment: %s\n", status)
	fmt.Printf("Request ID: %s\n", result.RequestID)
	fmt.Printf("Exit Code: %d\n", result.ExitCode)
	fmt.Printf("Duration: %dms\n", result.DurationMs)
	if result.TimedOut {
		fmt.Println("Timed out: yes")
	}
	if result.Truncated {
		fmt.Println("Output truncated: yes")
	}

	if out := strings.TrimRight(result.Stdout, "\n"); out != "" {
		fmt.Printf("\nStdout:\n%s\n", out)
	}
	if errOut := strings.TrimRight(result.Stderr, "\n"); errOut != "" {
		fmt.Printf("\nStderr:\n%s\n", errOut)
	}
}

func FormatServersTable(profiles []models.ServerProfile) error {
	if len(profiles) == 0 {
		fmt.Println("No servers configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tURL\tUPDATED")

	for _, p := range profiles {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.URL, p.UpdatedAt.Format(time.RFC3339))
	}

	return w.Flush()
}

func FormatSettingsTable(settings []models.Setting) error {
	if len(settings) == 0 {
		fmt.Println("No settings configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tVALUE\tUPDATED")

	for _, s := range settings {
		value := s.Value
		if s.Key == "secret_key" {
			value = maskSecret(value)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Key, value, s.UpdatedAt.Format(time.RFC3339))
	}

	return w.Flush()
}

// maskSecret keeps enough of the key to recognize it without printing the
// whole credential to the console.
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "********"
	}
	return value[:4] + "..." + value[len(value)-4:]
}
