package config

import (
	"fmt"
	"strings"
)

// ConfigurationError reports invalid or missing required settings. When
// MissingKeys is set the message lists every missing key so an operator can
// fix them all in one pass.
type ConfigurationError struct {
	MissingKeys []string
	Reason      string
}

func (e *ConfigurationError) Error() string {
	if len(e.MissingKeys) > 0 {
		return fmt.Sprintf("missing required configuration: %s (run 'deployctl config set <key> <value>' or 'deployctl init server')",
			strings.Join(e.MissingKeys, ", "))
	}
	return e.Reason
}
