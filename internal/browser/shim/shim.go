// internal/browser/shim/shim.go
package shim

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// ConfigPlaceholder is the string replaced in the JS template with the probe configuration.
	ConfigPlaceholder = "/*{{RECPLAY_PROBE_CONFIG}}*/"

	// BindingName is the runtime binding the probe reports through.
	BindingName = "__recplay_emit"
	// InstalledFlag is the window property guarding against double installation.
	InstalledFlag = "__recorderInstalled"
	// DetachFunction is the window function that removes the probe's listeners.
	DetachFunction = "__recplay_detach"

	// DefaultMaxDepth bounds the described element path: the target plus six ancestors.
	DefaultMaxDepth = 7
)

//go:embed probe.js
var probeTemplate string

// ProbeConfig is serialized into the probe template.
type ProbeConfig struct {
	Binding        string `json:"binding"`
	PollIntervalMs int64  `json:"pollIntervalMs"`
	MaxDepth       int    `json:"maxDepth"`
}

// Template returns the embedded probe source.
func Template() string { return probeTemplate }

// BuildProbe injects the configuration into the template. Zero-valued fields
// fall back to the binding name, a 500ms poll and the default depth.
func BuildProbe(template string, cfg ProbeConfig) (string, error) {
	if template == "" {
		return "", fmt.Errorf("template is empty")
	}
	if !strings.Contains(template, ConfigPlaceholder) {
		return "", fmt.Errorf("template does not contain the required placeholder: %s", ConfigPlaceholder)
	}

	if cfg.Binding == "" {
		cfg.Binding = BindingName
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = 500
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal probe config: %w", err)
	}
	return strings.Replace(template, ConfigPlaceholder, string(configJSON), 1), nil
}

// DetachScript returns an expression that detaches an installed probe. It
// evaluates to false when no probe is present.
func DetachScript() string {
	return fmt.Sprintf(`(function(){ return typeof window.%[1]s === "function" ? window.%[1]s() : false; })()`, DetachFunction)
}
