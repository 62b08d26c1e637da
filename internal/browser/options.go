// internal/browser/options.go
package browser

import (
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/recplay/internal/config"
)

// AllocatorOptions translates the browser config into chromedp allocator options.
// Recording needs a visible window unless headless is requested explicitly.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// allocatorFlags returns the command line flags layered over the chromedp defaults.
func allocatorFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"disable-dev-shm-usage": true,
		"headless":              cfg.Headless,
	}
	if !cfg.Headless {
		// The defaults hide scrollbars and mute audio for automation; a human drives this window.
		flags["hide-scrollbars"] = false
		flags["mute-audio"] = false
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
		flags["allow-insecure-localhost"] = true
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		key, value, found := strings.Cut(arg, "=")
		if !found {
			flags[key] = true
			continue
		}
		flags[key] = value
	}
	return flags
}
