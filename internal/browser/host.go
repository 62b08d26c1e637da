// internal/browser/host.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/recplay/internal/browser/shim"
)

// DefaultOpTimeout bounds a single round of CDP calls.
const DefaultOpTimeout = 10 * time.Second

// ProbeHandler receives reports from the in-page probe.
type ProbeHandler interface {
	Attach(currentURL string) bool
	Detach()
	HandleProbe(payload string) error
}

// NavigationFunc is called for every committed frame navigation.
type NavigationFunc func(url string, mainFrame bool)

// Host records from one chromedp tab. It installs the probe on demand and
// forwards navigation commits and probe reports to their consumers.
type Host struct {
	tabCtx    context.Context
	logger    *zap.Logger
	handler   ProbeHandler
	probe     string
	opTimeout time.Duration

	mu       sync.Mutex
	bound    bool
	scriptID page.ScriptIdentifier
}

// NewHost prepares a host for the tab behind tabCtx, which must be a chromedp context.
func NewHost(tabCtx context.Context, handler ProbeHandler, probeCfg shim.ProbeConfig, logger *zap.Logger) (*Host, error) {
	probe, err := shim.BuildProbe(shim.Template(), probeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build probe script: %w", err)
	}
	return &Host{
		tabCtx:    tabCtx,
		logger:    logger.Named("browser_host"),
		handler:   handler,
		probe:     probe,
		opTimeout: DefaultOpTimeout,
	}, nil
}

// SetOpTimeout overrides DefaultOpTimeout.
func (h *Host) SetOpTimeout(d time.Duration) {
	if d > 0 {
		h.opTimeout = d
	}
}

// Listen subscribes to tab events. Call it once, before recording starts.
func (h *Host) Listen(onNavigate NavigationFunc) {
	chromedp.ListenTarget(h.tabCtx, func(ev interface{}) {
		h.dispatchEvent(ev, onNavigate)
	})
}

// dispatchEvent runs on the CDP event goroutine and must not call back into chromedp.
func (h *Host) dispatchEvent(ev interface{}, onNavigate NavigationFunc) {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame == nil || onNavigate == nil {
			return
		}
		onNavigate(e.Frame.URL+e.Frame.URLFragment, e.Frame.ParentID == "")
	case *runtime.EventBindingCalled:
		if e.Name != shim.BindingName {
			return
		}
		if err := h.handler.HandleProbe(e.Payload); err != nil {
			h.logger.Debug("Probe report dropped.", zap.Error(err))
		}
	}
}

// ActiveURL returns the URL of the tab.
func (h *Host) ActiveURL(ctx context.Context) (string, error) {
	var url string
	if err := h.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read tab location: %w", err)
	}
	return url, nil
}

// InjectObserver installs the probe into the current document and every
// document the tab loads afterwards, then starts accepting its reports.
func (h *Host) InjectObserver(ctx context.Context, url string) error {
	h.handler.Attach(url)

	h.mu.Lock()
	defer h.mu.Unlock()

	err := h.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		if !h.bound {
			if err := runtime.AddBinding(shim.BindingName).Do(c); err != nil {
				return fmt.Errorf("failed to add binding '%s': %w", shim.BindingName, err)
			}
			h.bound = true
		}
		if h.scriptID == "" {
			id, err := page.AddScriptToEvaluateOnNewDocument(h.probe).Do(c)
			if err != nil {
				return fmt.Errorf("could not inject persistent script: %w", err)
			}
			h.scriptID = id
		}
		return nil
	}), chromedp.Evaluate(h.probe, nil))
	if err != nil {
		h.handler.Detach()
		return err
	}

	h.logger.Debug("Probe injected.", zap.String("url", url), zap.String("scriptID", string(h.scriptID)))
	return nil
}

// StopObserver stops accepting reports and removes the probe from the tab.
// Pending input is dropped.
func (h *Host) StopObserver(ctx context.Context) error {
	h.handler.Detach()

	h.mu.Lock()
	defer h.mu.Unlock()

	var tasks chromedp.Tasks
	if h.scriptID != "" {
		id := h.scriptID
		tasks = append(tasks, chromedp.ActionFunc(func(c context.Context) error {
			return page.RemoveScriptToEvaluateOnNewDocument(id).Do(c)
		}))
	}
	tasks = append(tasks, chromedp.Evaluate(shim.DetachScript(), nil))

	err := h.run(ctx, tasks)
	h.scriptID = ""
	if err != nil {
		return fmt.Errorf("failed to remove probe: %w", err)
	}
	return nil
}

// run executes actions on the tab, bounded by ctx and the operation timeout.
func (h *Host) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(h.tabCtx, h.opTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
