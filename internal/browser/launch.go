// internal/browser/launch.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/recplay/internal/config"
)

// Browser is a launched browser process with one tab to record from.
type Browser struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// Launch starts the browser and opens the configured start page.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Browser, error) {
	logger = logger.Named("browser")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Debugf),
	)

	b := &Browser{
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		logger:      logger,
	}

	// The first Run starts the process and attaches to the initial tab.
	var tasks chromedp.Tasks
	if cfg.StartURL != "" && cfg.StartURL != "about:blank" {
		tasks = append(tasks, chromedp.Navigate(cfg.StartURL))
	}
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	logger.Info("Browser launched.", zap.Bool("headless", cfg.Headless), zap.String("start_url", cfg.StartURL))
	return b, nil
}

// TabContext returns the chromedp context of the recorded tab.
func (b *Browser) TabContext() context.Context { return b.tabCtx }

// Done is closed once the tab context ends.
func (b *Browser) Done() <-chan struct{} { return b.tabCtx.Done() }

// Close closes the tab and terminates the browser process.
func (b *Browser) Close() {
	b.tabCancel()
	b.allocCancel()
	b.logger.Debug("Browser closed.")
}
