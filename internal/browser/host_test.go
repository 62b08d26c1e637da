// internal/browser/host_test.go
package browser

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/recplay/internal/browser/shim"
	"github.com/xkilldash9x/recplay/internal/config"
)

type fakeHandler struct {
	mu       sync.Mutex
	payloads []string
	err      error
}

func (f *fakeHandler) Attach(string) bool { return true }
func (f *fakeHandler) Detach()            {}

func (f *fakeHandler) HandleProbe(payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return f.err
}

type navCall struct {
	url  string
	main bool
}

func newTestHost(t *testing.T, handler ProbeHandler) *Host {
	t.Helper()
	h, err := NewHost(context.Background(), handler, shim.ProbeConfig{PollIntervalMs: 250}, zap.NewNop())
	require.NoError(t, err)
	return h
}

func TestNewHostBuildsProbe(t *testing.T) {
	h := newTestHost(t, &fakeHandler{})
	assert.NotContains(t, h.probe, shim.ConfigPlaceholder)
	assert.Contains(t, h.probe, `"binding":"`+shim.BindingName+`"`)
	assert.Contains(t, h.probe, `"pollIntervalMs":250`)
}

func TestDispatchEventNavigation(t *testing.T) {
	h := newTestHost(t, &fakeHandler{})
	var calls []navCall
	onNav := func(url string, main bool) { calls = append(calls, navCall{url, main}) }

	h.dispatchEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "main", URL: "https://example.com/app", URLFragment: "#/home"}}, onNav)
	h.dispatchEvent(&page.EventFrameNavigated{Frame: &cdp.Frame{ID: "child", ParentID: "main", URL: "https://ads.test/"}}, onNav)
	h.dispatchEvent(&page.EventFrameNavigated{}, onNav)

	assert.Equal(t, []navCall{
		{url: "https://example.com/app#/home", main: true},
		{url: "https://ads.test/", main: false},
	}, calls)
}

func TestDispatchEventBinding(t *testing.T) {
	handler := &fakeHandler{err: errors.New("observer is detached")}
	h := newTestHost(t, handler)

	h.dispatchEvent(&runtime.EventBindingCalled{Name: shim.BindingName, Payload: `{"kind":"click"}`}, nil)
	h.dispatchEvent(&runtime.EventBindingCalled{Name: "someOtherBinding", Payload: `{}`}, nil)
	h.dispatchEvent(&page.EventLoadEventFired{}, nil)

	assert.Equal(t, []string{`{"kind":"click"}`}, handler.payloads)
}

func TestAllocatorFlags(t *testing.T) {
	t.Run("headful by default", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{})
		assert.Equal(t, false, flags["headless"])
		assert.Equal(t, false, flags["hide-scrollbars"])
		assert.Equal(t, true, flags["disable-dev-shm-usage"])
		assert.NotContains(t, flags, "ignore-certificate-errors")
	})

	t.Run("headless", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{Headless: true})
		assert.Equal(t, true, flags["headless"])
		assert.NotContains(t, flags, "hide-scrollbars")
	})

	t.Run("ignore TLS errors", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{IgnoreTLSErrors: true})
		assert.Equal(t, true, flags["ignore-certificate-errors"])
		assert.Equal(t, true, flags["allow-insecure-localhost"])
	})

	t.Run("custom args", func(t *testing.T) {
		flags := allocatorFlags(config.BrowserConfig{
			Args: []string{"--no-zygote", "window-size=1280,800", "--lang=de", "  ", "--"},
		})
		assert.Equal(t, true, flags["no-zygote"])
		assert.Equal(t, "1280,800", flags["window-size"])
		assert.Equal(t, "de", flags["lang"])
		for k := range flags {
			assert.False(t, strings.HasPrefix(k, "-"), "flag %q keeps its dashes", k)
			assert.NotEmpty(t, k)
		}
	})
}

func TestAllocatorOptionsExtendsDefaults(t *testing.T) {
	cfg := config.BrowserConfig{ExecPath: "/usr/bin/chromium"}
	opts := AllocatorOptions(cfg)
	assert.Greater(t, len(opts), len(allocatorFlags(cfg)))
}
