// Package observer turns raw probe reports from a recorded page into schema
// actions. It computes selectors, collapses keystroke bursts per element and
// suppresses repeated location reports.
package observer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/recplay/api/schemas"
)

// Probe event kinds.
const (
	EventInstalled = "installed"
	EventClick     = "click"
	EventInput     = "input"
	EventLocation  = "location"
)

// DefaultDebounce is the input quiescence window after which a type action is emitted.
const DefaultDebounce = 200 * time.Millisecond

// ErrDetached is returned by HandleProbe while the observer is not attached.
var ErrDetached = errors.New("observer is detached")

// Sink receives emitted actions.
type Sink interface {
	Push(action schemas.Action) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(schemas.Action) error

// Push calls f(action).
func (f SinkFunc) Push(action schemas.Action) error { return f(action) }

// ProbeEvent is one report sent by the in-page probe.
type ProbeEvent struct {
	Kind     string     `json:"kind"`
	Doc      string     `json:"doc,omitempty"`
	Key      int64      `json:"key,omitempty"`
	Editable string     `json:"editable,omitempty"`
	Value    *string    `json:"value,omitempty"`
	URL      string     `json:"url,omitempty"`
	Path     []PathNode `json:"path,omitempty"`
	Time     int64      `json:"time"`
}

// Options tunes an Observer.
type Options struct {
	Debounce time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

type pendingInput struct {
	timer    *time.Timer
	selector string
	value    string
	gen      uint64
}

// Observer is safe for concurrent use. Debounce timers fire on their own goroutines.
type Observer struct {
	logger   *zap.Logger
	sink     Sink
	debounce time.Duration
	now      func() time.Time

	mu       sync.Mutex
	attached bool
	lastURL  string
	pending  map[string]*pendingInput
}

// New creates a detached Observer emitting into sink.
func New(sink Sink, logger *zap.Logger, opts Options) *Observer {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Observer{
		logger:   logger.Named("observer"),
		sink:     sink,
		debounce: opts.Debounce,
		now:      opts.Now,
		pending:  make(map[string]*pendingInput),
	}
}

// Attach starts accepting probe reports. currentURL seeds URL de-duplication.
// It reports false when the observer was already attached, in which case nothing changes.
func (o *Observer) Attach(currentURL string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attached {
		o.logger.Debug("Observer already attached; ignoring.")
		return false
	}
	o.attached = true
	o.lastURL = currentURL
	o.logger.Debug("Observer attached.", zap.String("url", currentURL))
	return true
}

// Detach stops accepting reports and drops pending input without emitting it.
func (o *Observer) Detach() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.attached {
		return
	}
	o.attached = false
	dropped := len(o.pending)
	for key, p := range o.pending {
		p.timer.Stop()
		delete(o.pending, key)
	}
	o.logger.Debug("Observer detached.", zap.Int("dropped_inputs", dropped))
}

// Attached reports whether the observer is accepting reports.
func (o *Observer) Attached() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attached
}

// HandleProbe decodes and processes one probe report.
func (o *Observer) HandleProbe(payload string) error {
	var ev ProbeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return fmt.Errorf("failed to decode probe event: %w", err)
	}
	return o.Handle(ev)
}

// Handle processes a decoded probe report.
func (o *Observer) Handle(ev ProbeEvent) error {
	if !o.Attached() {
		return ErrDetached
	}

	switch ev.Kind {
	case EventInstalled:
		o.mu.Lock()
		if ev.URL != "" {
			o.lastURL = ev.URL
		}
		o.mu.Unlock()
		o.logger.Debug("Probe installed.", zap.String("url", ev.URL), zap.String("doc", ev.Doc))
	case EventClick:
		selector := Selector(ev.Path)
		if selector == "" {
			return fmt.Errorf("click without a describable target")
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		if !o.attached {
			return ErrDetached
		}
		o.emit(schemas.NewClick(selector, o.eventTime(ev)))
	case EventInput:
		return o.handleInput(ev)
	case EventLocation:
		o.handleLocation(ev)
	default:
		return fmt.Errorf("unknown probe event kind %q", ev.Kind)
	}
	return nil
}

func (o *Observer) handleInput(ev ProbeEvent) error {
	selector := Selector(ev.Path)
	if selector == "" {
		return fmt.Errorf("input without a describable target")
	}
	value := ""
	if ev.Value != nil {
		value = *ev.Value
	}
	key := fmt.Sprintf("%s:%d", ev.Doc, ev.Key)

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.attached {
		return ErrDetached
	}

	p, ok := o.pending[key]
	if !ok {
		p = &pendingInput{}
		o.pending[key] = p
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	p.selector = selector
	p.value = value

	gen := p.gen
	p.timer = time.AfterFunc(o.debounce, func() { o.flush(key, gen) })
	return nil
}

// flush emits the pending value for key if no newer input superseded it.
func (o *Observer) flush(key string, gen uint64) {
	o.mu.Lock()
	p, ok := o.pending[key]
	if !ok || p.gen != gen || !o.attached {
		o.mu.Unlock()
		return
	}
	delete(o.pending, key)
	o.emit(schemas.NewType(p.selector, p.value, o.now()))
	o.mu.Unlock()
}

func (o *Observer) handleLocation(ev ProbeEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.attached || ev.URL == "" || ev.URL == o.lastURL {
		return
	}
	o.lastURL = ev.URL
	o.emit(schemas.NewNavigate(ev.URL, o.eventTime(ev)))
}

// Pending reports the number of elements with an unflushed input burst.
func (o *Observer) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

func (o *Observer) eventTime(ev ProbeEvent) time.Time {
	if ev.Time > 0 {
		return time.UnixMilli(ev.Time)
	}
	return o.now()
}

// emit hands an action to the sink. Sink failures are logged, never returned.
// o.mu must be held, so nothing reaches the sink once Detach has returned; the
// sink must not call back into the Observer.
func (o *Observer) emit(action schemas.Action) {
	if err := o.sink.Push(action); err != nil {
		o.logger.Warn("Failed to push action.", zap.Stringer("action", action), zap.Error(err))
		return
	}
	o.logger.Debug("Action emitted.", zap.Stringer("action", action))
}
