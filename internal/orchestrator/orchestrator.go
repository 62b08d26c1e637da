// File: internal/orchestrator/orchestrator.go
// Description: Owns the recording state machine. Control commands, observer
// actions and host navigation events are funneled through one FIFO mailbox and
// applied by a single goroutine, so state transitions never interleave.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/recplay/api/schemas"
)

var (
	// ErrClosed is returned once Run has exited.
	ErrClosed = errors.New("orchestrator is closed")
	// ErrAlreadyRunning is returned by a second concurrent call to Run.
	ErrAlreadyRunning = errors.New("orchestrator is already running")
	// ErrUnknownCommand is returned by Dispatch for an unrecognized cmd.
	ErrUnknownCommand = errors.New("unknown command")
)

// Reply messages shared with the control surface.
const (
	MsgNotRecording       = "not recording"
	MsgNoActions          = "No actions recorded"
	MsgNoContentInjection = "recording started (no content injection)"
	MsgInjectionFailed    = "recording started (injection failed)"
)

// Host is the browser environment the orchestrator records from.
type Host interface {
	// ActiveURL returns the URL of the page being recorded.
	ActiveURL(ctx context.Context) (string, error)
	// InjectObserver installs the in-page observer into the active page.
	InjectObserver(ctx context.Context, url string) error
	// StopObserver detaches the observer from the active page.
	StopObserver(ctx context.Context) error
}

// Backup is the durable single-slot mirror of the session.
type Backup interface {
	Save(ctx context.Context, sess schemas.Session) error
	Load(ctx context.Context) (schemas.Session, error)
	Clear(ctx context.Context) error
}

// Uploader commits a finished recording to the storage service.
type Uploader interface {
	Upload(ctx context.Context, rec schemas.Recording) (*schemas.SaveResult, error)
}

// State is the recording state machine position.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateUploading
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateUploading:
		return "uploading"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Navigation is a committed navigation reported by the host.
type Navigation struct {
	URL       string
	MainFrame bool
	At        time.Time
}

// Snapshot is a point-in-time copy of the orchestrator state.
type Snapshot struct {
	State     State
	SessionID string
	StartURL  *string
	Actions   []schemas.Action
	// Interrupted is true when a restored session awaits STOP to be committed.
	Interrupted bool
}

// Options tunes an Orchestrator.
type Options struct {
	Now   func() time.Time
	NewID func() string
}

type envelopeKind int

const (
	kindCommand envelopeKind = iota
	kindPush
	kindNavigation
	kindSnapshot
)

type envelope struct {
	kind   envelopeKind
	cmd    schemas.Command
	action schemas.Action
	nav    Navigation
	reply  chan *schemas.Reply
	snap   chan Snapshot
}

// Orchestrator is safe for concurrent use; all state is confined to the Run goroutine.
type Orchestrator struct {
	baseLogger *zap.Logger
	logger     *zap.Logger
	host       Host
	backup     Backup
	uploader   Uploader
	now        func() time.Time
	newID      func() string

	box     *mailbox
	running atomic.Bool
	done    chan struct{}

	// Owned by the Run goroutine.
	state   State
	session schemas.Session
}

// New creates an Orchestrator. Call Run to start processing.
func New(logger *zap.Logger, host Host, backup Backup, uploader Uploader, opts Options) (*Orchestrator, error) {
	if logger == nil || host == nil || backup == nil || uploader == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	named := logger.Named("orchestrator")
	return &Orchestrator{
		baseLogger: named,
		logger:     named,
		host:       host,
		backup:     backup,
		uploader:   uploader,
		now:        opts.Now,
		newID:      opts.NewID,
		box:        newMailbox(),
		done:       make(chan struct{}),
	}, nil
}

// Run restores the durable backup and then processes messages in arrival
// order until ctx is cancelled. It returns nil on cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(o.done)

	o.restore(ctx)
	o.logger.Info("Orchestrator started.")

	for {
		select {
		case <-ctx.Done():
			dropped := o.box.close()
			if len(dropped) > 0 {
				o.logger.Warn("Orchestrator stopping with queued messages.", zap.Int("dropped", len(dropped)))
			}
			o.logger.Info("Orchestrator stopped.")
			return nil
		case <-o.box.notify:
			for _, e := range o.box.drain() {
				o.handle(ctx, e)
			}
		}
	}
}

// Done is closed when Run returns.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Dispatch delivers a protocol message. START_RECORDING and STOP_RECORDING
// wait for the reply; PUSH_ACTION is queued and returns a nil reply.
func (o *Orchestrator) Dispatch(ctx context.Context, msg schemas.Message) (*schemas.Reply, error) {
	switch msg.Cmd {
	case schemas.CmdPushAction:
		if msg.Action == nil {
			return nil, fmt.Errorf("%s without an action", msg.Cmd)
		}
		return nil, o.Push(*msg.Action)
	case schemas.CmdStartRecording, schemas.CmdStopRecording:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Cmd)
	}

	reply := make(chan *schemas.Reply, 1)
	if !o.box.put(envelope{kind: kindCommand, cmd: msg.Cmd, reply: reply}) {
		return nil, ErrClosed
	}

	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.done:
		select {
		case r := <-reply:
			return r, nil
		default:
			return nil, ErrClosed
		}
	}
}

// Start is shorthand for dispatching START_RECORDING.
func (o *Orchestrator) Start(ctx context.Context) (*schemas.Reply, error) {
	return o.Dispatch(ctx, schemas.Message{Cmd: schemas.CmdStartRecording})
}

// Stop is shorthand for dispatching STOP_RECORDING.
func (o *Orchestrator) Stop(ctx context.Context) (*schemas.Reply, error) {
	return o.Dispatch(ctx, schemas.Message{Cmd: schemas.CmdStopRecording})
}

// Push queues an observed action. It never blocks.
func (o *Orchestrator) Push(action schemas.Action) error {
	if !o.box.put(envelope{kind: kindPush, action: action}) {
		return ErrClosed
	}
	return nil
}

// Navigated queues a host navigation commit. Sub-frame commits are ignored.
func (o *Orchestrator) Navigated(nav Navigation) {
	if !nav.MainFrame {
		return
	}
	if nav.At.IsZero() {
		nav.At = o.now()
	}
	o.box.put(envelope{kind: kindNavigation, nav: nav})
}

// Snapshot returns the state after every message queued before the call has been applied.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	snap := make(chan Snapshot, 1)
	if !o.box.put(envelope{kind: kindSnapshot, snap: snap}) {
		return Snapshot{}, ErrClosed
	}
	select {
	case s := <-snap:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-o.done:
		select {
		case s := <-snap:
			return s, nil
		default:
			return Snapshot{}, ErrClosed
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, e envelope) {
	switch e.kind {
	case kindCommand:
		var r *schemas.Reply
		switch e.cmd {
		case schemas.CmdStartRecording:
			r = o.start(ctx)
		case schemas.CmdStopRecording:
			r = o.stop(ctx)
		}
		e.reply <- r
	case kindPush:
		o.appendAction(ctx, e.action)
	case kindNavigation:
		o.navigated(ctx, e.nav)
	case kindSnapshot:
		e.snap <- o.snapshot()
	}
}

// restore repopulates memory from the durable slot. Recording is never resumed.
func (o *Orchestrator) restore(ctx context.Context) {
	stored, err := o.backup.Load(ctx)
	if err != nil {
		o.logger.Error("Failed to restore backup.", zap.Error(err))
		return
	}
	o.session = stored
	o.state = StateIdle
	if len(stored.Actions) > 0 || stored.Active {
		o.logger = o.baseLogger.With(zap.String("session_id", stored.ID))
		o.logger.Info("Restored session from backup.",
			zap.Int("actions", len(stored.Actions)),
			zap.Bool("interrupted", stored.Active))
	}
}

func (o *Orchestrator) start(ctx context.Context) *schemas.Reply {
	if o.state == StateRecording {
		o.logger.Warn("START while recording; discarding the current session.", zap.Int("actions", len(o.session.Actions)))
		// The new page may not get an observer, so the old one must not keep reporting.
		if err := o.host.StopObserver(ctx); err != nil {
			o.logger.Debug("Observer stop failed.", zap.Error(err))
		}
	}

	o.state = StateRecording
	o.session = schemas.Session{ID: o.newID(), Actions: []schemas.Action{}, Active: true}
	o.logger = o.baseLogger.With(zap.String("session_id", o.session.ID))
	o.persist(ctx)
	o.logger.Info("Recording started.")

	url, err := o.host.ActiveURL(ctx)
	if err != nil {
		o.logger.Warn("No active page; relying on navigation events.", zap.Error(err))
		return &schemas.Reply{OK: false, Error: fmt.Sprintf("no active tab: %v", err)}
	}

	if !isHTTPURL(url) {
		o.logger.Info("Active page is not http(s); relying on navigation events.", zap.String("url", url))
		return &schemas.Reply{OK: true, Message: MsgNoContentInjection}
	}

	o.record(ctx, schemas.NewNavigate(url, o.now()))
	o.logger.Info("Initial navigation recorded.", zap.String("url", url))

	if err := o.host.InjectObserver(ctx, url); err != nil {
		o.logger.Error("Observer injection failed; recording navigations only.", zap.Error(err))
		return &schemas.Reply{OK: true, Message: MsgInjectionFailed, Error: err.Error()}
	}
	return &schemas.Reply{OK: true}
}

func (o *Orchestrator) appendAction(ctx context.Context, action schemas.Action) {
	if o.state != StateRecording {
		o.logger.Warn("PUSH_ACTION while not recording. Ignoring.", zap.Stringer("action", action))
		return
	}
	action = action.Sanitize()
	if err := action.Validate(); err != nil {
		o.logger.Warn("Rejected action.", zap.Error(err))
		return
	}
	o.record(ctx, action)
}

func (o *Orchestrator) navigated(ctx context.Context, nav Navigation) {
	if o.state != StateRecording || nav.URL == "" {
		return
	}
	o.record(ctx, schemas.NewNavigate(nav.URL, nav.At))
	o.logger.Debug("Navigation recorded.", zap.String("url", nav.URL))
}

// record appends an action, sets the start URL from the first navigation and persists.
func (o *Orchestrator) record(ctx context.Context, action schemas.Action) {
	o.session.Actions = append(o.session.Actions, action)
	if o.session.StartURL == nil && action.Action == schemas.KindNavigate && action.URL != "" {
		u := action.URL
		o.session.StartURL = &u
	}
	o.persist(ctx)
	o.logger.Debug("Action added.", zap.Int("count", len(o.session.Actions)), zap.Stringer("action", action))
}

func (o *Orchestrator) stop(ctx context.Context) *schemas.Reply {
	if o.state != StateRecording && !o.session.Active {
		o.logger.Warn("STOP while not recording. Ignoring.")
		return &schemas.Reply{OK: false, Error: MsgNotRecording}
	}

	wasRecording := o.state == StateRecording
	o.state = StateUploading
	defer func() { o.state = StateIdle }()

	if wasRecording {
		if err := o.host.StopObserver(ctx); err != nil {
			o.logger.Debug("Observer stop failed.", zap.Error(err))
		}
	}

	if len(o.session.Actions) == 0 {
		stored, err := o.backup.Load(ctx)
		if err != nil {
			o.logger.Warn("Failed to read backup.", zap.Error(err))
		} else {
			o.session.Actions = stored.Actions
			if stored.StartURL != nil {
				o.session.StartURL = stored.StartURL
			}
			o.logger.Info("Restored actions from backup.", zap.Int("count", len(stored.Actions)))
		}
	}

	if len(o.session.Actions) == 0 {
		o.logger.Info("Nothing to upload.")
		o.reset(ctx)
		return &schemas.Reply{OK: false, Message: MsgNoActions}
	}

	rec := o.session.Recording()
	result, err := o.uploader.Upload(ctx, rec)
	if err != nil {
		o.logger.Error("Upload failed; backup retained.", zap.Error(err), zap.Int("actions", len(rec.Actions)))
		return &schemas.Reply{OK: false, Error: err.Error()}
	}

	o.logger.Info("Recording saved.", zap.String("name", result.Name), zap.Int("actions", len(rec.Actions)))
	o.reset(ctx)
	return &schemas.Reply{OK: true, Saved: result}
}

// reset clears the backup and the in-memory session.
func (o *Orchestrator) reset(ctx context.Context) {
	if err := o.backup.Clear(ctx); err != nil {
		o.logger.Warn("Failed to clear backup.", zap.Error(err))
	}
	o.session = schemas.Session{}
	o.logger = o.baseLogger
}

func (o *Orchestrator) persist(ctx context.Context) {
	if err := o.backup.Save(ctx, o.session); err != nil {
		o.logger.Warn("Failed to persist backup.", zap.Error(err))
	}
}

func (o *Orchestrator) snapshot() Snapshot {
	s := Snapshot{
		State:       o.state,
		SessionID:   o.session.ID,
		Actions:     append([]schemas.Action(nil), o.session.Actions...),
		Interrupted: o.state != StateRecording && o.session.Active,
	}
	if o.session.StartURL != nil {
		u := *o.session.StartURL
		s.StartURL = &u
	}
	return s
}

func isHTTPURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
