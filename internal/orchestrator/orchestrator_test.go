// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/recplay/api/schemas"
	"github.com/xkilldash9x/recplay/internal/backup"
	"github.com/xkilldash9x/recplay/internal/mocks"
)

var testNow = time.UnixMilli(1700000000000)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Test Harness --

type harness struct {
	o      *Orchestrator
	host   *mocks.MockHost
	up     *mocks.MockUploader
	store  *backup.MemoryStore
	cancel context.CancelFunc
}

// newHarness starts an orchestrator over store. Passing the same store to a
// second harness simulates a restart with the durable slot intact.
func newHarness(t *testing.T, store *backup.MemoryStore) *harness {
	t.Helper()
	h := &harness{
		host:  &mocks.MockHost{},
		up:    &mocks.MockUploader{},
		store: store,
	}
	o, err := New(zap.NewNop(), h.host, store, h.up, Options{
		Now:   func() time.Time { return testNow },
		NewID: func() string { return "session-test" },
	})
	require.NoError(t, err)
	h.o = o

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { _ = o.Run(ctx) }()
	t.Cleanup(h.close)
	return h
}

func (h *harness) close() {
	h.cancel()
	<-h.o.Done()
}

func (h *harness) snapshot(t *testing.T) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := h.o.Snapshot(ctx)
	require.NoError(t, err)
	return s
}

func (h *harness) start(t *testing.T) *schemas.Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := h.o.Start(ctx)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r
}

func (h *harness) stop(t *testing.T) *schemas.Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r, err := h.o.Stop(ctx)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r
}

// onHTTPPage wires the host for a recording that starts on url with a working observer.
func (h *harness) onHTTPPage(url string) {
	h.host.On("ActiveURL", mock.Anything).Return(url, nil)
	h.host.On("InjectObserver", mock.Anything, url).Return(nil)
	h.host.On("StopObserver", mock.Anything).Return(nil).Maybe()
}

func (h *harness) uploadSucceeds(name string) {
	h.up.On("Upload", mock.Anything, mock.Anything).Return(&schemas.SaveResult{OK: true, Name: name}, nil)
}

func clickAt(sel string, ms int64) schemas.Action {
	return schemas.NewClick(sel, time.UnixMilli(ms))
}

func kinds(actions []schemas.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.String()
	}
	return out
}

// -- Test Cases --

func TestNewRejectsNilDependencies(t *testing.T) {
	_, err := New(zap.NewNop(), nil, backup.NewMemoryStore(), &mocks.MockUploader{}, Options{})
	assert.Error(t, err)
}

func TestHappyPathRecording(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.onHTTPPage("https://example.com/")
	h.uploadSucceeds("recording-1.json")

	reply := h.start(t)
	assert.True(t, reply.OK)
	assert.Empty(t, reply.Message)

	require.NoError(t, h.o.Push(clickAt("css=#go", 1)))
	require.NoError(t, h.o.Push(schemas.NewType("css=input.name", "Ada", time.UnixMilli(2))))
	require.NoError(t, h.o.Push(schemas.NewNavigate("https://example.com/next", time.UnixMilli(3))))

	// STOP is queued behind the pushes and must observe all of them.
	reply = h.stop(t)
	require.True(t, reply.OK, reply.Error)
	require.NotNil(t, reply.Saved)
	assert.Equal(t, "recording-1.json", reply.Saved.Name)

	uploads := h.up.Uploads()
	require.Len(t, uploads, 1)
	rec := uploads[0]
	require.NotNil(t, rec.StartURL)
	assert.Equal(t, "https://example.com/", *rec.StartURL)
	assert.Equal(t, []string{
		"navigate https://example.com/",
		"click css=#go",
		`type css=input.name -> "Ada"`,
		"navigate https://example.com/next",
	}, kinds(rec.Actions))

	stored, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored.Actions, "successful upload clears the backup")

	snap := h.snapshot(t)
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.Actions)
	assert.False(t, snap.Interrupted)
	h.host.AssertCalled(t, "StopObserver", mock.Anything)
}

func TestStartOnHTTPPageRecordsInitialNavigation(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.onHTTPPage("https://example.com/")

	h.start(t)
	snap := h.snapshot(t)

	assert.Equal(t, StateRecording, snap.State)
	assert.Equal(t, "session-test", snap.SessionID)
	require.Len(t, snap.Actions, 1)
	assert.Equal(t, schemas.NewNavigate("https://example.com/", testNow), snap.Actions[0])
	require.NotNil(t, snap.StartURL)
	assert.Equal(t, "https://example.com/", *snap.StartURL)
	h.host.AssertCalled(t, "InjectObserver", mock.Anything, "https://example.com/")

	stored, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, stored.Active)
	assert.Len(t, stored.Actions, 1, "the initial navigation is persisted")
}

func TestNonHTTPStart(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.host.On("ActiveURL", mock.Anything).Return("about:blank", nil)
	h.host.On("StopObserver", mock.Anything).Return(nil)
	h.uploadSucceeds("recording-2.json")

	reply := h.start(t)
	assert.True(t, reply.OK)
	assert.Equal(t, MsgNoContentInjection, reply.Message)
	h.host.AssertNotCalled(t, "InjectObserver", mock.Anything, mock.Anything)

	h.o.Navigated(Navigation{URL: "https://ads.test/frame", MainFrame: false})
	h.o.Navigated(Navigation{URL: "https://a.test/", MainFrame: true})

	reply = h.stop(t)
	require.True(t, reply.OK, reply.Error)

	rec := h.up.Uploads()[0]
	require.NotNil(t, rec.StartURL)
	assert.Equal(t, "https://a.test/", *rec.StartURL)
	require.Len(t, rec.Actions, 1, "sub-frame navigations are ignored")
	assert.Equal(t, schemas.KindNavigate, rec.Actions[0].Action)
	assert.Equal(t, testNow.UnixMilli(), rec.Actions[0].Time)
}

func TestAppendPreservesOrder(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.onHTTPPage("https://example.com/")
	h.start(t)

	var want []schemas.Action
	want = append(want, schemas.NewNavigate("https://example.com/", testNow))
	for i := 0; i < 100; i++ {
		a := clickAt(fmt.Sprintf("css=#item-%d", i), int64(i))
		want = append(want, a)
		require.NoError(t, h.o.Push(a))
	}

	assert.Equal(t, want, h.snapshot(t).Actions)
}

func TestConcurrentProducersKeepPerSourceOrder(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.onHTTPPage("https://example.com/")
	h.start(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = h.o.Push(clickAt(fmt.Sprintf("css=#a-%d", i), int64(i)))
		}
	}()
	for i := 0; i < 50; i++ {
		h.o.Navigated(Navigation{URL: fmt.Sprintf("https://example.com/%d", i), MainFrame: true})
	}
	<-done

	var clicks, navs []string
	for _, a := range h.snapshot(t).Actions[1:] {
		if a.Action == schemas.KindClick {
			clicks = append(clicks, a.Selector)
		} else {
			navs = append(navs, a.URL)
		}
	}
	require.Len(t, clicks, 50)
	require.Len(t, navs, 50)
	for i := 0; i < 50; i++ {
		assert.Equal(t, fmt.Sprintf("css=#a-%d", i), clicks[i])
		assert.Equal(t, fmt.Sprintf("https://example.com/%d", i), navs[i])
	}
}

func TestTypeValueIsSanitized(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.onHTTPPage("https://example.com/")
	h.start(t)

	_, err := h.o.Dispatch(context.Background(), schemas.Message{
		Cmd:    schemas.CmdPushAction,
		Action: &schemas.Action{Action: schemas.KindType, Selector: "css=#q", Time: 5},
	})
	require.NoError(t, err)

	actions := h.snapshot(t).Actions
	require.Len(t, actions, 2)
	require.NotNil(t, actions[1].Value)
	assert.Equal(t, "", *actions[1].Value)

	stored, err := h.store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored.Actions[1].Value)
	assert.Equal(t, "", *stored.Actions[1].Value)
}

func TestInvalidActionsAreDropped(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.onHTTPPage("https://example.com/")
	h.start(t)

	require.NoError(t, h.o.Push(schemas.Action{Action: "hover", Selector: "css=#a"}))
	require.NoError(t, h.o.Push(schemas.Action{Action: schemas.KindClick}))

	assert.Len(t, h.snapshot(t).Actions, 1)
}

func TestFirstNavigationSetsStartURL(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.host.On("ActiveURL", mock.Anything).Return("chrome://newtab/", nil)
	h.start(t)

	require.NoError(t, h.o.Push(clickAt("css=#a", 1)))
	require.NoError(t, h.o.Push(schemas.NewNavigate("https://first.test/", time.UnixMilli(2))))
	require.NoError(t, h.o.Push(schemas.NewNavigate("https://second.test/", time.UnixMilli(3))))

	snap := h.snapshot(t)
	require.NotNil(t, snap.StartURL)
	assert.Equal(t, "https://first.test/", *snap.StartURL)
}

func TestIdleProtocolViolations(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())

	reply := h.stop(t)
	assert.False(t, reply.OK)
	assert.Equal(t, MsgNotRecording, reply.Error)

	require.NoError(t, h.o.Push(clickAt("css=#a", 1)))
	h.o.Navigated(Navigation{URL: "https://a.test/", MainFrame: true})

	snap := h.snapshot(t)
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.Actions)
	assert.Zero(t, h.store.Saves(), "violations must not touch the backup")
}

func TestStopWithNothingRecorded(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.host.On("ActiveURL", mock.Anything).Return("about:blank", nil)
	h.host.On("StopObserver", mock.Anything).Return(nil)
	h.start(t)

	reply := h.stop(t)
	assert.False(t, reply.OK)
	assert.Equal(t, MsgNoActions, reply.Message)
	h.up.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)

	reply = h.stop(t)
	assert.Equal(t, MsgNotRecording, reply.Error)
}

func TestInjectionFailureStillRecords(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.host.On("ActiveURL", mock.Anything).Return("https://example.com/", nil)
	h.host.On("InjectObserver", mock.Anything, "https://example.com/").Return(errors.New("target closed"))

	reply := h.start(t)
	assert.True(t, reply.OK)
	assert.Equal(t, MsgInjectionFailed, reply.Message)
	assert.Contains(t, reply.Error, "target closed")

	h.o.Navigated(Navigation{URL: "https://example.com/other", MainFrame: true})
	snap := h.snapshot(t)
	assert.Equal(t, StateRecording, snap.State)
	assert.Len(t, snap.Actions, 2)
}

func TestNoActivePage(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.host.On("ActiveURL", mock.Anything).Return("", errors.New("no targets"))

	reply := h.start(t)
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, "no active tab")

	h.o.Navigated(Navigation{URL: "https://late.test/", MainFrame: true})
	assert.Len(t, h.snapshot(t).Actions, 1, "navigation capture continues")
}

func TestRestartMidSession(t *testing.T) {
	store := backup.NewMemoryStore()

	first := newHarness(t, store)
	first.onHTTPPage("https://example.com/")
	first.start(t)
	require.NoError(t, first.o.Push(clickAt("css=#go", 1)))
	require.NoError(t, first.o.Push(schemas.NewType("css=input.name", "Ada", time.UnixMilli(2))))
	first.snapshot(t)
	first.close()

	second := newHarness(t, store)
	second.uploadSucceeds("recording-3.json")

	snap := second.snapshot(t)
	assert.Equal(t, StateIdle, snap.State, "recording is never resumed after a restart")
	assert.True(t, snap.Interrupted)

	// Appends after the restart are not captured.
	require.NoError(t, second.o.Push(clickAt("css=#late", 3)))

	reply := second.stop(t)
	require.True(t, reply.OK, reply.Error)
	assert.Equal(t, "recording-3.json", reply.Saved.Name)

	rec := second.up.Uploads()[0]
	require.NotNil(t, rec.StartURL)
	assert.Equal(t, "https://example.com/", *rec.StartURL)
	assert.Equal(t, []string{
		"navigate https://example.com/",
		"click css=#go",
		`type css=input.name -> "Ada"`,
	}, kinds(rec.Actions))
	second.host.AssertNotCalled(t, "StopObserver", mock.Anything)
}

func TestStopReloadsEmptyBufferFromBackup(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.host.On("ActiveURL", mock.Anything).Return("about:blank", nil)
	h.host.On("StopObserver", mock.Anything).Return(nil)
	h.uploadSucceeds("recording-4.json")
	h.start(t)
	h.snapshot(t)

	// The slot holds actions the in-memory buffer never saw.
	start := "https://example.com/"
	require.NoError(t, h.store.Save(context.Background(), schemas.Session{
		ID:       "session-test",
		StartURL: &start,
		Active:   true,
		Actions:  []schemas.Action{schemas.NewNavigate(start, testNow), clickAt("css=#a", 1)},
	}))

	reply := h.stop(t)
	require.True(t, reply.OK, reply.Error)
	rec := h.up.Uploads()[0]
	assert.Len(t, rec.Actions, 2)
	require.NotNil(t, rec.StartURL)
	assert.Equal(t, start, *rec.StartURL)
}

func TestUploadFailureRetainsBackup(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.onHTTPPage("https://example.com/")
	h.up.On("Upload", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused")).Once()

	h.start(t)
	require.NoError(t, h.o.Push(clickAt("css=#go", 1)))
	require.NoError(t, h.o.Push(schemas.NewType("css=#q", "x", time.UnixMilli(2))))
	before := h.snapshot(t).Actions

	reply := h.stop(t)
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, "connection refused")

	stored, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, stored.Actions, "backup must equal the pre-stop buffer")
	assert.True(t, stored.Active)

	snap := h.snapshot(t)
	assert.Equal(t, StateIdle, snap.State)
	assert.True(t, snap.Interrupted)

	// A retry commits the retained session.
	h.uploadSucceeds("recording-5.json")
	reply = h.stop(t)
	require.True(t, reply.OK, reply.Error)
	assert.Equal(t, before, h.up.Uploads()[1].Actions)
}

func TestStartOverwritesRetainedBackup(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.onHTTPPage("https://example.com/")
	h.up.On("Upload", mock.Anything, mock.Anything).Return(nil, errors.New("server down"))

	h.start(t)
	require.NoError(t, h.o.Push(clickAt("css=#go", 1)))
	h.stop(t)

	h.start(t)
	stored, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"navigate https://example.com/"}, kinds(stored.Actions))
}

func TestRestartWhileRecordingDetachesObserver(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())
	h.host.On("ActiveURL", mock.Anything).Return("https://example.com/", nil).Once()
	h.host.On("ActiveURL", mock.Anything).Return("about:blank", nil).Once()
	h.host.On("InjectObserver", mock.Anything, "https://example.com/").Return(nil).Once()
	h.host.On("StopObserver", mock.Anything).Return(errors.New("target closed")).Once()

	h.start(t)
	require.NoError(t, h.o.Push(clickAt("css=#go", 1)))

	reply := h.start(t)
	assert.True(t, reply.OK)
	assert.Equal(t, MsgNoContentInjection, reply.Message)
	h.host.AssertNumberOfCalls(t, "StopObserver", 1)
	h.host.AssertNumberOfCalls(t, "InjectObserver", 1)

	snap := h.snapshot(t)
	assert.Equal(t, StateRecording, snap.State)
	assert.Empty(t, snap.Actions, "the discarded session leaves nothing behind")
	assert.Nil(t, snap.StartURL)
}

func TestDispatchErrors(t *testing.T) {
	h := newHarness(t, backup.NewMemoryStore())

	_, err := h.o.Dispatch(context.Background(), schemas.Message{Cmd: "PAUSE"})
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = h.o.Dispatch(context.Background(), schemas.Message{Cmd: schemas.CmdPushAction})
	assert.Error(t, err)

	h.close()
	_, err = h.o.Start(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.o.Push(clickAt("css=#a", 1)), ErrClosed)
	assert.ErrorIs(t, h.o.Run(context.Background()), ErrAlreadyRunning)
}

func TestBackupFailuresAreNotFatal(t *testing.T) {
	host := &mocks.MockHost{}
	host.On("ActiveURL", mock.Anything).Return("https://example.com/", nil)
	host.On("InjectObserver", mock.Anything, mock.Anything).Return(nil)
	store := &mocks.MockBackup{}
	store.On("Load", mock.Anything).Return(schemas.Session{}, errors.New("corrupt"))
	store.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	o, err := New(zap.NewNop(), host, store, &mocks.MockUploader{}, Options{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = o.Run(ctx) }()
	defer func() {
		cancel()
		<-o.Done()
	}()

	reply, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, reply.OK)

	snap, err := o.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Actions, 1, "in-memory state survives persistence failures")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "recording", StateRecording.String())
	assert.Equal(t, "uploading", StateUploading.String())
	assert.Equal(t, "State(9)", State(9).String())
}
