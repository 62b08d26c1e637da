// File: cmd/record.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/recplay/api/schemas"
	"github.com/xkilldash9x/recplay/internal/backup"
	"github.com/xkilldash9x/recplay/internal/browser"
	"github.com/xkilldash9x/recplay/internal/browser/shim"
	"github.com/xkilldash9x/recplay/internal/config"
	"github.com/xkilldash9x/recplay/internal/observability"
	"github.com/xkilldash9x/recplay/internal/observer"
	"github.com/xkilldash9x/recplay/internal/orchestrator"
	"github.com/xkilldash9x/recplay/internal/upload"
)

const shellHelp = `commands:
  start   begin recording the browser tab
  stop    stop and upload the recording
  status  show the recorder state
  quit    exit (an unfinished recording stays in the local backup)`

// recorder is the control surface the shell drives.
type recorder interface {
	Start(ctx context.Context) (*schemas.Reply, error)
	Stop(ctx context.Context) (*schemas.Reply, error)
	Snapshot(ctx context.Context) (orchestrator.Snapshot, error)
}

func newRecordCmd() *cobra.Command {
	var (
		serverURL string
		startURL  string
		headless  bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Open a browser and record interactions from an interactive shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("server") {
				cfg.SetRecorderServerURL(serverURL)
			}
			if cmd.Flags().Changed("url") {
				cfg.SetBrowserStartURL(startURL)
			}
			if cmd.Flags().Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}
			return runRecord(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout(), observability.GetLogger())
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "storage service base URL (overrides recorder.server_url)")
	cmd.Flags().StringVar(&startURL, "url", "", "page to open when the browser starts")
	cmd.Flags().BoolVar(&headless, "headless", false, "run the browser without a window")
	return cmd
}

// runRecord wires the browser, observer, orchestrator, backup and upload client
// and hands control to the shell.
func runRecord(ctx context.Context, cfg config.Interface, in io.Reader, out io.Writer, logger *zap.Logger) error {
	rc := cfg.Recorder()

	store, err := backup.NewFileStore(rc.BackupFile, logger)
	if err != nil {
		return err
	}
	client, err := upload.New(rc.ServerURL, rc.UploadTimeout, logger)
	if err != nil {
		return err
	}

	b, err := browser.Launch(ctx, cfg.Browser(), logger)
	if err != nil {
		return err
	}
	defer b.Close()

	var orch *orchestrator.Orchestrator
	obs := observer.New(observer.SinkFunc(func(a schemas.Action) error {
		return orch.Push(a)
	}), logger, observer.Options{Debounce: cfg.Observer().Debounce})

	host, err := browser.NewHost(b.TabContext(), obs, shim.ProbeConfig{
		PollIntervalMs: cfg.Observer().PollInterval.Milliseconds(),
	}, logger)
	if err != nil {
		return err
	}
	host.SetOpTimeout(rc.StopTimeout)

	orch, err = orchestrator.New(logger, host, store, client, orchestrator.Options{})
	if err != nil {
		return err
	}
	host.Listen(func(url string, mainFrame bool) {
		orch.Navigated(orchestrator.Navigation{URL: url, MainFrame: mainFrame})
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := orch.Run(runCtx); err != nil {
			logger.Error("Orchestrator stopped with error.", zap.Error(err))
		}
	}()
	defer func() {
		cancel()
		<-orch.Done()
		obs.Detach()
	}()

	shellCtx, stopShell := context.WithCancel(runCtx)
	defer stopShell()
	go func() {
		select {
		case <-b.Done():
			logger.Warn("Browser closed.")
			stopShell()
		case <-shellCtx.Done():
		}
	}()

	if err := client.Ping(ctx); err != nil {
		fmt.Fprintf(out, "warning: storage service unreachable at %s: %v\n", rc.ServerURL, err)
	}
	fmt.Fprintf(out, "backup: %s\n%s\n", store.Path(), shellHelp)

	return runShell(shellCtx, in, out, orch, rc.UploadTimeout+2*rc.StopTimeout)
}

// runShell reads commands from in until quit, EOF or ctx cancellation.
func runShell(ctx context.Context, in io.Reader, out io.Writer, rec recorder, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.ToLower(strings.TrimSpace(l))
		}

		switch line {
		case "":
			continue
		case "quit", "exit":
			warnUnfinished(ctx, out, rec)
			return nil
		case "help", "?":
			fmt.Fprintln(out, shellHelp)
		case "start", "stop", "status":
			if err := shellCommand(ctx, out, rec, line, timeout); err != nil {
				return err
			}
		default:
			fmt.Fprintf(out, "error: unknown command %q\n", line)
		}
	}
}

func shellCommand(ctx context.Context, out io.Writer, rec recorder, line string, timeout time.Duration) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		reply *schemas.Reply
		err   error
	)
	switch line {
	case "start":
		reply, err = rec.Start(opCtx)
	case "stop":
		reply, err = rec.Stop(opCtx)
	case "status":
		snap, serr := rec.Snapshot(opCtx)
		if serr != nil {
			err = serr
			break
		}
		fmt.Fprintln(out, formatSnapshot(snap))
		return nil
	}

	if errors.Is(err, orchestrator.ErrClosed) {
		return err
	}
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return nil
	}
	fmt.Fprintln(out, formatReply(line, reply))
	return nil
}

func warnUnfinished(ctx context.Context, out io.Writer, rec recorder) {
	snapCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	snap, err := rec.Snapshot(snapCtx)
	if err != nil {
		return
	}
	if snap.State == orchestrator.StateRecording || snap.Interrupted {
		fmt.Fprintf(out, "note: %d unsaved actions remain in the backup; run record and stop to upload them\n", len(snap.Actions))
	}
}

// formatReply renders an orchestrator reply as a one-line status.
func formatReply(command string, r *schemas.Reply) string {
	if r == nil {
		return "error: no reply"
	}
	switch command {
	case "start":
		if !r.OK {
			return "error: " + r.Error
		}
		if r.Message != "" {
			return fmt.Sprintf("recording (%s)", r.Message)
		}
		return "recording"
	default:
		switch {
		case r.OK && r.Saved != nil:
			return "uploaded: " + r.Saved.Name
		case r.Error == orchestrator.MsgNotRecording:
			return "error: " + r.Error
		case r.Message != "":
			return "not saved: " + r.Message
		default:
			return "not saved: " + r.Error
		}
	}
}

func formatSnapshot(s orchestrator.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "state: %s, actions: %d", s.State, len(s.Actions))
	if s.StartURL != nil {
		fmt.Fprintf(&sb, ", start: %s", *s.StartURL)
	}
	if s.Interrupted {
		sb.WriteString(", interrupted session pending (stop to upload)")
	}
	return sb.String()
}
