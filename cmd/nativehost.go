package cmd

import (
	"context"
	"io"
	"os"

	"github.com/kgraph/cli/internal/messaging"
	"github.com/kgraph/cli/internal/poller"
	"github.com/kgraph/cli/internal/session"
	"github.com/kgraph/cli/internal/view"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// NativeHostService is the subset of the backend client the native host uses.
type NativeHostService interface {
	session.Transport
	messaging.Downloader
}

type NativeHostCmd struct {
	svc      NativeHostService
	settings messaging.SettingsStore
	opener   messaging.Opener
	in       io.Reader
	out      io.Writer
	logger   *pterm.Logger
	// clock overrides the poll clock in tests.
	clock poller.Clock
}

// Serve answers extension messages until stdin closes. Every view change of
// the current upload is pushed to the extension as a state event. Closing
// stdin cancels the running upload and any download still in flight.
func (c NativeHostCmd) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	current, err := c.settings.Load()
	if err != nil {
		return err
	}
	pollCfg, err := current.PollConfig()
	if err != nil {
		return err
	}
	if c.clock != nil {
		pollCfg.Clock = c.clock
	}

	var host *messaging.Host
	machine := view.New(view.RendererFunc(func(s view.Snapshot) { host.Render(s) }), c.logger)
	orch := session.New(c.svc, session.Options{Poll: pollCfg, Listener: machine, Logger: c.logger})
	dispatcher := messaging.NewDispatcher(messaging.DispatcherOptions{
		Settings:   c.settings,
		Opener:     c.opener,
		Uploader:   orch,
		Downloader: c.svc,
		Session:    orch,
		View:       machine,
		OnFailure: func(err error) {
			msg := session.UserMessage(err)
			if machine.Reject(msg) != nil {
				// Another upload owns the view.
				_ = host.Send(messaging.NewErrorEvent(msg))
			}
		},
		Logger: c.logger,
	})
	host = messaging.NewHost(c.in, c.out, dispatcher, c.logger)

	stop := onCancel(ctx, orch.Reset)
	defer stop()

	c.logger.Debug("native host started")
	err = host.Serve(ctx)
	cancel()
	orch.Reset()
	dispatcher.Wait()
	c.logger.Debug("native host stopped", c.logger.Args("error", err))
	return err
}

var nativeHostCmd = &cobra.Command{
	Use:   "native-host [origin]",
	Short: "Serve the browser extension over native messaging",
	Long: `Serve the browser extension over native messaging.

The browser starts this command itself and talks to it on stdin and stdout
using length-prefixed JSON messages. Diagnostics go to stderr.
Register it with "kg extension install".`,
	Args:   cobra.ArbitraryArgs,
	Hidden: true,
	RunE:   runNativeHost,
}

func init() {
	// Chrome on Windows appends --parent-window=<handle>.
	nativeHostCmd.FParseErrWhitelist.UnknownFlags = true
	rootCmd.AddCommand(nativeHostCmd)
}

func runNativeHost(cmd *cobra.Command, args []string) error {
	// stdout carries the message stream; keep every log line off it.
	env.logger = env.logger.WithWriter(os.Stderr)
	logger := env.logger
	if len(args) > 0 {
		logger.Debug("native host launched", logger.Args("origin", args[0]))
	}
	c := NativeHostCmd{
		svc:      getClient(),
		settings: env.store,
		opener:   browserOpener{},
		in:       os.Stdin,
		out:      os.Stdout,
		logger:   logger,
	}
	return c.Serve(cmd.Context())
}
