package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kgraph/cli/internal/filetype"
	"github.com/kgraph/cli/internal/messaging"
	"github.com/kgraph/cli/internal/poller"
	"github.com/kgraph/cli/internal/session"
	"github.com/kgraph/cli/internal/settings"
	"github.com/kgraph/cli/internal/view"
	"github.com/kgraph/cli/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// UploadService is the subset of the backend client the upload command uses.
type UploadService interface {
	session.Transport
	Download(ctx context.Context, link string, maxBytes int64) ([]byte, string, error)
}

// UploadCmd runs the upload pipeline for one file.
type UploadCmd struct {
	svc      UploadService
	opener   messaging.Opener
	settings settings.Settings
	logger   *pterm.Logger
	// renderer replaces the terminal progress bar when set.
	renderer view.Renderer
	clock    poller.Clock
}

type UploadInput struct {
	// Source is a local path or an http(s) URL.
	Source string
	NoWait bool
	Open   bool
	Output string
}

type uploadReport struct {
	FileID            string `json:"file_id,omitempty"`
	FileName          string `json:"file_name"`
	Phase             string `json:"phase"`
	GraphURL          string `json:"graph_url,omitempty"`
	NodeCount         int    `json:"node_count"`
	RelationshipCount int    `json:"relationship_count"`
	Attempts          int    `json:"attempts"`
	Message           string `json:"message,omitempty"`
}

// phaseUploaded reports a --no-wait run that stopped after the transfer.
const phaseUploaded = "uploaded"

// Upload validates the source, uploads it and waits for the graph.
func (c UploadCmd) Upload(ctx context.Context, in UploadInput) error {
	jsonOutput := in.Output == "json"
	limits, err := c.settings.Limits()
	if err != nil {
		return err
	}
	pollCfg, err := c.settings.PollConfig()
	if err != nil {
		return err
	}
	if c.clock != nil {
		pollCfg.Clock = c.clock
	}

	file, err := c.load(ctx, in.Source, limits)
	if err != nil {
		var verr *filetype.ValidationError
		if errors.As(err, &verr) {
			if !jsonOutput {
				pterm.Error.Println(verr.Error())
			}
			return verr
		}
		return util.CleanedUpError{Err: err}
	}
	if !jsonOutput {
		pterm.Info.Printf("Uploading %s (%s, %s)\n", file.Name, filetype.Describe(file.Name), util.FormatBytes(int64(len(file.Data))))
	}

	renderer := c.renderer
	var bar *progressRenderer
	if renderer == nil {
		if jsonOutput {
			renderer = view.RendererFunc(func(view.Snapshot) {})
		} else {
			bar = &progressRenderer{}
			renderer = bar
		}
	}
	machine := view.New(renderer, c.logger)

	var listener session.Listener = machine
	runCtx := ctx
	if in.NoWait {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		listener = stopAfterUpload{Listener: machine, cancel: cancel}
	}

	orch := session.New(c.svc, session.Options{Poll: pollCfg, Listener: listener, Logger: c.logger})
	out, runErr := orch.Start(runCtx, file)
	if bar != nil {
		bar.stop()
	}

	report := uploadReport{
		FileID:            out.Session.FileID,
		FileName:          file.Name,
		Phase:             out.Phase.String(),
		NodeCount:         out.Result.NodeCount,
		RelationshipCount: out.Result.RelationshipCount,
		Attempts:          out.Attempts,
	}
	if out.Session.FileID != "" {
		report.GraphURL = c.svc.GraphURL(out.Session.FileID)
	}

	switch {
	case runErr != nil:
		report.Message = session.UserMessage(runErr)
		if jsonOutput {
			_ = util.PrintJSON(report)
		} else {
			pterm.Error.Println(report.Message)
		}
		return util.CleanedUpError{Err: runErr}

	case out.Phase == poller.Cancelled && in.NoWait && ctx.Err() == nil:
		report.Phase = phaseUploaded
		if jsonOutput {
			return util.PrintJSON(report)
		}
		pterm.Success.Println("File uploaded. Processing continues in the background.")
		pterm.Info.Printf("Check on it with: kg status %s\n", report.FileID)
		return nil

	case out.Phase == poller.Cancelled:
		if !jsonOutput {
			pterm.Warning.Println("Upload cancelled")
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.Canceled

	case out.Phase == poller.TimedOut:
		report.Message = session.MsgManualCheck
		if jsonOutput {
			return util.PrintJSON(report)
		}
		pterm.Warning.Println(session.MsgManualCheck)
		pterm.Info.Printf("Check again with: kg status %s\n", report.FileID)
		pterm.Info.Printf("Graph: %s\n", report.GraphURL)
		return nil
	}

	if jsonOutput {
		if err := util.PrintJSON(report); err != nil {
			return err
		}
	} else {
		pterm.Println(card("Graph generated successfully", [][2]string{
			{"File", file.Name},
			{"File ID", report.FileID},
			{"Nodes", fmt.Sprintf("%d", report.NodeCount)},
			{"Relationships", fmt.Sprintf("%d", report.RelationshipCount)},
			{"Graph", report.GraphURL},
		}))
	}

	if in.Open || c.settings.AutoOpenGraph {
		if err := c.opener.Open(report.GraphURL); err != nil {
			pterm.Warning.Printf("Could not open the browser: %v\n", err)
		}
	}
	return nil
}

func (c UploadCmd) load(ctx context.Context, source string, limits filetype.Limits) (session.File, error) {
	if isRemote(source) {
		name := messaging.NameFromURL(source)
		category := filetype.Classify(name)
		if category == filetype.Unsupported {
			return session.File{}, &filetype.ValidationError{Err: filetype.ErrUnsupportedType, Name: name}
		}
		data, serverType, err := c.svc.Download(ctx, source, limits.For(category))
		if err != nil {
			return session.File{}, fmt.Errorf("failed to download %s: %w", source, err)
		}
		contentType := filetype.ContentType(name)
		if contentType == "application/octet-stream" && serverType != "" {
			contentType = serverType
		}
		return session.File{Name: name, ContentType: contentType, Data: data}, nil
	}

	stat, err := os.Stat(source)
	if err != nil {
		return session.File{}, err
	}
	if stat.IsDir() {
		return session.File{}, fmt.Errorf("%s is a directory; use kg scan to list the files it contains", source)
	}
	info, err := filetype.Validate(filepath.Base(source), stat.Size(), limits)
	if err != nil {
		return session.File{}, err
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return session.File{}, err
	}
	return session.File{Name: info.Name, ContentType: info.ContentType, Data: data}, nil
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// stopAfterUpload cancels the run once the file has been transferred.
type stopAfterUpload struct {
	session.Listener
	cancel context.CancelFunc
}

func (l stopAfterUpload) OnStep(percent int, message string) {
	l.Listener.OnStep(percent, message)
	if percent >= 70 {
		l.cancel()
	}
}

// progressRenderer draws the view as a terminal progress bar.
type progressRenderer struct {
	mu  sync.Mutex
	bar *pterm.ProgressbarPrinter
}

func (r *progressRenderer) Render(s view.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.State != view.Processing || s.ManualCheck {
		r.stopLocked()
		return
	}
	if r.bar == nil {
		bar, err := pterm.DefaultProgressbar.
			WithTotal(100).
			WithTitle(s.Status).
			WithRemoveWhenDone(true).
			Start()
		if err != nil {
			return
		}
		r.bar = bar
	}
	if s.Message != "" {
		r.bar.UpdateTitle(s.Message)
	}
	if delta := s.Percent - r.bar.Current; delta > 0 {
		r.bar.Add(delta)
	}
}

func (r *progressRenderer) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *progressRenderer) stopLocked() {
	if r.bar == nil {
		return
	}
	_, _ = r.bar.Stop()
	r.bar = nil
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file|url>",
	Short: "Upload a document or source file and wait for its knowledge graph",
	Long: `Upload a document or source file and wait for its knowledge graph.

Documents (.pdf, .doc, .docx, .txt, .rtf, .md) may be up to 25MB and source files
up to 10MB; both limits can be changed with "kg settings set". The backend is
polled every 30 seconds for up to 15 minutes. If processing takes longer, the
file keeps processing and "kg status <file-id>" checks on it later.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().Bool("no-wait", false, "Return once the file is uploaded instead of waiting for the graph")
	uploadCmd.Flags().Bool("open", false, "Open the graph in the browser when it is ready")
	addOutputFlag(uploadCmd.Flags())
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	output, err := getOutput(cmd)
	if err != nil {
		return err
	}
	noWait, _ := cmd.Flags().GetBool("no-wait")
	open, _ := cmd.Flags().GetBool("open")

	c := UploadCmd{
		svc:      getClient(),
		opener:   browserOpener{},
		settings: loadSettings(),
		logger:   env.logger,
	}
	return c.Upload(cmd.Context(), UploadInput{
		Source: args[0],
		NoWait: noWait,
		Open:   open,
		Output: output,
	})
}
