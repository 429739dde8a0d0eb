package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kgraph/cli/internal/graphapi"
	"github.com/kgraph/cli/internal/poller"
	"github.com/kgraph/cli/internal/session"
	"github.com/kgraph/cli/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// StatusService is the subset of the backend client the status command uses.
type StatusService interface {
	poller.StatusFetcher
	GraphLinker
}

type StatusCmd struct {
	svc StatusService
}

type StatusInput struct {
	FileID string
	Output string
	// Raw prints the backend response body untouched.
	Raw bool
}

type statusReport struct {
	FileID            string `json:"file_id"`
	Status            string `json:"status"`
	NodeCount         int    `json:"node_count,omitempty"`
	RelationshipCount int    `json:"relationship_count,omitempty"`
	GraphURL          string `json:"graph_url,omitempty"`
	Error             string `json:"error,omitempty"`
}

const (
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusError      = "error"
)

// Status runs a single "check now" query for a file.
func (c StatusCmd) Status(ctx context.Context, in StatusInput) error {
	if in.Raw {
		resp, err := c.svc.FetchStatus(ctx, in.FileID)
		if err != nil && !errors.Is(err, graphapi.ErrNotReady) {
			return util.CleanedUpError{Err: err}
		}
		return util.PrintPrettyJSON(resp)
	}

	report := statusReport{FileID: in.FileID}

	result, err := poller.Check(ctx, c.svc, in.FileID)
	switch {
	case err == nil:
		report.Status = statusCompleted
		report.NodeCount = result.NodeCount
		report.RelationshipCount = result.RelationshipCount
		report.GraphURL = c.svc.GraphURL(in.FileID)
	case errors.Is(err, graphapi.ErrNotReady):
		report.Status = statusProcessing
	case errors.Is(err, graphapi.ErrBackendReported):
		report.Status = statusError
		report.Error = session.UserMessage(err)
	default:
		if in.Output != "json" {
			pterm.Error.Println(session.UserMessage(err))
		}
		return util.CleanedUpError{Err: err}
	}

	if in.Output == "json" {
		return util.PrintJSON(report)
	}
	printStatus(report)
	return nil
}

var statusDisplay = map[string]struct {
	label string
	rgb   pterm.RGB
}{
	statusCompleted:  {label: "Graph ready", rgb: pterm.NewRGB(31, 163, 130)},
	statusProcessing: {label: "Processing", rgb: pterm.NewRGB(245, 158, 11)},
	statusError:      {label: "Failed", rgb: pterm.NewRGB(239, 68, 68)},
}

func getStatusDisplay(status string) (string, pterm.RGB) {
	if d, ok := statusDisplay[status]; ok {
		return d.label, d.rgb
	}
	return "Unknown", pterm.NewRGB(128, 128, 128)
}

func coloredDot(rgb pterm.RGB) string {
	return rgb.Sprint("●")
}

func printStatus(r statusReport) {
	label, rgb := getStatusDisplay(r.Status)
	pterm.Println()
	pterm.Printf("  %s %s  %s\n", coloredDot(rgb), pterm.Bold.Sprint(r.FileID), label)
	switch r.Status {
	case statusCompleted:
		pterm.Printf("    %-15s %d\n", "Nodes", r.NodeCount)
		pterm.Printf("    %-15s %d\n", "Relationships", r.RelationshipCount)
		pterm.Printf("    %-15s %s\n", "Graph", r.GraphURL)
	case statusProcessing:
		pterm.Println("    " + session.MsgGraphNotReady)
	case statusError:
		pterm.Println("    " + r.Error)
	}
	pterm.Println()
}

var statusCmd = &cobra.Command{
	Use:   "status <file-id>",
	Short: "Check whether the graph of an uploaded file is ready",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	addOutputFlag(statusCmd.Flags())
	statusCmd.Flags().Bool("raw", false, "Print the backend response as received")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	output, err := getOutput(cmd)
	if err != nil {
		return err
	}
	raw, _ := cmd.Flags().GetBool("raw")
	c := StatusCmd{svc: getClient()}
	if err := c.Status(cmd.Context(), StatusInput{FileID: args[0], Output: output, Raw: raw}); err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}
	return nil
}
