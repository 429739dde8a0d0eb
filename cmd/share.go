package cmd

import (
	"context"
	"fmt"

	"github.com/kgraph/cli/internal/messaging"
	"github.com/kgraph/cli/internal/session"
	"github.com/kgraph/cli/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// ShareService is the subset of the backend client the share command uses.
type ShareService interface {
	CreateShareLink(ctx context.Context, fileID string) (string, error)
}

type ShareCmd struct {
	svc    ShareService
	opener messaging.Opener
}

type ShareInput struct {
	FileID string
	Open   bool
	Output string
}

// Share creates a public link to the graph of a file.
func (c ShareCmd) Share(ctx context.Context, in ShareInput) error {
	link, err := c.svc.CreateShareLink(ctx, in.FileID)
	if err != nil {
		if in.Output != "json" {
			pterm.Error.Println(session.UserMessage(err))
		}
		return util.CleanedUpError{Err: fmt.Errorf("failed to share graph: %w", err)}
	}

	if in.Output == "json" {
		return util.PrintJSON(map[string]string{"file_id": in.FileID, "share_url": link})
	}
	pterm.Success.Println("Share link created")
	fmt.Println(link)
	if in.Open {
		if err := c.opener.Open(link); err != nil {
			pterm.Warning.Printf("Could not open the browser: %v\n", err)
		}
	}
	return nil
}

var shareCmd = &cobra.Command{
	Use:   "share <file-id>",
	Short: "Create a shareable link to the graph of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runShare,
}

func init() {
	shareCmd.Flags().Bool("open", false, "Open the share link in the browser")
	addOutputFlag(shareCmd.Flags())
	rootCmd.AddCommand(shareCmd)
}

func runShare(cmd *cobra.Command, args []string) error {
	output, err := getOutput(cmd)
	if err != nil {
		return err
	}
	open, _ := cmd.Flags().GetBool("open")
	c := ShareCmd{svc: getClient(), opener: browserOpener{}}
	return c.Share(cmd.Context(), ShareInput{FileID: args[0], Open: open, Output: output})
}
