package cmd

import (
	"context"
	"fmt"

	"github.com/kgraph/cli/internal/messaging"
	"github.com/pkg/browser"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// browserOpener opens URLs with the system browser.
type browserOpener struct{}

func (browserOpener) Open(url string) error { return browser.OpenURL(url) }

// GraphLinker builds viewer links for processed files.
type GraphLinker interface {
	GraphURL(fileID string) string
}

type OpenCmd struct {
	links  GraphLinker
	opener messaging.Opener
}

type OpenInput struct {
	FileID    string
	PrintOnly bool
}

// Open opens the viewer page of a file, or just prints it.
func (c OpenCmd) Open(ctx context.Context, in OpenInput) error {
	link := c.links.GraphURL(in.FileID)
	if in.PrintOnly {
		fmt.Println(link)
		return nil
	}
	pterm.Info.Printf("Opening %s\n", link)
	if err := c.opener.Open(link); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}

var openCmd = &cobra.Command{
	Use:   "open <file-id>",
	Short: "Open the graph of a processed file in the browser",
	Args:  cobra.ExactArgs(1),
	RunE:  runOpen,
}

func init() {
	openCmd.Flags().Bool("print", false, "Print the graph URL instead of opening it")
	rootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	printOnly, _ := cmd.Flags().GetBool("print")
	c := OpenCmd{links: getClient(), opener: browserOpener{}}
	return c.Open(cmd.Context(), OpenInput{FileID: args[0], PrintOnly: printOnly})
}
