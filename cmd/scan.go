package cmd

import (
	"context"
	"fmt"

	"github.com/kgraph/cli/internal/filetype"
	"github.com/kgraph/cli/internal/settings"
	"github.com/kgraph/cli/pkg/util"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type ScanCmd struct {
	settings settings.Settings
}

type ScanInput struct {
	Dir             string
	IncludeHidden   bool
	IncludeDefaults bool
	Exclude         []string
	Output          string
}

type scanEntry struct {
	Path        string `json:"path"`
	Category    string `json:"category"`
	Description string `json:"description"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	TooLarge    bool   `json:"too_large,omitempty"`
}

// Scan lists the files under a directory that can be uploaded.
func (c ScanCmd) Scan(ctx context.Context, in ScanInput) error {
	limits, err := c.settings.Limits()
	if err != nil {
		return err
	}
	entries, err := filetype.Scan(in.Dir, filetype.ScanOptions{
		Limits:          limits,
		IncludeHidden:   in.IncludeHidden,
		IncludeDefaults: in.IncludeDefaults,
		Exclude:         in.Exclude,
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", in.Dir, err)
	}

	if in.Output == "json" {
		return util.PrintJSON(lo.Map(entries, func(e filetype.Entry, _ int) scanEntry {
			return scanEntry{
				Path:        e.Path,
				Category:    e.Category.String(),
				Description: e.Description,
				ContentType: e.ContentType,
				Size:        e.Size,
				TooLarge:    e.TooLarge,
			}
		}))
	}

	if len(entries) == 0 {
		pterm.Info.Println("No supported files found")
		return nil
	}

	rows := pterm.TableData{{"Path", "Type", "Size", "Status"}}
	for _, e := range entries {
		status := "ok"
		if e.TooLarge {
			status = "too large"
		}
		rows = append(rows, []string{e.Path, e.Description, util.FormatBytes(e.Size), status})
	}
	PrintTableNoPad(rows, true)

	tooLarge := lo.CountBy(entries, func(e filetype.Entry) bool { return e.TooLarge })
	pterm.Info.Printf("%d supported files, %d over the size limit\n", len(entries), tooLarge)
	return nil
}

var scanCmd = &cobra.Command{
	Use:   "scan [dir]",
	Short: "List the files in a directory that can be turned into graphs",
	Long: `List the documents and source files in a directory tree that kg can upload.

.gitignore and .ignore files are honoured. Dependency and build directories
(node_modules, vendor, dist, ...) and minified or generated files are skipped
unless --no-default-excludes is given. --exclude adds globs of your own.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Bool("hidden", false, "Include hidden files and directories")
	scanCmd.Flags().Bool("no-default-excludes", false, "Do not skip dependency and build directories")
	scanCmd.Flags().StringSlice("exclude", nil, "Glob of paths to skip, e.g. 'docs/**' or '**/*_test.go' (repeatable)")
	addOutputFlag(scanCmd.Flags())
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	output, err := getOutput(cmd)
	if err != nil {
		return err
	}
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	hidden, _ := cmd.Flags().GetBool("hidden")
	noDefaults, _ := cmd.Flags().GetBool("no-default-excludes")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")

	c := ScanCmd{settings: loadSettings()}
	return c.Scan(cmd.Context(), ScanInput{
		Dir:             dir,
		IncludeHidden:   hidden,
		IncludeDefaults: noDefaults,
		Exclude:         exclude,
		Output:          output,
	})
}
