package cmd

import (
	"context"
	"fmt"

	"github.com/kgraph/cli/internal/settings"
	"github.com/kgraph/cli/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// SettingsStore is the subset of settings.Store the settings commands use.
type SettingsStore interface {
	Load() (settings.Settings, error)
	Update(fn func(*settings.Settings) error) (settings.Settings, error)
	Reset() (settings.Settings, error)
	Path() string
}

type SettingsCmd struct {
	store SettingsStore
}

type SettingsGetInput struct {
	Key    string
	Output string
}

// Get prints one setting, or the whole record when no key is given.
func (c SettingsCmd) Get(ctx context.Context, in SettingsGetInput) error {
	s, err := c.store.Load()
	if err != nil {
		return err
	}
	if in.Key != "" {
		value, err := s.Get(in.Key)
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	}
	if in.Output == "json" {
		return util.PrintJSON(s)
	}
	printSettings(s, c.store.Path())
	return nil
}

type SettingsSetInput struct {
	Key   string
	Value string
}

func (c SettingsCmd) Set(ctx context.Context, in SettingsSetInput) error {
	_, err := c.store.Update(func(s *settings.Settings) error {
		return s.Set(in.Key, in.Value)
	})
	if err != nil {
		return err
	}
	pterm.Success.Printf("Set %s to %s\n", in.Key, in.Value)
	return nil
}

func (c SettingsCmd) Reset(ctx context.Context) error {
	s, err := c.store.Reset()
	if err != nil {
		return err
	}
	pterm.Success.Println("Settings restored to defaults")
	printSettings(s, c.store.Path())
	return nil
}

func printSettings(s settings.Settings, path string) {
	rows := pterm.TableData{{"Key", "Value"}}
	for _, key := range settings.Keys() {
		value, _ := s.Get(key)
		rows = append(rows, []string{key, value})
	}
	PrintTableNoPad(rows, true)
	pterm.Info.Printf("Settings file: %s\n", path)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and change kg settings",
	Long: `Show and change kg settings.

Keys:
  auto_open_graph    open the graph in the browser when processing finishes (true/false)
  max_document_size  largest document accepted for upload, e.g. 25MiB
  max_code_size      largest source file accepted for upload, e.g. 10MiB
  poll_interval      time between status checks, e.g. 30s
  poll_budget        how long to wait for processing, e.g. 15m`,
}

var settingsGetCmd = &cobra.Command{
	Use:       "get [key]",
	Short:     "Print a setting, or all settings",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: settings.Keys(),
	RunE:      runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return settings.Keys(), cobra.ShellCompDirectiveNoFileComp
		}
		return nil, cobra.ShellCompDirectiveNoFileComp
	},
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsReset,
}

func init() {
	addOutputFlag(settingsGetCmd.Flags())
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd, settingsResetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	output, err := getOutput(cmd)
	if err != nil {
		return err
	}
	in := SettingsGetInput{Output: output}
	if len(args) == 1 {
		in.Key = args[0]
	}
	return SettingsCmd{store: env.store}.Get(cmd.Context(), in)
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	return SettingsCmd{store: env.store}.Set(cmd.Context(), SettingsSetInput{Key: args[0], Value: args[1]})
}

func runSettingsReset(cmd *cobra.Command, args []string) error {
	return SettingsCmd{store: env.store}.Reset(cmd.Context())
}
