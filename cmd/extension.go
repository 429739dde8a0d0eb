package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kgraph/cli/internal/browserhost"
	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type ExtensionCmd struct {
	// dirFor resolves the manifest directory of a browser.
	dirFor func(browserhost.Browser) (string, error)
	// executable returns the absolute path of the kg binary.
	executable func() (string, error)
	goos       string
}

type ExtensionInstallInput struct {
	ExtensionIDs []string
	Browsers     []string
}

type ExtensionUninstallInput struct {
	Browsers []string
}

func newExtensionCmd() ExtensionCmd {
	return ExtensionCmd{dirFor: browserhost.CurrentDir, executable: executablePath, goos: runtime.GOOS}
}

func executablePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(exe)
}

func parseBrowsers(names []string) ([]browserhost.Browser, error) {
	if len(names) == 0 {
		return []browserhost.Browser{browserhost.Chrome}, nil
	}
	browsers := make([]browserhost.Browser, 0, len(names))
	for _, name := range lo.Uniq(names) {
		b := browserhost.Browser(name)
		if !lo.Contains(browserhost.Browsers, b) {
			return nil, fmt.Errorf("%w: %s (supported: chrome, chromium, edge, brave)", browserhost.ErrUnsupportedBrowser, name)
		}
		browsers = append(browsers, b)
	}
	return browsers, nil
}

// Install registers kg as the native-messaging host of the extension.
func (c ExtensionCmd) Install(ctx context.Context, in ExtensionInstallInput) error {
	browsers, err := parseBrowsers(in.Browsers)
	if err != nil {
		return err
	}
	exe, err := c.executable()
	if err != nil {
		return fmt.Errorf("failed to locate kg binary: %w", err)
	}
	manifest, err := browserhost.NewManifest(exe, in.ExtensionIDs...)
	if err != nil {
		return err
	}

	for _, b := range browsers {
		dir, err := c.dirFor(b)
		if err != nil {
			return err
		}
		path, err := browserhost.Install(dir, manifest)
		if err != nil {
			return err
		}
		pterm.Success.Printf("Registered native host for %s: %s\n", b, path)
		if c.goos == "windows" {
			pterm.Info.Printf("Point the registry key at the manifest:\n  reg add \"%s\" /ve /t REG_SZ /d \"%s\" /f\n", browserhost.RegistryKey(b), path)
		}
	}
	return nil
}

// Uninstall removes the host manifests written by Install.
func (c ExtensionCmd) Uninstall(ctx context.Context, in ExtensionUninstallInput) error {
	browsers, err := parseBrowsers(in.Browsers)
	if err != nil {
		return err
	}
	for _, b := range browsers {
		dir, err := c.dirFor(b)
		if err != nil {
			return err
		}
		path, err := browserhost.Uninstall(dir)
		if err != nil {
			return err
		}
		pterm.Success.Printf("Removed native host for %s: %s\n", b, path)
		if c.goos == "windows" {
			pterm.Info.Printf("Remove the registry key too:\n  reg delete \"%s\" /f\n", browserhost.RegistryKey(b))
		}
	}
	return nil
}

var extensionCmd = &cobra.Command{
	Use:   "extension",
	Short: "Connect kg to the browser extension",
}

var extensionInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Register kg as the extension's native-messaging host",
	Args:  cobra.NoArgs,
	RunE:  runExtensionInstall,
}

var extensionUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the native-messaging host registration",
	Args:  cobra.NoArgs,
	RunE:  runExtensionUninstall,
}

func init() {
	extensionInstallCmd.Flags().StringSlice("extension-id", nil, "ID of the browser extension allowed to connect (repeatable)")
	_ = extensionInstallCmd.MarkFlagRequired("extension-id")
	for _, c := range []*cobra.Command{extensionInstallCmd, extensionUninstallCmd} {
		c.Flags().StringSlice("browser", nil, "Browser to register with: chrome, chromium, edge or brave (default chrome)")
	}
	extensionCmd.AddCommand(extensionInstallCmd)
	extensionCmd.AddCommand(extensionUninstallCmd)
	rootCmd.AddCommand(extensionCmd)
}

func runExtensionInstall(cmd *cobra.Command, args []string) error {
	ids, _ := cmd.Flags().GetStringSlice("extension-id")
	browsers, _ := cmd.Flags().GetStringSlice("browser")
	return newExtensionCmd().Install(cmd.Context(), ExtensionInstallInput{ExtensionIDs: ids, Browsers: browsers})
}

func runExtensionUninstall(cmd *cobra.Command, args []string) error {
	browsers, _ := cmd.Flags().GetStringSlice("browser")
	return newExtensionCmd().Uninstall(cmd.Context(), ExtensionUninstallInput{Browsers: browsers})
}
