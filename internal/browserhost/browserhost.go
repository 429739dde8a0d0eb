// Package browserhost registers kg as a native-messaging host with
// Chromium-based browsers so the extension can reach "kg native-host".
package browserhost

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"github.com/kgraph/cli/pkg/util"
	"github.com/samber/lo"
)

const (
	// HostName is the name the extension passes to connectNative.
	HostName = "com.kgraph.cli"

	hostDescription = "kg knowledge-graph uploader"
)

// Browser identifies a Chromium-based browser.
type Browser string

const (
	Chrome   Browser = "chrome"
	Chromium Browser = "chromium"
	Edge     Browser = "edge"
	Brave    Browser = "brave"
)

// Browsers lists the supported browsers.
var Browsers = []Browser{Chrome, Chromium, Edge, Brave}

var ErrUnsupportedBrowser = errors.New("unsupported browser")

// Chrome extension ids are 32 letters from a to p.
var extensionIDPattern = regexp.MustCompile(`^[a-p]{32}$`)

// Manifest is the native-messaging host manifest.
type Manifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// NewManifest describes the host binary at path, reachable from the given extensions.
func NewManifest(path string, extensionIDs ...string) (Manifest, error) {
	if !filepath.IsAbs(path) {
		return Manifest{}, fmt.Errorf("host path must be absolute: %s", path)
	}
	if len(extensionIDs) == 0 {
		return Manifest{}, errors.New("at least one extension id is required")
	}
	for _, id := range extensionIDs {
		if !extensionIDPattern.MatchString(id) {
			return Manifest{}, fmt.Errorf("invalid extension id %q", id)
		}
	}
	return Manifest{
		Name:        HostName,
		Description: hostDescription,
		Path:        path,
		Type:        "stdio",
		AllowedOrigins: lo.Map(lo.Uniq(extensionIDs), func(id string, _ int) string {
			return "chrome-extension://" + id + "/"
		}),
	}, nil
}

// ManifestDir returns the per-user directory the browser reads host
// manifests from. On Windows the browser finds manifests through the
// registry, so the directory is only where kg keeps the file.
func ManifestDir(browser Browser, goos, homeDir string) (string, error) {
	var configDirs map[Browser][]string
	switch goos {
	case "darwin":
		base := filepath.Join(homeDir, "Library", "Application Support")
		configDirs = map[Browser][]string{
			Chrome:   {base, "Google", "Chrome"},
			Chromium: {base, "Chromium"},
			Edge:     {base, "Microsoft Edge"},
			Brave:    {base, "BraveSoftware", "Brave-Browser"},
		}
	case "linux":
		base := filepath.Join(homeDir, ".config")
		configDirs = map[Browser][]string{
			Chrome:   {base, "google-chrome"},
			Chromium: {base, "chromium"},
			Edge:     {base, "microsoft-edge"},
			Brave:    {base, "BraveSoftware", "Brave-Browser"},
		}
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		if !lo.Contains(Browsers, browser) {
			return "", fmt.Errorf("%w: %s", ErrUnsupportedBrowser, browser)
		}
		return filepath.Join(localAppData, "kg", "NativeMessagingHosts", string(browser)), nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}

	parts, ok := configDirs[browser]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedBrowser, browser)
	}
	return filepath.Join(append(parts, "NativeMessagingHosts")...), nil
}

// RegistryKey is the key that must point at the manifest on Windows.
func RegistryKey(browser Browser) string {
	switch browser {
	case Edge:
		return `HKCU\Software\Microsoft\Edge\NativeMessagingHosts\` + HostName
	case Brave:
		return `HKCU\Software\BraveSoftware\Brave-Browser\NativeMessagingHosts\` + HostName
	case Chromium:
		return `HKCU\Software\Chromium\NativeMessagingHosts\` + HostName
	default:
		return `HKCU\Software\Google\Chrome\NativeMessagingHosts\` + HostName
	}
}

// Install writes m into dir and returns the manifest path.
func Install(dir string, m Manifest) (string, error) {
	body, err := util.MarshalJSON(m)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, HostName+".json")
	if err := util.WriteFileAtomic(path, []byte(body+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return path, nil
}

// Uninstall removes the manifest from dir. A missing manifest is not an error.
func Uninstall(dir string) (string, error) {
	path := filepath.Join(dir, HostName+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove manifest: %w", err)
	}
	return path, nil
}

// CurrentDir is ManifestDir for the running OS and user.
func CurrentDir(browser Browser) (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return ManifestDir(browser, runtime.GOOS, homeDir)
}
