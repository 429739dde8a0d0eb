package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/kgraph/cli/internal/config"
	"github.com/kgraph/cli/internal/graphapi"
	"github.com/kgraph/cli/internal/settings"
	"github.com/kgraph/cli/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Metadata is stamped into the binary at build time.
type Metadata struct {
	Version string
	Commit  string
}

var metadata = Metadata{Version: "dev"}

// runtimeEnv is what every command runs with once flags and the environment
// have been resolved.
type runtimeEnv struct {
	cfg    *config.Config
	store  *settings.Store
	tokens *settings.TokenStore
	logger *pterm.Logger
}

var env = &runtimeEnv{
	cfg:    config.Load(),
	tokens: settings.NewTokenStore(),
	logger: util.NewLogger(false),
}

var rootCmd = &cobra.Command{
	Use:   "kg",
	Short: "Turn documents and source files into knowledge graphs",
	Long: `kg uploads a document or a source file to the knowledge-graph backend,
waits for it to be processed and links you to the interactive graph.

Configuration is read from the environment (KG_API_BASE_URL, KG_FRONTEND_URL,
KG_API_KEY, KG_DEBUG), an optional .env file and the settings file.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupRuntime,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("api-url", "", "Backend API base URL (overrides "+config.EnvAPIBaseURL+")")
	pf.String("frontend-url", "", "Graph viewer base URL (overrides "+config.EnvFrontendURL+")")
	pf.String("settings-file", "", "Path to the settings file (overrides "+config.EnvSettings+")")
	pf.Bool("debug", false, "Print debug logs")
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute(m Metadata) {
	metadata = m
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := fang.Execute(ctx, rootCmd, fang.WithVersion(m.Version))
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func setupRuntime(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	flags := cmd.Flags()
	if v, _ := flags.GetString("api-url"); v != "" {
		cfg.APIBaseURL = strings.TrimRight(v, "/")
	}
	if v, _ := flags.GetString("frontend-url"); v != "" {
		cfg.FrontendURL = strings.TrimRight(v, "/")
	}
	if v, _ := flags.GetString("settings-file"); v != "" {
		cfg.SettingsPath = v
	}
	if debug, _ := flags.GetBool("debug"); debug {
		cfg.Debug = true
	}

	if cfg.SettingsPath == "" {
		path, err := settings.DefaultPath()
		if err != nil {
			return err
		}
		cfg.SettingsPath = path
	}

	env.cfg = cfg
	env.store = settings.NewStore(cfg.SettingsPath)
	env.logger = util.NewLogger(cfg.Debug)
	if cfg.Debug {
		pterm.EnableDebugMessages()
	}
	env.logger.Debug("configuration loaded", env.logger.Args(
		"api", cfg.APIBaseURL,
		"frontend", cfg.FrontendURL,
		"settings", cfg.SettingsPath,
		"dotenv", cfg.DotEnvLoaded,
	))
	return nil
}

// getClient builds the backend client, authenticating with the API key from
// the environment or the keyring when one is available.
func getClient() *graphapi.Client {
	log := env.logger
	key, source, err := settings.ResolveAPIKey(env.tokens)
	if err != nil {
		log.Warn("could not read API key", log.Args("error", err))
	}
	log.Debug("API key resolved", log.Args("source", source))
	return graphapi.NewClient(graphapi.Options{
		BaseURL:     env.cfg.APIBaseURL,
		FrontendURL: env.cfg.FrontendURL,
		APIKey:      key,
		Logger:      log,
	})
}

// loadSettings reads the settings file, falling back to the defaults when it
// is unreadable so that a broken file never blocks an upload.
func loadSettings() settings.Settings {
	if env.store == nil {
		return settings.Defaults()
	}
	s, err := env.store.Load()
	if err != nil {
		pterm.Warning.Printf("Ignoring settings file: %v\n", err)
		return settings.Defaults()
	}
	return s
}

func addOutputFlag(fs *pflag.FlagSet) {
	fs.StringP("output", "o", "", "Output format (json)")
}

func getOutput(cmd *cobra.Command) (string, error) {
	output, _ := cmd.Flags().GetString("output")
	if output != "" && output != "json" {
		return "", fmt.Errorf("unsupported output format %q (only json is supported)", output)
	}
	return output, nil
}

// onCancel runs fn when ctx is cancelled. The returned function detaches fn.
func onCancel(ctx context.Context, fn func()) (stop func() bool) {
	return context.AfterFunc(ctx, fn)
}
