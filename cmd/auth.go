package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kgraph/cli/internal/settings"
	"github.com/kgraph/cli/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// TokenService stores the API key.
type TokenService interface {
	Get() (string, error)
	Set(token string) error
	Delete() error
}

type AuthCmd struct {
	tokens TokenService
	// prompt asks for the key when none is passed on the command line.
	prompt func() (string, error)
	now    func() time.Time
}

type AuthLoginInput struct {
	APIKey string
}

// Login stores an API key in the keyring.
func (c AuthCmd) Login(ctx context.Context, in AuthLoginInput) error {
	key := strings.TrimSpace(in.APIKey)
	if key == "" && c.prompt != nil {
		var err error
		if key, err = c.prompt(); err != nil {
			return err
		}
	}
	if err := c.tokens.Set(key); err != nil {
		return err
	}
	pterm.Success.Println("API key saved to the system keyring")
	if exp, ok := settings.TokenExpiry(key); ok {
		c.printExpiry(exp)
	}
	return nil
}

type AuthLogoutInput struct {
	SkipConfirm bool
}

// Logout removes the stored API key.
func (c AuthCmd) Logout(ctx context.Context, in AuthLogoutInput) error {
	if !in.SkipConfirm {
		pterm.DefaultInteractiveConfirm.DefaultText = "Remove the stored API key?"
		ok, _ := pterm.DefaultInteractiveConfirm.Show()
		if !ok {
			pterm.Info.Println("Logout cancelled")
			return nil
		}
	}
	if err := c.tokens.Delete(); err != nil {
		if errors.Is(err, settings.ErrNoToken) {
			pterm.Info.Println("No API key stored")
			return nil
		}
		return err
	}
	pterm.Success.Println("API key removed")
	return nil
}

type AuthStatusInput struct {
	Output string
}

type authReport struct {
	Source    string     `json:"source"`
	Key       string     `json:"key,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired,omitempty"`
}

// Status reports where the API key comes from and when it expires.
func (c AuthCmd) Status(ctx context.Context, in AuthStatusInput) error {
	key, source, err := settings.ResolveAPIKey(c.tokens)
	if err != nil {
		return err
	}
	report := authReport{Source: source, Key: maskKey(key)}
	if exp, ok := settings.TokenExpiry(key); ok {
		report.ExpiresAt = &exp
		report.Expired = c.clock().After(exp)
	}

	if in.Output == "json" {
		return util.PrintJSON(report)
	}
	if source == settings.SourceNone {
		pterm.Info.Println("No API key configured. Requests are sent unauthenticated.")
		pterm.Info.Printf("Run \"kg auth login\" or set %s.\n", settings.EnvAPIKey)
		return nil
	}

	rows := pterm.TableData{{"Property", "Value"}}
	rows = append(rows, []string{"Source", source})
	rows = append(rows, []string{"Key", report.Key})
	if report.ExpiresAt != nil {
		rows = append(rows, []string{"Expires", util.FormatLocal(*report.ExpiresAt)})
	}
	PrintTableNoPad(rows, true)
	if report.ExpiresAt != nil {
		c.printExpiry(*report.ExpiresAt)
	}
	return nil
}

func (c AuthCmd) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c AuthCmd) printExpiry(exp time.Time) {
	if left := exp.Sub(c.clock()); left <= 0 {
		pterm.Warning.Printf("API key expired at %s\n", util.FormatLocal(exp))
	} else if left < 7*24*time.Hour {
		pterm.Warning.Printf("API key expires in %s\n", left.Round(time.Minute))
	}
}

// maskKey keeps the last four characters of a key.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func promptAPIKey() (string, error) {
	key, err := pterm.DefaultInteractiveTextInput.WithMask("*").Show("API key")
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	return key, nil
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the API key used to talk to the backend",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an API key in the system keyring",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored API key",
	Args:  cobra.NoArgs,
	RunE:  runAuthLogout,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which API key is in use",
	Args:  cobra.NoArgs,
	RunE:  runAuthStatus,
}

func init() {
	authLoginCmd.Flags().String("api-key", "", "API key to store (prompted for when omitted)")
	authLogoutCmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")
	addOutputFlag(authStatusCmd.Flags())
	authCmd.AddCommand(authLoginCmd, authLogoutCmd, authStatusCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	key, _ := cmd.Flags().GetString("api-key")
	c := AuthCmd{tokens: env.tokens, prompt: promptAPIKey}
	return c.Login(cmd.Context(), AuthLoginInput{APIKey: key})
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	skip, _ := cmd.Flags().GetBool("yes")
	return AuthCmd{tokens: env.tokens}.Logout(cmd.Context(), AuthLogoutInput{SkipConfirm: skip})
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	output, err := getOutput(cmd)
	if err != nil {
		return err
	}
	return AuthCmd{tokens: env.tokens}.Status(cmd.Context(), AuthStatusInput{Output: output})
}
