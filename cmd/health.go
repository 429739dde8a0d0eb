package cmd

import (
	"context"
	"fmt"

	"github.com/kgraph/cli/internal/graphapi"
	"github.com/kgraph/cli/internal/session"
	"github.com/kgraph/cli/pkg/util"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// HealthService is the subset of the backend client the health command uses.
type HealthService interface {
	HealthCheck(ctx context.Context) (graphapi.Health, error)
	BaseURL() string
}

type HealthCmd struct {
	svc HealthService
}

type HealthInput struct {
	Output string
}

type healthReport struct {
	API        string `json:"api"`
	Status     string `json:"status"`
	Version    string `json:"version,omitempty"`
	Compatible bool   `json:"compatible"`
	CLIVersion string `json:"cli_version"`
}

// Health checks that the backend is reachable and speaks a supported API version.
func (c HealthCmd) Health(ctx context.Context, in HealthInput) error {
	h, err := c.svc.HealthCheck(ctx)
	if err != nil {
		if in.Output != "json" {
			pterm.Error.Println(session.MsgUnreachable)
		}
		return util.CleanedUpError{Err: err}
	}

	compatible, err := graphapi.CheckVersion(h, graphapi.MinBackendVersion)
	if err != nil {
		pterm.Warning.Println(err.Error())
	}
	report := healthReport{
		API:        c.svc.BaseURL(),
		Status:     h.Status,
		Version:    h.Version,
		Compatible: compatible,
		CLIVersion: metadata.Version,
	}
	if in.Output == "json" {
		return util.PrintJSON(report)
	}

	rows := pterm.TableData{{"Property", "Value"}}
	rows = append(rows, []string{"API", report.API})
	rows = append(rows, []string{"Status", report.Status})
	rows = append(rows, []string{"Backend version", util.OrDash(report.Version)})
	rows = append(rows, []string{"CLI version", report.CLIVersion})
	PrintTableNoPad(rows, true)

	if !compatible {
		pterm.Warning.Printf("Backend version %s does not satisfy %s; some commands may fail\n", h.Version, graphapi.MinBackendVersion)
		return nil
	}
	pterm.Success.Println("Backend is healthy")
	return nil
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the knowledge-graph backend is reachable",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	addOutputFlag(healthCmd.Flags())
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	output, err := getOutput(cmd)
	if err != nil {
		return err
	}
	c := HealthCmd{svc: getClient()}
	if err := c.Health(cmd.Context(), HealthInput{Output: output}); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
