package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gosuda/masgate/internal/agent"
	"github.com/gosuda/masgate/internal/config"
)

func newAgentsCmd() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List catalog agents and check their configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := loadCatalog(config.AgentsConfig{
				CatalogPath: catalogPath,
				DefaultID:   os.Getenv("MASGATE_DEFAULT_AGENT"),
			})
			if err != nil {
				return err
			}

			// Handlers are built without an upstream; only construction is checked.
			orchestrator := agent.NewOrchestrator(catalog, newRegistry(), nil, nil, nil)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDEPLOYMENT\tENDPOINT\tSTATUS")
			for _, a := range catalog.List() {
				status := "ok"
				if _, _, resolveErr := orchestrator.Resolve(a.ID); resolveErr != nil {
					status = resolveErr.Error()
				}
				if a.ID == catalog.DefaultID() {
					status += " (default)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.DisplayName(), a.DeploymentType, a.EndpointName, status)
			}
			if flushErr := tw.Flush(); flushErr != nil {
				return flushErr
			}

			return orchestrator.Preflight()
		},
	}

	cmd.Flags().StringVar(&catalogPath, "file", envOr("MASGATE_AGENTS_FILE", "agents.yaml"), "Agent catalog YAML file")
	return cmd
}
