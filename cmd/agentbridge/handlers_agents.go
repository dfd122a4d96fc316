package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentbridge/internal/config"
)

func runAgentsList(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	out := cmd.OutOrStdout()
	agents := cfg.AgentModels()
	if len(agents) == 0 {
		fmt.Fprintln(out, "No agents are configured.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tMODEL\tPERMISSIONS")
	for i, a := range agents {
		id := a.ID
		if i == 0 {
			id += " (default)"
		}
		perms := strings.Join(a.Permissions, ",")
		if perms == "" {
			perms = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, a.DisplayName(), a.Provider, a.Model, perms)
	}
	return w.Flush()
}
