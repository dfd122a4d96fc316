package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentbridge/internal/config"
)

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("%s is invalid:\n%w", configPath, err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s is valid\n", configPath)
	fmt.Fprintf(out, "  database: %s\n", cfg.Database.Driver)
	fmt.Fprintf(out, "  providers: %d\n", len(cfg.Providers))
	fmt.Fprintf(out, "  agents: %d\n", len(cfg.Agents))
	fmt.Fprintf(out, "  channels: %v\n", cfg.EnabledChannels())
	return nil
}

func runConfigSchema(cmd *cobra.Command, _ []string) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}
