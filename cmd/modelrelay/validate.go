package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/modelrelay/config"
)

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			chain := cfg.FallbackChain
			if len(chain) == 0 {
				for _, ep := range cfg.Endpoints {
					chain = append(chain, ep.Name)
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config %s is valid\n", *configPath)
			fmt.Fprintf(out, "  listen:    %s\n", cfg.Listen)
			fmt.Fprintf(out, "  endpoints: %d\n", len(cfg.Endpoints))
			fmt.Fprintf(out, "  chain:     %s\n", strings.Join(chain, " -> "))
			fmt.Fprintf(out, "  cache:     %t\n", cfg.Cache.Enabled)
			fmt.Fprintf(out, "  auth:      %t\n", cfg.Auth.Enabled)
			return nil
		},
	}
}
