package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stephnangue/bastion/cmd/server"
)

var bastionCmd = &cobra.Command{
	Use:   "bastion",
	Short: "Bastion is a multi-tenant gateway for MCP server instances",
	Long: `Bastion fronts isolated, stateful MCP server instances with tenant
authentication, quota enforcement and audit logging. Every request is
authenticated with an API key, a session or a bearer token, charged
against the tenant's quotas, and routed to that tenant's own server
instance.`,
}

func Execute() {
	if err := bastionCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	bastionCmd.AddCommand(server.ServerCmd)
}
