// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewRootCommand enables all children commands to read flags from CLI flags,
// environment variables prefixed with RELATIONSYNC, or config.yaml (in that
// order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("RELATIONSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/relationsync", "$HOME/.relationsync", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	return &cobra.Command{
		Use:   "relationsync",
		Short: "Keep a relationship-graph authorization store in sync with relational RBAC state",
		Long: `relationsync derives ReBAC relationship tuples from relational RBAC state
(groups, roles, workspaces) and keeps a remote relationship store converged
on them: minimal deltas on change, periodic reconciliation against drift.`,
	}
}
