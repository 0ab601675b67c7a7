package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the Strata client.
// It registers the scope, record, archive, and retention command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "strata",
		Short: "Strata client commands",
	}
	root.AddCommand(NewScopeCommand(baseURL))
	root.AddCommand(NewRecordCommand(baseURL))
	root.AddCommand(NewArchiveCommand(baseURL))
	root.AddCommand(NewRetentionCommand(baseURL))
	return root
}
