package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/strata/internal/store"
)

// NewScopeCommand constructs the `scope` command group and subcommands.
func NewScopeCommand(baseURL BaseURLFunc) *cobra.Command {
	scopeCmd := &cobra.Command{Use: "scope", Short: "Scope operations"}
	scopeCmd.AddCommand(
		newScopeConfigureCommand(baseURL),
		newScopeListCommand(baseURL),
	)
	return scopeCmd
}

func newScopeConfigureCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Create or update a scope",
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, _ := cmd.Flags().GetString("name")
			class, _ := cmd.Flags().GetString("class")
			maxRecords, _ := cmd.Flags().GetInt("max-hot-records")
			maxBytes, _ := cmd.Flags().GetInt64("max-hot-bytes")
			segBytes, _ := cmd.Flags().GetInt64("segment-bytes")
			maxPending, _ := cmd.Flags().GetInt("max-pending")
			block, _ := cmd.Flags().GetBool("block")
			blockTimeout, _ := cmd.Flags().GetInt64("block-timeout-ms")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			body := map[string]any{
				"scope": name,
				"class": class,
				"policy": store.Policy{
					MaxHotRecords:      maxRecords,
					MaxHotBytes:        maxBytes,
					SegmentTargetBytes: segBytes,
					MaxPendingRecords:  maxPending,
					Block:              block,
					BlockTimeoutMs:     blockTimeout,
				},
			}
			var meta map[string]any
			if err := postJSON(baseURL(), "/v1/scopes/configure", body, &meta); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), meta)
		},
	}
	cmd.Flags().String("name", "", "Scope name")
	cmd.Flags().String("class", "traceable", "Scope class: traceable|lossy")
	cmd.Flags().Int("max-hot-records", 0, "Hot window record cap (0 = server default)")
	cmd.Flags().Int64("max-hot-bytes", 0, "Hot window byte cap (0 = server default)")
	cmd.Flags().Int64("segment-bytes", 0, "Cold segment target size (0 = server default)")
	cmd.Flags().Int("max-pending", 0, "Archive queue cap (0 = server default)")
	cmd.Flags().Bool("block", false, "Block appends at the pending limit instead of rejecting")
	cmd.Flags().Int64("block-timeout-ms", 0, "Blocking append timeout in ms (0 = server default)")
	return cmd
}

func newScopeListCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured scopes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out map[string]any
			if err := getJSON(baseURL(), "/v1/scopes", nil, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
