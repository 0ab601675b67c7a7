package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/strata/internal/compactor"
)

// NewArchiveCommand constructs the `archive` command group.
func NewArchiveCommand(baseURL BaseURLFunc) *cobra.Command {
	archiveCmd := &cobra.Command{Use: "archive", Short: "Archive operations"}
	archiveCmd.AddCommand(newArchiveFlushCommand(baseURL))
	return archiveCmd
}

func newArchiveFlushCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Flush pending records to the cold archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			if scope == "" {
				return fmt.Errorf("--scope is required")
			}
			var out map[string]any
			if err := postJSON(baseURL(), "/v1/archive/flush", map[string]string{"scope": scope}, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().String("scope", "", "Scope name")
	return cmd
}

// NewRetentionCommand constructs the `retention` command group.
func NewRetentionCommand(baseURL BaseURLFunc) *cobra.Command {
	retentionCmd := &cobra.Command{Use: "retention", Short: "Retention operations"}
	retentionCmd.AddCommand(newRetentionReplaceCommand(baseURL))
	return retentionCmd
}

func newRetentionReplaceCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replace",
		Short: "Rebuild a scope's cold archive under a retention policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			cutoffSeq, _ := cmd.Flags().GetUint64("cutoff-seq")
			maxAgeMs, _ := cmd.Flags().GetInt64("max-age-ms")
			maxSegments, _ := cmd.Flags().GetInt("max-segments")
			segBytes, _ := cmd.Flags().GetInt64("segment-bytes")
			if scope == "" {
				return fmt.Errorf("--scope is required")
			}

			body := map[string]any{
				"scope": scope,
				"policy": compactor.Policy{
					CutoffSeq:          cutoffSeq,
					MaxAgeMs:           maxAgeMs,
					MaxSegments:        maxSegments,
					SegmentTargetBytes: segBytes,
				},
			}
			var out map[string]any
			if err := postJSON(baseURL(), "/v1/retention/replace", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().String("scope", "", "Scope name")
	cmd.Flags().Uint64("cutoff-seq", 0, "Prune records below this sequence (0 = keep all)")
	cmd.Flags().Int64("max-age-ms", 0, "Prune records older than this many ms (0 = keep all)")
	cmd.Flags().Int("max-segments", 0, "Keep at most the newest N segments (0 = keep all)")
	cmd.Flags().Int64("segment-bytes", 0, "Rebuilt segment target size (0 = server default)")
	return cmd
}
