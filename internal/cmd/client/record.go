package client

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRecordCommand constructs the `record` command group and subcommands.
func NewRecordCommand(baseURL BaseURLFunc) *cobra.Command {
	recordCmd := &cobra.Command{Use: "record", Short: "Record operations"}
	recordCmd.AddCommand(
		newRecordAppendCommand(baseURL),
		newRecordListCommand(baseURL),
		newRecordDeliveryCommand(baseURL),
		newRecordMetricsCommand(baseURL),
	)
	return recordCmd
}

func newRecordAppendCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a record to a scope",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			data, _ := cmd.Flags().GetString("data")
			dataFile, _ := cmd.Flags().GetString("data-file")
			if scope == "" {
				return fmt.Errorf("--scope is required")
			}
			payload := []byte(data)
			if dataFile != "" {
				b, err := os.ReadFile(dataFile)
				if err != nil {
					return err
				}
				payload = b
			}

			var out map[string]uint64
			body := map[string]any{"scope": scope, "payload": payload}
			if err := postJSON(baseURL(), "/v1/records/append", body, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seq: %d\n", out["seq"])
			return nil
		},
	}
	cmd.Flags().String("scope", "", "Scope name")
	cmd.Flags().String("data", "", "Record payload as a string")
	cmd.Flags().String("data-file", "", "Read the payload from a file instead of --data")
	return cmd
}

func newRecordListCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records across the hot window and cold archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			minSeq, _ := cmd.Flags().GetUint64("min-seq")
			maxSeq, _ := cmd.Flags().GetUint64("max-seq")
			limit, _ := cmd.Flags().GetInt("limit")
			filter, _ := cmd.Flags().GetString("filter")
			if scope == "" {
				return fmt.Errorf("--scope is required")
			}

			q := url.Values{}
			q.Set("scope", scope)
			if minSeq > 0 {
				q.Set("minSeq", strconv.FormatUint(minSeq, 10))
			}
			if maxSeq > 0 {
				q.Set("maxSeq", strconv.FormatUint(maxSeq, 10))
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if filter != "" {
				q.Set("filter", filter)
			}

			var out struct {
				Records []struct {
					Seq         uint64 `json:"seq"`
					TimestampMs int64  `json:"tsMs"`
					Payload     []byte `json:"payload"`
				} `json:"records"`
			}
			if err := getJSON(baseURL(), "/v1/records/list", q, &out); err != nil {
				return err
			}
			for _, rec := range out.Records {
				if err := printJSON(cmd.OutOrStdout(), decodedRecord(rec.Seq, rec.TimestampMs, rec.Payload)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().String("scope", "", "Scope name")
	cmd.Flags().Uint64("min-seq", 0, "Lowest sequence to return")
	cmd.Flags().Uint64("max-seq", 0, "Highest sequence to return (0 = unbounded)")
	cmd.Flags().Int("limit", 0, "Maximum records to return (0 = unbounded)")
	cmd.Flags().String("filter", "", "CEL filter expression, e.g. json.kind == \"order\"")
	return cmd
}

func newRecordDeliveryCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delivery",
		Short: "Record a delivery attempt for a sequence",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			seq, _ := cmd.Flags().GetUint64("seq")
			failure, _ := cmd.Flags().GetString("failure")
			if scope == "" || seq == 0 {
				return fmt.Errorf("--scope and --seq are required")
			}

			body := map[string]any{"scope": scope, "seq": seq, "failureReason": failure}
			var out map[string]any
			if err := postJSON(baseURL(), "/v1/records/delivery", body, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().String("scope", "", "Scope name")
	cmd.Flags().Uint64("seq", 0, "Record sequence")
	cmd.Flags().String("failure", "", "Failure reason; empty records a successful delivery")
	return cmd
}

func newRecordMetricsCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "List delivery metrics across the hot window and cold archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			minSeq, _ := cmd.Flags().GetUint64("min-seq")
			maxSeq, _ := cmd.Flags().GetUint64("max-seq")
			if scope == "" {
				return fmt.Errorf("--scope is required")
			}

			q := url.Values{}
			q.Set("scope", scope)
			if minSeq > 0 {
				q.Set("minSeq", strconv.FormatUint(minSeq, 10))
			}
			if maxSeq > 0 {
				q.Set("maxSeq", strconv.FormatUint(maxSeq, 10))
			}
			var out map[string]any
			if err := getJSON(baseURL(), "/v1/metrics/list", q, &out); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().String("scope", "", "Scope name")
	cmd.Flags().Uint64("min-seq", 0, "Lowest sequence to include")
	cmd.Flags().Uint64("max-seq", 0, "Highest sequence to include (0 = unbounded)")
	return cmd
}
