package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/model"
)

var (
	reportTenant   string
	reportActionID string
	reportOutcomes []string
)

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().StringVar(&reportTenant, "tenant", "", "Tenant id (required)")
	reportCmd.Flags().StringVar(&reportActionID, "action-id", "", "Action id the outcome refers to (required)")
	reportCmd.Flags().StringArrayVarP(&reportOutcomes, "outcome", "o", nil, "Outcome metric=value (repeatable)")
	reportCmd.MarkFlagRequired("tenant")
	reportCmd.MarkFlagRequired("action-id")
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Record verified outcomes for a completed action",
	Long: "Appends outcome metric samples for an action. Reporting the same\n" +
		"action id twice is a no-op, so retries are safe.",
	RunE: runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	if len(reportOutcomes) == 0 {
		return fmt.Errorf("at least one --outcome metric=value is required")
	}

	st, err := openStack(serviceCfg)
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now().UTC()
	samples := make([]model.TrustMetricSample, 0, len(reportOutcomes))
	for _, pair := range reportOutcomes {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("invalid outcome %q, expected metric=value", pair)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid outcome value %q: %w", raw, err)
		}
		samples = append(samples, model.TrustMetricSample{
			TenantID:  reportTenant,
			Metric:    model.MetricName(name),
			Value:     value,
			Timestamp: now,
			ActionID:  reportActionID,
		})
	}

	if err := st.collector.RecordOutcome(reportTenant, reportActionID, samples); err != nil {
		return err
	}
	fmt.Printf("recorded %d outcome(s) for %s/%s\n", len(samples), reportTenant, reportActionID)
	return nil
}
