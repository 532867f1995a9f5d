package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var tailLines int64

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditTailCmd.Flags().Int64VarP(&tailLines, "lines", "n", 10, "Number of recent records to show")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit ledger operations",
	Long:  "Commands for verifying and inspecting per-tenant hash-chained audit ledgers.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <tenant>",
	Short: "Verify a tenant's audit chain",
	Long: "Walks the tenant's ledger and validates sequence continuity and every\n" +
		"prev_hash link. Exits 0 if intact, 1 if broken.",
	Args: cobra.ExactArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail <tenant>",
	Short: "Show recent audit records for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTail,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	st, err := openStack(serviceCfg)
	if err != nil {
		return err
	}
	defer st.Close()

	result := st.ledger.VerifyChain(args[0])
	if result.Valid {
		fmt.Printf("OK: %d record(s) verified\n", result.Records)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at seq %d: %s\n", result.BrokenSeq, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	st, err := openStack(serviceCfg)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.ledger.Query(args[0], 0, 0)
	if err != nil {
		return err
	}
	start := int64(len(records)) - tailLines
	if start < 0 {
		start = 0
	}
	for _, rec := range records[start:] {
		out, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Println(string(out))
	}
	return nil
}
