package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/model"
)

var (
	checkTenant string
	checkAgent  string
	checkAction string
	checkParams []string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkTenant, "tenant", "", "Tenant id (required)")
	checkCmd.Flags().StringVar(&checkAgent, "agent", "cli", "Agent id")
	checkCmd.Flags().StringVar(&checkAction, "action", "", "Proposed action type (required)")
	checkCmd.Flags().StringArrayVarP(&checkParams, "param", "p", nil, "Action context param key=value (repeatable)")
	checkCmd.MarkFlagRequired("tenant")
	checkCmd.MarkFlagRequired("action")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one gate decision locally",
	Long: "Evaluates a proposed action against the tenant's policy and trust\n" +
		"level, appends the decision to the audit ledger, and prints it.\n\n" +
		"Exit code 0 for an allow, 1 for a deny.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	st, err := openStack(serviceCfg)
	if err != nil {
		return err
	}
	defer st.Close()

	params, err := parseParams(checkParams)
	if err != nil {
		return err
	}

	decision := st.gate.CheckAndLog(context.Background(), checkTenant, checkAgent, model.ProposedAction{
		Type:   checkAction,
		Params: params,
	})

	out, _ := json.MarshalIndent(decision, "", "  ")
	fmt.Println(string(out))

	if decision.Verdict == model.Deny {
		os.Exit(1)
	}
	return nil
}

// parseParams turns key=value pairs into action context, coercing
// numeric and boolean values so predicates compare them natively.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q, expected key=value", pair)
		}
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			params[key] = n
		} else if b, err := strconv.ParseBool(raw); err == nil {
			params[key] = b
		} else {
			params[key] = raw
		}
	}
	return params, nil
}
