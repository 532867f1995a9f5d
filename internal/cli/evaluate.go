package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var evaluateAll bool

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().BoolVar(&evaluateAll, "all", false, "Evaluate every known tenant")
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate [tenant]",
	Short: "Run a trust evaluation cycle",
	Long: "Recomputes trust for one tenant (or all with --all): demotes on any\n" +
		"metric under its floor, promotes when every metric clears its\n" +
		"threshold for the configured window, otherwise holds.",
	Args: cobra.MaximumNArgs(1),
	RunE: runEvaluate,
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	st, err := openStack(serviceCfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if evaluateAll {
		result := st.evaluator.RunOnce(context.Background(), serviceCfg.EvalWorkers)
		fmt.Printf("evaluated %d/%d tenants (%d failed)\n", result.Evaluated, result.Tenants, result.Failed)
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("a tenant id is required unless --all is set")
	}
	transition, err := st.evaluator.EvaluateTenant(args[0])
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(transition, "", "  ")
	fmt.Println(string(out))
	return nil
}
