package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/store"
)

var initTenant string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().StringVar(&initTenant, "tenant", "", "Tenant id for the generated policy (required)")
	configInitCmd.MarkFlagRequired("tenant")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Tenant policy file operations",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a tenant policy file",
	Long: "Parses and validates a tenant policy YAML document without applying\n" +
		"it. Exits 0 and prints the content hash if valid.",
	Args: cobra.ExactArgs(1),
	RunE: runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter tenant policy",
	Long: "Writes a commented starter policy for the given tenant. The default\n" +
		"destination is <tenant>.yaml in the configured policy directory.",
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	policy, hash, err := store.LoadPolicyFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK: tenant %q, %d rule(s), %d limit(s), %d metric(s)\n",
		policy.TenantID, len(policy.Rules), len(policy.Limits), len(policy.Metrics))
	fmt.Println(hash)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(serviceCfg.PolicyDir, initTenant+".yaml")
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create policy directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(store.StarterPolicyYAML(initTenant)), 0644); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
