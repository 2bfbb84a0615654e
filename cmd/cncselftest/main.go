// Command cncselftest runs the diagnostic checks that verify SHADOW's
// runtime invariants hold and prints a text or JSON report, grounded on
// original_source/cnc_control/selftest/cli.py.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cncworks/shadow/pkg/selftest"
	"github.com/cncworks/shadow/pkg/sysexec"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cncselftest",
	Short: "Run SHADOW's runtime self-test and report the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		verbose, _ := cmd.Flags().GetBool("verbose")
		envFile, _ := cmd.Flags().GetString("env-file")
		validateRoot, _ := cmd.Flags().GetString("validate-root")

		result := selftest.RunSelfTest(context.Background(), sysexec.NewExecRunner(), selftest.Options{
			EnvFile:      envFile,
			ValidateRoot: validateRoot,
		})

		if jsonOutput {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(result); err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
		} else {
			printReport(result, verbose)
		}

		if result.Critical > 0 {
			os.Exit(1)
		}
		return nil
	},
}

func printReport(result selftest.Result, verbose bool) {
	fmt.Printf("SHADOW self-test: %s (critical=%d warnings=%d system_noise=%d)\n",
		result.Status, result.Critical, result.Warnings, result.SystemNoise)

	printSection("journal", result.Journal, verbose)
	printSection("shadow", result.Shadow, verbose)
}

func printSection(name string, section selftest.SectionResult, verbose bool) {
	fmt.Printf("\n[%s] %s\n", name, section.Status())
	for _, check := range section.Checks {
		if !verbose && check.Status == selftest.StatusPass {
			continue
		}
		fmt.Printf("  %-6s %-28s %s\n", check.Status, check.Name, check.Detail)
	}
}

func init() {
	rootCmd.Flags().Bool("json", false, "Print the result as JSON instead of a text report")
	rootCmd.Flags().Bool("verbose", false, "Include passing checks in the text report")
	rootCmd.Flags().String("env-file", "", "Override the CNC_* environment file (defaults to /etc/cnc-control/cnc-control.env)")
	rootCmd.Flags().String("validate-root", "", "Override the scratch mountpoint used for read-only mount validation")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
