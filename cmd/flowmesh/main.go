// Command flowmesh runs and validates declarative workflow documents.
//
// Usage:
//
//	flowmesh run -f workflow.yaml --input "..." [--var k=v] [--verbose]
//	flowmesh validate -f workflow.yaml
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/flowmesh"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/workflow"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "flowmesh",
		Short:         "flowmesh, a declarative agent workflow runner",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newRunCmd(), newValidateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var (
		file    string
		input   string
		vars    []string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workflow document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides, err := parseVars(vars)
			if err != nil {
				return err
			}

			level := logging.LogLevelInfo
			if verbose {
				level = logging.LogLevelDebug
			}
			logger := logging.NewSlogLogger(level, "text", false)

			wf, err := flowmesh.LoadFile(file, func(o *flowmesh.Options) {
				o.Logger = logger
				o.Variables = overrides
			})
			if err != nil {
				return err
			}

			result, err := wf.Start(cmd.Context(), input)
			printResult(result)
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "workflow document (required)")
	cmd.Flags().StringVar(&input, "input", "", "initial workflow input")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable override key=value (repeatable)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "debug logging")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func parseVars(vars []string) (map[string]any, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(vars))
	for _, kv := range vars {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			return nil, fmt.Errorf("invalid --var %q: want key=value", kv)
		}
		out[kv[:i]] = kv[i+1:]
	}
	return out, nil
}

func newValidateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a workflow document without running it",
		RunE: func(_ *cobra.Command, _ []string) error {
			wf, err := flowmesh.LoadFile(file)
			if err != nil {
				return err
			}
			fmt.Printf("%s: ok\n", wf.Name())
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "workflow document (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func printResult(result *workflow.Result) {
	if result == nil {
		return
	}
	fmt.Printf("status: %s (%d steps, %s)\n", result.Status, len(result.History), result.Duration)
	if result.FinalOutput != "" {
		fmt.Printf("\n%s\n", result.FinalOutput)
	}
	for _, rec := range result.History {
		if rec.Err != nil {
			fmt.Fprintf(os.Stderr, "step %s failed: %v\n", rec.Step, rec.Err)
		}
	}
}
