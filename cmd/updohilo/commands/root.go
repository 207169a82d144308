package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/updohilo/updohilo/pkg/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "updohilo",
		Short: "updohilo - resource pipeline for iterative docking",
		Long: `updohilo moves named resources through fetch, compute, publish and remote
compute stages, then loops back to candidate generation while the retry
verdict asks for another round.

Features:
  - Pipeline definitions in CUE, YAML or JSON
  - file, http(s), sftp and in-memory transports
  - Coordinate-record (PDB) chunking
  - Starlark and WASM inter-morphism plugins
  - Rego retry verdicts with hot reload
  - Run history in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "pipeline definition file (.cue, .yaml or .json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newChunkCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newInspectCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// loadConfig loads the --config file, or the defaults when none is given.
func loadConfig(ctx context.Context) (*config.PipelineConfig, error) {
	if configPath == "" {
		return config.DefaultPipelineConfig(), nil
	}
	return config.NewLoader().LoadFile(ctx, configPath)
}

// render writes v as indented JSON with --json and as YAML otherwise.
func render(w io.Writer, v interface{}) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(cmd.OutOrStdout(), map[string]string{
				"version":    version,
				"commit":     commit,
				"build_date": buildDate,
			})
		},
	}
}
