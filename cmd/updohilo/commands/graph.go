package commands

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/updohilo/updohilo/pkg/config"
	"github.com/updohilo/updohilo/pkg/engine"
	"github.com/updohilo/updohilo/pkg/pipeline"
)

// graphNode is the structured form of a node.
type graphNode struct {
	ID   string          `json:"id" yaml:"id"`
	Kind engine.NodeKind `json:"kind" yaml:"kind"`
}

// graphDocument is the structured form of a topology.
type graphDocument struct {
	Nodes       []graphNode         `json:"nodes" yaml:"nodes"`
	Transitions []engine.Transition `json:"transitions" yaml:"transitions"`
}

func newGraphCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the pipeline topology",
		Long: `Print the default pipeline topology as Graphviz DOT, YAML or JSON.
The retry edge is dashed in DOT output.`,
		Example: `  updohilo graph | dot -Tsvg > pipeline.svg
  updohilo graph --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			candidate := cfg.Seeds.Candidate
			if candidate == "" {
				candidate = pipeline.CandidateLocation(config.DefaultCandidateDir, time.Now())
			}
			// Topology only: the dry-run transport keeps graph building free of I/O.
			runCfg := cfg.Run.RunConfig().WithDefaults()
			runCfg.DryRun = true
			g, err := pipeline.Build(candidate,
				pipeline.WithTransport(pipeline.DefaultTransport("", runCfg, zerolog.Nop())),
			)
			if err != nil {
				return err
			}

			if jsonOutput {
				format = "json"
			}
			switch format {
			case "dot":
				_, err := fmt.Fprint(cmd.OutOrStdout(), g.ToDOT())
				return err
			case "yaml", "json":
				doc := graphDocument{Transitions: g.Transitions()}
				for _, n := range g.Nodes() {
					doc.Nodes = append(doc.Nodes, graphNode{ID: n.ID(), Kind: n.Kind()})
				}
				jsonOutput = format == "json"
				return render(cmd.OutOrStdout(), doc)
			default:
				return fmt.Errorf("unsupported format %q (want dot, yaml or json)", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "dot", "output format: dot, yaml or json")

	return cmd
}
