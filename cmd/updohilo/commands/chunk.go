package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/updohilo/updohilo/pkg/pdb"
)

func newChunkCommand() *cobra.Command {
	var (
		size    int
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "chunk <file>",
		Short: "Split a PDB file into chain-bounded chunks",
		Long: `Split the ATOM and HETATM records of a local PDB file into contiguous
chunks. A chunk never spans two chains and never holds more than --size
records. Other records are dropped.`,
		Example: `  # Print every chunk as YAML
  updohilo chunk target.pdb

  # Chunk boundaries only, as JSON
  updohilo chunk target.pdb --size 500 --summary --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if size <= 0 {
				return fmt.Errorf("--size must be positive, got %d", size)
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			chunks, err := pdb.ChunkReader(f, size)
			if err != nil {
				return fmt.Errorf("failed to chunk %s: %w", args[0], err)
			}

			if summary {
				for i := range chunks {
					chunks[i].Content = fmt.Sprintf("%d records", chunks[i].Lines())
				}
			}
			if chunks == nil {
				chunks = pdb.Chunks{}
			}
			return render(cmd.OutOrStdout(), chunks)
		},
	}

	cmd.Flags().IntVar(&size, "size", pdb.DefaultChunkSize, "maximum records per chunk")
	cmd.Flags().BoolVar(&summary, "summary", false, "replace chunk content with its record count")

	return cmd
}
