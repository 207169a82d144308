package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/updohilo/updohilo/pkg/pdb"
	"github.com/updohilo/updohilo/pkg/transports/fs"
)

// inspection describes a local resource file.
type inspection struct {
	Path   string   `json:"path" yaml:"path"`
	MIME   string   `json:"mime" yaml:"mime"`
	Text   bool     `json:"text" yaml:"text"`
	Chunks int      `json:"chunks,omitempty" yaml:"chunks,omitempty"`
	Chains []string `json:"chains,omitempty" yaml:"chains,omitempty"`
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>...",
		Short: "Detect the content type of local resource files",
		Long: `Detect the content type of local resource files by sniffing their
content. Text files that hold coordinate records also report their chunk
count and chains.`,
		Example: `  updohilo inspect target.pdb box.pdb candidate.smi`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transport := fs.New("")
			out := make([]inspection, 0, len(args))

			for _, path := range args {
				mime, err := fs.DetectFile(path)
				if err != nil {
					return err
				}
				info := inspection{Path: path, MIME: mime, Text: fs.IsText(mime)}

				if info.Text {
					content, err := transport.Fetch(cmd.Context(), path)
					if err != nil {
						return fmt.Errorf("failed to read %s: %w", path, err)
					}
					if chunks := pdb.Chunk(string(content), pdb.DefaultChunkSize); len(chunks) > 0 {
						info.Chunks = len(chunks)
						info.Chains = chunks.Chains()
					}
				}
				out = append(out, info)
			}
			return render(cmd.OutOrStdout(), out)
		},
	}
}
