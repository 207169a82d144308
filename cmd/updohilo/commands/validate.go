package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/updohilo/updohilo/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a pipeline definition",
		Long: `Validate a pipeline definition against the built-in schema.

This command checks:
  - CUE, YAML or JSON syntax
  - Schema conformance and field constraints
  - Location schemes and transport settings
  - Plugin and policy settings`,
		Example: `  # Validate a definition
  updohilo validate pipeline.cue

  # Validate --config and print the resolved definition
  updohilo -c pipeline.yaml validate --show`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no pipeline definition given")
			}

			log.Debug().Str("path", path).Msg("Validating pipeline definition")

			cfg, err := config.NewLoader().LoadFile(cmd.Context(), path)
			if err != nil {
				var ve config.ValidationErrors
				if errors.As(err, &ve) {
					for _, e := range ve {
						fmt.Fprintln(cmd.OutOrStdout(), e.String())
					}
					return fmt.Errorf("%s: %d validation errors", path, len(ve))
				}
				return err
			}

			if show {
				return render(cmd.OutOrStdout(), cfg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: pipeline %q is valid\n", path, cfg.Name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "print the resolved definition")

	return cmd
}
