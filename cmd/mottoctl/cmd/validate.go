package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Homiakus/motto/internal/parser"
	"github.com/Homiakus/motto/internal/template"
	"github.com/Homiakus/motto/internal/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate --config and exit non-zero on any problem, printing nothing on success",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if flagConfigPath == "" {
		return fmt.Errorf("--config is required")
	}
	data, err := os.ReadFile(flagConfigPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", flagConfigPath, err)
	}

	cfg, errs := parser.Load(data)
	if len(errs) > 0 {
		printConfigErrors(cmd, errs)
		return fmt.Errorf("%d configuration error(s)", len(errs))
	}
	if expandErrs := template.NewExpander().Expand(cfg); len(expandErrs) > 0 {
		printConfigErrors(cmd, expandErrs)
		return fmt.Errorf("%d template expansion error(s)", len(expandErrs))
	}
	if err := validator.Validate(cfg); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return fmt.Errorf("validation failed")
	}
	return nil
}
