package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Homiakus/motto/internal/legacyconvert"
	"github.com/Homiakus/motto/internal/parser"
)

var convertOutPath string

var convertLegacyCmd = &cobra.Command{
	Use:   "convert-legacy <legacy.yaml>",
	Short: "Convert a legacy flat button/flow document into a canonical TOML configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvertLegacy,
}

func init() {
	convertLegacyCmd.Flags().StringVarP(&convertOutPath, "out", "o", "", "output path (default: stdout)")
	rootCmd.AddCommand(convertLegacyCmd)
}

func runConvertLegacy(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	cfg, err := legacyconvert.Convert(data)
	if err != nil {
		return err
	}

	out, err := parser.Canonicalize(cfg)
	if err != nil {
		return fmt.Errorf("canonicalizing converted configuration: %w", err)
	}

	if convertOutPath == "" {
		_, err = cmd.OutOrStdout().Write(out)
		return err
	}
	return os.WriteFile(convertOutPath, out, 0o644)
}
