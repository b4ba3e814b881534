package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Homiakus/motto/internal/model"
)

func printConfigErrors(cmd *cobra.Command, errs []model.ConfigError) {
	for _, e := range errs {
		fmt.Fprintln(cmd.ErrOrStderr(), e.Error())
	}
}

func parseVarFlags(raw []string) map[string]model.Value {
	if len(raw) == 0 {
		return nil
	}
	vars := make(map[string]model.Value, len(raw))
	for _, kv := range raw {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				vars[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return vars
}
