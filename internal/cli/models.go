package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (a *app) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPROVIDER\tMODEL\tKEY")
			for _, m := range cfg.Models {
				entry := m.ModelEntry()
				model := entry.Model
				if model == "" {
					model = m.Name
				}
				key := "-"
				switch {
				case entry.APIKey != "":
					key = "set"
				case m.APIKeyEnv != "":
					key = "missing $" + m.APIKeyEnv
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, m.Provider, model, key)
			}
			return w.Flush()
		},
	}
}
