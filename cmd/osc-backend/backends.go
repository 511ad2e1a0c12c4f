package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/opensciencecatalog/osc-backend/internal/backends"
	"github.com/opensciencecatalog/osc-backend/internal/config"
	"github.com/spf13/cobra"
)

func newBackendsCmd() *cobra.Command {
	var (
		configPath  string
		mappingPath string
	)

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List the remote processing backends",
		Long: "Prints the backend mapping. The mapping file comes from --mapping, " +
			"or else from the config file and environment.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackends(cmd, configPath, mappingPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (optional)")
	cmd.Flags().StringVarP(&mappingPath, "mapping", "m", "", "path to the backend mapping file")
	return cmd
}

func runBackends(cmd *cobra.Command, configPath, mappingPath string) error {
	if mappingPath == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		mappingPath = cfg.Processing.BackendMappingFile
	}
	if mappingPath == "" {
		return fmt.Errorf("no backend mapping file configured")
	}
	registry, err := backends.Load(mappingPath, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	names := registry.Names()
	if len(names) == 0 {
		fmt.Fprintln(out, "No backends configured.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tURL")
	for _, name := range names {
		u, _ := registry.Resolve(name)
		fmt.Fprintf(w, "%s\t%s\n", name, u)
	}
	w.Flush()
	return nil
}
