package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type regionsOptions struct {
	JSON bool
}

func NewRegionsCmd() *cobra.Command {
	options := regionsOptions{}
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "List the AWS regions agents can query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := newResourceBackend(getFileSystem(cmd.Context()), getConfig(cmd.Context()).Resources)
			if err != nil {
				return err
			}
			defer closeBackend(backend)

			regions, err := backend.ListRegions(cmd.Context())
			if err != nil {
				return err
			}

			if options.JSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(regions)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME")
			for _, region := range regions {
				fmt.Fprintf(w, "%s\t%s\n", region.Code, region.Name)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&options.JSON, "json", false, "print the regions as JSON")
	return cmd
}
