package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/benaskins/credence/internal/service"
	"github.com/spf13/cobra"
)

var servicesCategory string

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List known providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup()
		if err != nil {
			return err
		}
		defer rt.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tFORMAT\tENV")
		for _, s := range rt.registry.All() {
			if servicesCategory != "" && s.Category != service.Category(servicesCategory) {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Category, s.KeyFormat, s.EnvVar)
		}
		return w.Flush()
	},
}

func init() {
	servicesCmd.Flags().StringVar(&servicesCategory, "category", "", "Only show one category (text, visual, video, audio)")
	rootCmd.AddCommand(servicesCmd)
}
