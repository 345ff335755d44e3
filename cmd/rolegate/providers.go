package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/flemzord/rolegate/internal/core"
	"github.com/flemzord/rolegate/internal/provider"
	"github.com/flemzord/rolegate/pkg/app"
	"github.com/spf13/cobra"
)

func providersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect loaded provider descriptors",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List providers, their models and required user fields",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLoaded(cmd, func(_ context.Context, loaded *app.Loaded) error {
				reg, err := core.Service[*provider.Registry](loaded.App.Context(), "provider.registry")
				if err != nil {
					return err
				}
				return printProviders(cmd.OutOrStdout(), reg)
			})
		},
	})
	return cmd
}

func printProviders(w io.Writer, reg *provider.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tAUTH\tMODELS\tFIELDS")
	for _, d := range reg.Descriptors() {
		models := make([]string, 0, len(d.Models))
		for _, m := range d.Models {
			models = append(models, m.ID)
		}
		fields := make([]string, 0, len(d.UserFields))
		for key, f := range d.UserFields {
			fields = append(fields, key+"("+string(f.Scope)+")")
		}
		sort.Strings(fields)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Label, d.AuthMode,
			orDash(strings.Join(models, ",")), orDash(strings.Join(fields, ",")))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
