package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/kylerisse/neustart/pkg/host"
	"github.com/kylerisse/neustart/pkg/inventory"
	"github.com/kylerisse/neustart/pkg/monitor"
	"github.com/spf13/cobra"
)

func newProbeCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run one monitoring cycle and print every host's status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			statuses, err := a.probeOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printStatuses(cmd.OutOrStdout(), statuses, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	return cmd
}

func (a *app) probeOnce(ctx context.Context) ([]host.Status, error) {
	cfg := a.store.Load()
	prober, err := newProber(cfg, a.logger)
	if err != nil {
		return nil, err
	}
	settings := monitorSettings(cfg.Monitor)
	loop := monitor.New(inventory.NewFile(cfg.Inventory.File), prober, a.logger,
		monitor.WithSettings(func() monitor.Settings { return settings }))
	if err := loop.RunCycle(ctx); err != nil {
		return nil, err
	}
	return loop.Statuses(), nil
}

func printStatuses(w io.Writer, statuses []host.Status, format string) error {
	switch format {
	case "json":
		if statuses == nil {
			statuses = []host.Status{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	case "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tHOSTNAME\tADDRESS\tPORT\tNETWORK\tSERVICE\tCHECKED")
		for _, st := range statuses {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
				st.ID, st.Hostname, st.Address, st.Port, st.Network, st.Service,
				st.LastCheck.Format(time.RFC3339))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
