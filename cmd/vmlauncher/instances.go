package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/aledbf/vmlauncher/internal/host/vm/qemu"
)

var instancesCommand = &cli.Command{
	Name:  "instances",
	Usage: "list QEMU instances recorded in the state directory",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print records as JSON",
		},
	},
	Action: func(c *cli.Context) error {
		records, err := qemu.ListInstances(appConfig(c).StateDir)
		if err != nil {
			return err
		}
		if records == nil {
			records = []qemu.Instance{}
		}

		if c.Bool("json") {
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tHANDLE\tPID\tCPUS\tMEMORY\tNETWORK\tCREATED")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%dMiB\t%s\t%s\n",
				r.ID, r.Handle, r.PID, r.CPUs, r.MemoryMiB, r.NetworkMode, r.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}
