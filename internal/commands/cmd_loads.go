package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/loadctl/internal/api"
	"github.com/hay-kot/loadctl/internal/printer"
)

type LoadsCmd struct {
	flags *Flags

	status string
	asJSON bool
}

// NewLoadsCmd creates the loads and drivers commands.
func NewLoadsCmd(flags *Flags) *LoadsCmd {
	return &LoadsCmd{flags: flags}
}

// Register adds the loads and drivers commands to the application.
func (cmd *LoadsCmd) Register(app *cli.Command) *cli.Command {
	jsonFlag := func() cli.Flag {
		return &cli.BoolFlag{
			Name:        "json",
			Usage:       "print JSON instead of a table",
			Destination: &cmd.asJSON,
		}
	}

	app.Commands = append(app.Commands,
		&cli.Command{
			Name:  "loads",
			Usage: "Browse and accept freight loads",
			Commands: []*cli.Command{
				{
					Name:        "ls",
					Usage:       "List loads",
					UsageText:   "loadctl loads ls [--status <status>] [--json]",
					Description: "Displays a table of loads visible to your company, optionally filtered by status.",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:        "status",
							Aliases:     []string{"s"},
							Usage:       "only show loads with this status (e.g. open, accepted, delivered)",
							Destination: &cmd.status,
						},
						jsonFlag(),
					},
					Action: cmd.runList,
				},
				{
					Name:        "accept",
					Usage:       "Accept an offered load",
					UsageText:   "loadctl loads accept <id>",
					Description: "Accepts the load on behalf of your company.",
					Action:      cmd.runAccept,
				},
			},
		},
		&cli.Command{
			Name:  "drivers",
			Usage: "Browse your company's drivers",
			Commands: []*cli.Command{
				{
					Name:        "ls",
					Usage:       "List drivers",
					UsageText:   "loadctl drivers ls [--json]",
					Description: "Displays a table of your company's drivers. Use the ID with 'loadctl track driver'.",
					Flags:       []cli.Flag{jsonFlag()},
					Action:      cmd.runDrivers,
				},
			},
		},
	)

	return app
}

func (cmd *LoadsCmd) runList(ctx context.Context, c *cli.Command) error {
	loads, err := cmd.flags.API.ListLoads(ctx, cmd.status)
	if err != nil {
		return err
	}

	out := c.Root().Writer
	if cmd.asJSON {
		return encodeJSON(out, loads)
	}

	if len(loads) == 0 {
		printer.Ctx(ctx).Infof("No loads found")
		return nil
	}

	printLoads(out, loads)
	return nil
}

func (cmd *LoadsCmd) runAccept(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected <id>, got %d argument(s)", c.NArg())
	}

	load, err := cmd.flags.API.AcceptLoad(ctx, c.Args().First())
	if err != nil {
		return err
	}

	printer.Ctx(ctx).Successf("Accepted load %s (%s)", orDash(load.Reference), orDash(load.Status))
	return nil
}

func (cmd *LoadsCmd) runDrivers(ctx context.Context, c *cli.Command) error {
	drivers, err := cmd.flags.API.ListDrivers(ctx)
	if err != nil {
		return err
	}

	out := c.Root().Writer
	if cmd.asJSON {
		return encodeJSON(out, drivers)
	}

	if len(drivers) == 0 {
		printer.Ctx(ctx).Infof("No drivers found")
		return nil
	}

	printDrivers(out, drivers)
	return nil
}

func printLoads(out io.Writer, loads []api.Load) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tREFERENCE\tSTATUS\tORIGIN\tDESTINATION\tPICKUP\tWEIGHT")

	for _, l := range loads {
		pickup := "-"
		if !l.PickupAt.IsZero() {
			pickup = l.PickupAt.Local().Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.0f\n",
			l.ID, orDash(l.Reference), orDash(l.Status), orDash(l.Origin), orDash(l.Destination), pickup, l.Weight)
	}

	_ = w.Flush()
}

func printDrivers(out io.Writer, drivers []api.Driver) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tPHONE\tSTATUS")

	for _, d := range drivers {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, orDash(d.Name), orDash(d.Phone), orDash(d.Status))
	}

	_ = w.Flush()
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
