package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/loadctl/internal/core/notify"
	"github.com/hay-kot/loadctl/internal/printer"
	"github.com/hay-kot/loadctl/internal/tracking"
	"github.com/hay-kot/loadctl/internal/tui"
	"github.com/hay-kot/loadctl/pkg/tmpl"
)

// DefaultPositionFormat renders one position update per line.
const DefaultPositionFormat = "{{ clock .Position.At }}  {{ .Kind }} {{ .ID }}  {{ coord .Position.Lat }}, {{ coord .Position.Lng }}"

type TrackCmd struct {
	flags *Flags

	tui    bool
	format string
	noFeed bool
}

// NewTrackCmd creates a new track command.
func NewTrackCmd(flags *Flags) *TrackCmd {
	return &TrackCmd{flags: flags}
}

// Register adds the track command to the application.
func (cmd *TrackCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "track",
		Usage: "Follow the live position of a driver or assignment",
		Description: `Joins the live tracking room for one driver or assignment and prints every
position update. The socket reconnects on its own and rejoins the room.

Assignments start from their last known location when the backend has one.

Examples:
  loadctl track driver 42
  loadctl track assignment 1337 --tui
  loadctl track driver 42 --format '{{ coord .Position.Lat }},{{ coord .Position.Lng }}'`,
		Commands: []*cli.Command{
			cmd.kindCmd(tracking.KindDriver, "Follow a driver"),
			cmd.kindCmd(tracking.KindAssignment, "Follow an assignment"),
		},
	})

	return app
}

func (cmd *TrackCmd) kindCmd(kind tracking.Kind, usage string) *cli.Command {
	return &cli.Command{
		Name:      string(kind),
		Usage:     usage,
		UsageText: fmt.Sprintf("loadctl track %s <id> [--tui] [--format TEMPLATE]", kind),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "tui",
				Usage:       "open the interactive dashboard",
				Destination: &cmd.tui,
			},
			&cli.StringFlag{
				Name:        "format",
				Aliases:     []string{"f"},
				Usage:       "Go template for each line (ignored with --tui)",
				Value:       DefaultPositionFormat,
				Destination: &cmd.format,
			},
			&cli.BoolFlag{
				Name:        "no-feed",
				Usage:       "do not open the notification stream in the dashboard",
				Destination: &cmd.noFeed,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected <id>, got %d argument(s)", c.NArg())
			}
			return cmd.run(ctx, c, kind, c.Args().First())
		},
	}
}

func (cmd *TrackCmd) run(ctx context.Context, c *cli.Command, kind tracking.Kind, id string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.tui {
		return cmd.runTUI(ctx, kind, id)
	}
	return cmd.runLines(ctx, c, kind, id)
}

func (cmd *TrackCmd) runLines(ctx context.Context, c *cli.Command, kind tracking.Kind, id string) error {
	tpl, err := tmpl.Parse(cmd.format)
	if err != nil {
		return fmt.Errorf("invalid --format: %w", err)
	}

	tracker := cmd.flags.newTracker().WithToaster(printer.Ctx(ctx))
	defer tracker.Close()

	updates, cancel := tracker.Positions().Subscribe(16)
	defer cancel()

	if err := tracker.Select(ctx, kind, id); err != nil {
		return err
	}

	out := c.Root().Writer
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			line, err := tpl.Render(u)
			if err != nil {
				return fmt.Errorf("render position: %w", err)
			}
			_, _ = fmt.Fprintln(out, line)
		}
	}
}

func (cmd *TrackCmd) runTUI(ctx context.Context, kind tracking.Kind, id string) error {
	var (
		toasts  = tui.NewToasts(8)
		feed    = notify.NewFeed(cmd.flags.Config.Notifications.Max)
		tracker = cmd.flags.newTracker().WithToaster(toasts)
	)
	defer tracker.Close()

	if err := tracker.Select(ctx, kind, id); err != nil {
		return err
	}

	opts := tui.Options{
		Kind:      kind,
		ID:        id,
		Positions: tracker.Positions(),
		Feed:      feed,
		Toasts:    toasts,
	}

	if !cmd.noFeed {
		states := tui.NewStreamStates(8)
		client := cmd.flags.newStreamClient(feed).WithToaster(toasts)
		client.OnStateChange(states.Observe)

		opts.StreamStates = states
		opts.Mute = client

		go func() {
			if err := client.Run(ctx); err != nil {
				log.Warn().Err(err).Msg("notification stream stopped")
			}
		}()
		defer client.Close()
	}

	m := tui.New(opts)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run tui: %w", err)
	}

	return nil
}
