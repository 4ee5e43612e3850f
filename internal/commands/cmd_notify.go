package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/loadctl/internal/core/notify"
	"github.com/hay-kot/loadctl/internal/printer"
	"github.com/hay-kot/loadctl/internal/store/jsonfile"
	"github.com/hay-kot/loadctl/internal/stream"
	"github.com/hay-kot/loadctl/pkg/tmpl"
)

// DefaultNotificationFormat renders one followed notification per line.
const DefaultNotificationFormat = "{{ clock .ReceivedAt }}  {{ .Type }}  {{ .Message }}"

type NotifyCmd struct {
	flags *Flags

	// follow flags
	format string
	asJSON bool
	toast  bool

	// ls flags
	last int
}

// NewNotifyCmd creates a new notify command.
func NewNotifyCmd(flags *Flags) *NotifyCmd {
	return &NotifyCmd{flags: flags}
}

// Register adds the notify command to the application.
func (cmd *NotifyCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "notify",
		Usage: "Follow and browse server notifications",
		Description: `Notification commands for the backend event stream.

Received notifications are kept in $XDG_DATA_HOME/loadctl/notifications.json,
capped at notifications.max entries.`,
		Commands: []*cli.Command{
			cmd.followCmd(),
			cmd.listCmd(),
			cmd.clearCmd(),
		},
	})

	return app
}

func (cmd *NotifyCmd) followCmd() *cli.Command {
	return &cli.Command{
		Name:      "follow",
		Usage:     "Stream notifications as they arrive",
		UsageText: "loadctl notify follow [--format TEMPLATE] [--json] [--toast]",
		Description: `Keeps the event stream open and prints each notification. The stream reconnects
with capped exponential backoff until interrupted.

The --format template receives the notification fields .ID, .Type, .Message
and .ReceivedAt, plus the functions clock, upper and json.

Examples:
  loadctl notify follow
  loadctl notify follow --format '{{ .Type | upper }}: {{ .Message }}'
  loadctl notify follow --json | jq .message`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Aliases:     []string{"f"},
				Usage:       "Go template for each line",
				Value:       DefaultNotificationFormat,
				Destination: &cmd.format,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print one JSON object per notification",
				Destination: &cmd.asJSON,
			},
			&cli.BoolFlag{
				Name:        "toast",
				Usage:       "also show unmuted notifications as toasts on stderr",
				Destination: &cmd.toast,
			},
		},
		Action: cmd.runFollow,
	}
}

func (cmd *NotifyCmd) listCmd() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List received notifications",
		UsageText: "loadctl notify ls [--last N] [--json]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "last",
				Aliases:     []string{"n"},
				Usage:       "show only the last N notifications",
				Destination: &cmd.last,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print JSON instead of a table",
				Destination: &cmd.asJSON,
			},
		},
		Action: cmd.runList,
	}
}

func (cmd *NotifyCmd) clearCmd() *cli.Command {
	return &cli.Command{
		Name:      "clear",
		Usage:     "Forget all received notifications",
		UsageText: "loadctl notify clear",
		Action:    cmd.runClear,
	}
}

func (cmd *NotifyCmd) runFollow(ctx context.Context, c *cli.Command) error {
	tpl, err := tmpl.Parse(cmd.format)
	if err != nil {
		return fmt.Errorf("invalid --format: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	feed := notify.NewFeed(cmd.flags.Config.Notifications.Max)
	sub, cancel := feed.Subscribe(64)
	defer cancel()

	client := cmd.flags.newStreamClient(feed)
	if cmd.toast {
		client.WithToaster(printer.Ctx(ctx))
	}

	logger := log.With().Str("component", "notify").Logger()
	client.OnStateChange(func(s stream.State) {
		logger.Debug().Stringer("state", s).Msg("event stream state")
	})

	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx)
	}()

	out := c.Root().Writer
	for {
		select {
		case n := <-sub:
			line, err := renderNotification(tpl, cmd.asJSON, n)
			if err != nil {
				client.Close()
				<-done
				return err
			}
			_, _ = fmt.Fprintln(out, line)

		case err := <-done:
			if err == nil && client.State() == stream.StateIdle {
				return errors.New("not signed in, run 'loadctl login' first")
			}
			return err
		}
	}
}

// renderNotification formats n as JSON or through tpl.
func renderNotification(tpl *tmpl.Template, asJSON bool, n notify.Notification) (string, error) {
	if asJSON {
		data, err := json.Marshal(n)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	line, err := tpl.Render(n)
	if err != nil {
		return "", fmt.Errorf("render notification: %w", err)
	}
	return line, nil
}

func (cmd *NotifyCmd) runList(ctx context.Context, c *cli.Command) error {
	notifications, err := cmd.historyStore().List(ctx, cmd.last)
	if err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}

	out := c.Root().Writer
	if cmd.asJSON {
		return encodeJSON(out, notifications)
	}

	if len(notifications) == 0 {
		printer.Ctx(ctx).Infof("No notifications")
		return nil
	}

	printNotifications(out, notifications)
	return nil
}

func (cmd *NotifyCmd) runClear(ctx context.Context, _ *cli.Command) error {
	if err := cmd.historyStore().Clear(ctx); err != nil {
		return fmt.Errorf("clear notifications: %w", err)
	}

	printer.Ctx(ctx).Successf("Notifications cleared")
	return nil
}

func (cmd *NotifyCmd) historyStore() *jsonfile.NotificationStore {
	cfg := cmd.flags.Config
	return jsonfile.NewNotificationStore(cfg.NotificationsFile()).WithMax(cfg.Notifications.Max)
}

func printNotifications(out io.Writer, notifications []notify.Notification) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RECEIVED\tTYPE\tMESSAGE")

	for _, n := range notifications {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", n.ReceivedAt.Local().Format("2006-01-02 15:04:05"), orDash(n.Type), n.Message)
	}

	_ = w.Flush()
}
