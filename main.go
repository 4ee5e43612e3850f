package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/loadctl/internal/api"
	"github.com/hay-kot/loadctl/internal/commands"
	"github.com/hay-kot/loadctl/internal/core/config"
	"github.com/hay-kot/loadctl/internal/printer"
	"github.com/hay-kot/loadctl/pkg/utils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}

	return fmt.Sprintf("%s (%s) %s", version, short, date)
}

// unvalidatedCommands run against configuration that failed validation so
// they can report on it.
var unvalidatedCommands = []string{"config", "doctor"}

func main() {
	if err := setupLogger("info", "", nil); err != nil {
		panic(err)
	}

	var (
		p     = printer.New(os.Stderr)
		ctx   = printer.NewContext(context.Background(), p)
		flags = &commands.Flags{}
	)

	var deferredLogs *utils.DeferredWriter

	app := &cli.Command{
		Name:      "loadctl",
		Usage:     "Dispatch console for the logistics backend",
		UsageText: "loadctl [global options] command [command options]",
		Description: `loadctl signs in to the logistics backend, browses loads and drivers, follows
server notifications, and tracks drivers and assignments live on a map.

Sessions are refreshed transparently: a rejected access token is exchanged
once for a new pair and the request retried.

Run 'loadctl login' to get started.
Run 'loadctl track driver <id> --tui' to open the live dashboard.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("LOADCTL_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (optional)",
				Sources:     cli.EnvVars("LOADCTL_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("LOADCTL_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("LOADCTL_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
			&cli.StringFlag{
				Name:        "api-url",
				Usage:       "REST API base URL (overrides api.base_url)",
				Sources:     cli.EnvVars("LOADCTL_API_URL"),
				Destination: &flags.APIURL,
			},
			&cli.StringFlag{
				Name:        "stream-url",
				Usage:       "event stream base URL (overrides stream.url)",
				Sources:     cli.EnvVars("LOADCTL_STREAM_URL"),
				Destination: &flags.StreamURL,
			},
			&cli.StringFlag{
				Name:        "socket-url",
				Usage:       "tracking websocket URL (overrides tracking.socket_url)",
				Sources:     cli.EnvVars("LOADCTL_SOCKET_URL"),
				Destination: &flags.SocketURL,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			args := c.Args().Slice()

			// The dashboard owns the terminal, buffer logs to display after exit
			var deferred io.Writer
			if slices.Contains(args, "--tui") {
				deferredLogs = &utils.DeferredWriter{}
				deferred = deferredLogs
			}

			if err := setupLogger(flags.LogLevel, flags.LogFile, deferred); err != nil {
				return ctx, err
			}

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.ApplyOverrides(cfg)

			if len(args) == 0 || !slices.Contains(unvalidatedCommands, args[0]) {
				if err := cfg.Validate(); err != nil {
					return ctx, fmt.Errorf("invalid config: %w", err)
				}
			}

			flags.Build(cfg)
			return ctx, nil
		},
	}

	app = commands.NewAuthCmd(flags).Register(app)
	app = commands.NewAPICmd(flags).Register(app)
	app = commands.NewLoadsCmd(flags).Register(app)
	app = commands.NewNotifyCmd(flags).Register(app)
	app = commands.NewTrackCmd(flags).Register(app)
	app = commands.NewConfigValidateCmd(flags).Register(app)
	app = commands.NewDoctorCmd(flags).Register(app)

	exitCode := 0
	if err := app.Run(ctx, os.Args); err != nil {
		if errors.Is(err, api.ErrSessionExpired) && flags.Sessions != nil {
			if clearErr := flags.Sessions.Clear(ctx); clearErr != nil {
				log.Warn().Err(clearErr).Msg("failed to clear expired session")
			}
		}

		fmt.Println()
		printer.Ctx(ctx).FatalError(err)
		exitCode = 1
	}

	// Flush deferred logs to console after the dashboard exits
	if deferredLogs != nil {
		if err := deferredLogs.Flush(zerolog.ConsoleWriter{Out: os.Stderr}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
		}
	}

	os.Exit(exitCode)
}

func setupLogger(level string, logFile string, deferred io.Writer) error {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}

	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}

	if logFile != "" {
		// Create log directory if it doesn't exist
		logDir := filepath.Dir(logFile)
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		// Open log file
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}

		if deferred != nil {
			// Dashboard mode with explicit log file - write to both file and deferred buffer
			output = io.MultiWriter(file, deferred)
		} else {
			// Write to both console and file
			output = io.MultiWriter(
				zerolog.ConsoleWriter{Out: os.Stderr},
				file,
			)
		}
	} else if deferred != nil {
		// Dashboard mode without log file - buffer for display after exit
		output = deferred
	}

	log.Logger = log.Output(output).Level(parsedLevel)

	return nil
}
