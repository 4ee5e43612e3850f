package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hay-kot/criterio"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/loadctl/internal/core/config"
	"github.com/hay-kot/loadctl/internal/printer"
)

// configSections are the top-level config keys, in report order.
var configSections = []string{"api", "stream", "tracking", "notifications", "data_dir"}

type ConfigValidateCmd struct {
	flags  *Flags
	format string
}

// NewConfigValidateCmd creates a new config validate command.
func NewConfigValidateCmd(flags *Flags) *ConfigValidateCmd {
	return &ConfigValidateCmd{flags: flags}
}

// Register adds the config validate command to the application.
func (cmd *ConfigValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Validate configuration file",
				UsageText: "loadctl config validate [--format text|json]",
				Description: `Checks the effective configuration after flag and environment overrides:
endpoint URLs and schemes, timeouts, reconnect backoff bounds, and
notification mute patterns. Exits 1 when any field is invalid.`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "format",
						Usage:       "output format (text, json)",
						Value:       "text",
						Destination: &cmd.format,
					},
				},
				Action: cmd.run,
			},
		},
	})

	return app
}

// configIssue is one error or warning attached to a config field.
type configIssue struct {
	Level   string `json:"level"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i configIssue) section() string {
	section, _, _ := strings.Cut(i.Field, ".")
	return section
}

// collectIssues flattens validation errors and warnings, ordered by field.
func collectIssues(validationErr error, warnings []config.ValidationWarning) []configIssue {
	var issues []configIssue

	var fieldErrs criterio.FieldErrors
	switch {
	case validationErr == nil:
	case errors.As(validationErr, &fieldErrs):
		for _, fe := range fieldErrs {
			issues = append(issues, configIssue{Level: "error", Field: fe.Field, Message: fe.Err.Error()})
		}
	default:
		issues = append(issues, configIssue{Level: "error", Message: validationErr.Error()})
	}

	for _, w := range warnings {
		issues = append(issues, configIssue{Level: "warning", Field: w.Item, Message: w.Message})
	}

	slices.SortStableFunc(issues, func(a, b configIssue) int {
		return strings.Compare(a.Field, b.Field)
	})
	return issues
}

func (cmd *ConfigValidateCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	validationErr := cfg.Validate()
	issues := collectIssues(validationErr, cfg.Warnings())

	if cmd.format == "json" {
		if err := cmd.outputJSON(c, cfg, issues); err != nil {
			return err
		}
	} else {
		cmd.outputText(printer.Ctx(ctx), cfg, issues)
	}

	if validationErr != nil {
		return cli.Exit("", 1)
	}
	return nil
}

func (cmd *ConfigValidateCmd) outputJSON(c *cli.Command, cfg *config.Config, issues []configIssue) error {
	out := struct {
		Path      string            `json:"path"`
		Valid     bool              `json:"valid"`
		Endpoints map[string]string `json:"endpoints"`
		Issues    []configIssue     `json:"issues,omitempty"`
	}{
		Path:      cmd.flags.ConfigPath,
		Valid:     !slices.ContainsFunc(issues, func(i configIssue) bool { return i.Level == "error" }),
		Endpoints: endpoints(cfg),
		Issues:    issues,
	}

	return encodeJSON(c.Root().Writer, out)
}

func endpoints(cfg *config.Config) map[string]string {
	return map[string]string{
		"api":      cfg.API.BaseURL,
		"stream":   streamURL(cfg),
		"tracking": cfg.Tracking.SocketURL,
	}
}

func (cmd *ConfigValidateCmd) outputText(p *printer.Printer, cfg *config.Config, issues []configIssue) {
	p.Printf("Config: %s", orDash(cmd.flags.ConfigPath))
	p.Printf("")

	summary := map[string]string{
		"api":           cfg.API.BaseURL,
		"stream":        streamURL(cfg),
		"tracking":      cfg.Tracking.SocketURL,
		"notifications": fmt.Sprintf("keep %d", cfg.Notifications.Max),
		"data_dir":      cfg.DataDir,
	}

	var errCount, warnCount int
	for _, section := range configSections {
		p.Section(section)

		found := false
		for _, issue := range issues {
			if issue.section() != section {
				continue
			}
			found = true
			if issue.Level == "error" {
				errCount++
				p.FailItem(issue.Field, issue.Message)
			} else {
				warnCount++
				p.WarnItem(issue.Field, issue.Message)
			}
		}

		if !found {
			p.CheckItem(orDash(summary[section]), "")
		}
	}

	// Issues outside the known sections, such as an error with no field.
	for _, issue := range issues {
		if slices.Contains(configSections, issue.section()) {
			continue
		}
		if issue.Level == "error" {
			errCount++
			p.FailItem(orDash(issue.Field), issue.Message)
		} else {
			warnCount++
			p.WarnItem(orDash(issue.Field), issue.Message)
		}
	}

	p.Printf("")
	switch {
	case errCount > 0:
		p.Errorf("%d error(s), %d warning(s)", errCount, warnCount)
	case warnCount > 0:
		p.Successf("Configuration is valid (%d warning(s))", warnCount)
	default:
		p.Successf("Configuration is valid")
	}
}
