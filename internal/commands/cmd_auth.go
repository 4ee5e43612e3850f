package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/loadctl/internal/api"
	"github.com/hay-kot/loadctl/internal/core/session"
	"github.com/hay-kot/loadctl/internal/printer"
	"github.com/hay-kot/loadctl/internal/styles"
)

type AuthCmd struct {
	flags *Flags

	// login flags
	email    string
	password string

	// whoami flags
	remote bool
}

// NewAuthCmd creates the login, logout, whoami and refresh commands.
func NewAuthCmd(flags *Flags) *AuthCmd {
	return &AuthCmd{flags: flags}
}

// Register adds the authentication commands to the application.
func (cmd *AuthCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "login",
			Usage:     "Sign in to the logistics backend",
			UsageText: "loadctl login [--email <email>] [--password <password>]",
			Description: `Signs in with email and password and stores the session in the data directory.

When either flag is missing and stdin is a terminal, an interactive form asks for it.`,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:        "email",
					Aliases:     []string{"e"},
					Usage:       "account email",
					Sources:     cli.EnvVars("LOADCTL_EMAIL"),
					Destination: &cmd.email,
				},
				&cli.StringFlag{
					Name:        "password",
					Usage:       "account password",
					Sources:     cli.EnvVars("LOADCTL_PASSWORD"),
					Destination: &cmd.password,
				},
			},
			Action: cmd.runLogin,
		},
		&cli.Command{
			Name:        "logout",
			Usage:       "Sign out and forget the stored session",
			UsageText:   "loadctl logout",
			Description: "Revokes the refresh token on the backend and clears the local session. The local session is cleared even if the backend cannot be reached.",
			Action:      cmd.runLogout,
		},
		&cli.Command{
			Name:        "whoami",
			Usage:       "Show the signed-in user",
			UsageText:   "loadctl whoami [--remote]",
			Description: "Prints the stored profile and access token expiry. With --remote the profile is fetched from the backend first.",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:        "remote",
					Aliases:     []string{"r"},
					Usage:       "fetch the profile from the backend",
					Destination: &cmd.remote,
				},
			},
			Action: cmd.runWhoami,
		},
		&cli.Command{
			Name:        "refresh",
			Usage:       "Exchange the refresh token for a new token pair",
			UsageText:   "loadctl refresh",
			Description: "Forces a token refresh. Tokens are otherwise refreshed on demand when a request is rejected.",
			Action:      cmd.runRefresh,
		},
	)

	return app
}

func (cmd *AuthCmd) runLogin(ctx context.Context, _ *cli.Command) error {
	p := printer.Ctx(ctx)

	if cmd.email == "" || cmd.password == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("--email and --password are required when stdin is not a terminal")
		}
		if err := cmd.prompt(ctx); err != nil {
			return err
		}
	}

	sess, err := cmd.flags.API.Login(ctx, strings.TrimSpace(cmd.email), cmd.password)
	if err != nil {
		return err
	}

	p.Successf("Signed in as %s", describeUser(sess.User))
	return nil
}

func (cmd *AuthCmd) prompt(ctx context.Context) error {
	fmt.Fprintln(os.Stderr, styles.BannerStyle.Render(styles.Banner))
	fmt.Fprintln(os.Stderr)

	required := func(field string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s is required", field)
			}
			return nil
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Email").
				Placeholder("dispatch@example.com").
				Value(&cmd.email).
				Validate(required("email")),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&cmd.password).
				Validate(required("password")),
		),
	).WithTheme(styles.FormTheme())

	if err := form.RunWithContext(ctx); err != nil {
		return fmt.Errorf("login form: %w", err)
	}
	return nil
}

func (cmd *AuthCmd) runLogout(ctx context.Context, _ *cli.Command) error {
	p := printer.Ctx(ctx)

	err := cmd.flags.API.Logout(ctx)
	if errors.Is(err, session.ErrNoSession) {
		p.Infof("Not signed in")
		return nil
	}
	if err != nil {
		return err
	}

	p.Successf("Signed out")
	return nil
}

func (cmd *AuthCmd) runWhoami(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	if cmd.remote {
		if _, err := cmd.flags.API.Me(ctx); err != nil {
			return err
		}
	}

	sess, err := cmd.flags.Sessions.Get(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !sess.Authenticated() {
		p.Infof("Not signed in. Run 'loadctl login' to sign in")
		return nil
	}

	out := c.Root().Writer
	if u := sess.User; u != nil {
		fmt.Fprintf(out, "User:     %s\n", describeUser(u))
		fmt.Fprintf(out, "Role:     %s\n", orDash(u.Role))
	}
	fmt.Fprintf(out, "Company:  %s\n", orDash(sess.CompanyID()))
	fmt.Fprintf(out, "Token:    %s\n", tokenStatus(sess.AccessToken, time.Now()))
	return nil
}

func (cmd *AuthCmd) runRefresh(ctx context.Context, _ *cli.Command) error {
	p := printer.Ctx(ctx)

	if err := cmd.flags.API.RefreshSession(ctx); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return fmt.Errorf("not signed in: %w", api.ErrSessionExpired)
		}
		return err
	}

	sess, err := cmd.flags.Sessions.Get(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	p.Successf("Tokens refreshed, access token %s", tokenStatus(sess.AccessToken, time.Now()))
	return nil
}

func describeUser(u *session.Profile) string {
	if u == nil {
		return "unknown user"
	}
	switch {
	case u.Name != "" && u.Email != "":
		return fmt.Sprintf("%s <%s>", u.Name, u.Email)
	case u.Email != "":
		return u.Email
	case u.Name != "":
		return u.Name
	default:
		return u.ID
	}
}

// tokenStatus describes the expiry of an access token as read from its claims.
func tokenStatus(token string, now time.Time) string {
	claims, err := session.ParseClaims(token)
	switch {
	case err != nil:
		return "opaque (expiry unknown)"
	case claims.ExpiresAt.IsZero():
		return "valid (no expiry)"
	case claims.Expired(now):
		return fmt.Sprintf("expired %s ago", now.Sub(claims.ExpiresAt).Round(time.Second))
	default:
		return fmt.Sprintf("expires in %s", claims.ExpiresAt.Sub(now).Round(time.Second))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
