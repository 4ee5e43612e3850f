package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/loadctl/internal/api"
)

type APICmd struct {
	flags *Flags

	data    string
	headers []string
	query   []string
	raw     bool
}

// NewAPICmd creates a new api command.
func NewAPICmd(flags *Flags) *APICmd {
	return &APICmd{flags: flags}
}

// Register adds the api command to the application.
func (cmd *APICmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "api",
		Usage:     "Make an authenticated request to the backend",
		UsageText: "loadctl api <method> <endpoint> [--data JSON] [--header K=V] [--query K=V]",
		Description: `Sends a request with the stored session. A rejected access token is refreshed
once and the request retried, exactly like every other command.

The body can be given with --data, or read from stdin with --data -.

Examples:
  loadctl api GET /loads --query status=open
  loadctl api POST /loads/42/accept
  echo '{"name":"Truck 7"}' | loadctl api POST /vehicles --data -`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "data",
				Aliases:     []string{"d"},
				Usage:       "JSON request body, or - to read stdin",
				Destination: &cmd.data,
			},
			&cli.StringSliceFlag{
				Name:        "header",
				Aliases:     []string{"H"},
				Usage:       "extra request header as KEY=VALUE (repeatable)",
				Destination: &cmd.headers,
			},
			&cli.StringSliceFlag{
				Name:        "query",
				Aliases:     []string{"q"},
				Usage:       "query parameter as KEY=VALUE (repeatable)",
				Destination: &cmd.query,
			},
			&cli.BoolFlag{
				Name:        "raw",
				Usage:       "print the response body without indentation",
				Destination: &cmd.raw,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *APICmd) run(ctx context.Context, c *cli.Command) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected <method> <endpoint>, got %d argument(s)", c.NArg())
	}

	opts := api.Options{Method: strings.ToUpper(c.Args().Get(0))}

	body, err := cmd.body()
	if err != nil {
		return err
	}
	if body != nil {
		opts.Body = body
	}

	if opts.Headers, err = parsePairs("header", cmd.headers); err != nil {
		return err
	}
	if opts.Query, err = parsePairs("query", cmd.query); err != nil {
		return err
	}

	var out json.RawMessage
	if err := cmd.flags.API.Do(ctx, c.Args().Get(1), opts, &out); err != nil {
		return err
	}

	return writeJSON(c.Root().Writer, out, !cmd.raw)
}

func (cmd *APICmd) body() (json.RawMessage, error) {
	data := []byte(cmd.data)
	if cmd.data == "-" {
		var err error
		if data, err = io.ReadAll(os.Stdin); err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("--data is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func parsePairs(name string, pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --%s %q, expected KEY=VALUE", name, pair)
		}
		out[k] = v
	}
	return out, nil
}

// writeJSON prints a JSON document, indented when pretty is set. Empty
// documents print nothing.
func writeJSON(w io.Writer, doc json.RawMessage, pretty bool) error {
	if len(doc) == 0 {
		return nil
	}

	if pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, doc, "", "  "); err == nil {
			doc = buf.Bytes()
		}
	}

	_, err := fmt.Fprintf(w, "%s\n", doc)
	return err
}
