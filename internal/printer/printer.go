package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hay-kot/criterio"

	"github.com/hay-kot/loadctl/internal/api"
	"github.com/hay-kot/loadctl/internal/core/notify"
)

// ANSI color codes (Tokyo Night palette)
const (
	ColorReset     = "\033[0m"
	ColorRed       = "\033[38;2;215;95;107m"  // #d75f6b
	ColorGreen     = "\033[38;2;158;206;106m" // #9ece6a
	ColorYellow    = "\033[38;2;224;175;104m" // #e0af68
	ColorBlue      = "\033[38;2;122;162;247m" // #7aa2f7
	ColorGray      = "\033[38;2;86;95;137m"   // #565f89
	ColorBold      = "\033[1m"
	ColorUnderline = "\033[4m"
)

// Symbols
const (
	Check = "✔"
	Cross = "✘"
	Dot   = "•"
	Bell  = "◆"
)

type ctxKey struct{}

// Printer writes user-facing output. It is safe for concurrent use so that
// background streams can toast while a command prints.
type Printer struct {
	mu     sync.Mutex
	writer io.Writer
	color  bool
}

// New creates a new Printer that writes to the given writer
func New(w io.Writer) *Printer {
	return &Printer{writer: w, color: true}
}

// WithoutColor disables ANSI escapes, used for piped output.
func (p *Printer) WithoutColor() *Printer {
	p.color = false
	return p
}

// NewContext returns a context with the printer attached
func NewContext(ctx context.Context, p *Printer) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// Ctx retrieves the printer from context, or creates a default one
func Ctx(ctx context.Context) *Printer {
	if p, ok := ctx.Value(ctxKey{}).(*Printer); ok {
		return p
	}
	return New(os.Stderr)
}

// FatalError prints a formatted error box and does NOT exit
// Caller should handle exit code
func (p *Printer) FatalError(err error) {
	if err == nil {
		return
	}

	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		p.printValidationErrors(err, fieldErrs)
		return
	}

	title, detail := "Error", err.Error()
	var reqErr *api.RequestError
	switch {
	case errors.Is(err, api.ErrSessionExpired):
		title, detail = "Session Expired", "run `loadctl login` to sign in again"
	case errors.As(err, &reqErr):
		title = fmt.Sprintf("Request Failed (%d)", reqErr.Status)
		detail = reqErr.Message()
	}

	p.box(title, detail)
}

func (p *Printer) box(title string, lines ...string) {
	var b strings.Builder
	b.WriteString(p.colorize(ColorRed, "╭ "+title) + "\n")
	for _, l := range lines {
		b.WriteString(p.colorize(ColorRed, "│") + " " + p.colorize(ColorGray, l) + "\n")
	}
	b.WriteString(p.colorize(ColorRed, "╵") + "\n")
	p.write(b.String())
}

// printValidationErrors formats criterio.FieldErrors one field per line.
func (p *Printer) printValidationErrors(wrappedErr error, fieldErrs criterio.FieldErrors) {
	// Recover the wrapping prefix, e.g. "load config: invalid config"
	errStr := wrappedErr.Error()
	prefix := ""
	if idx := strings.Index(errStr, fieldErrs.Error()); idx > 0 {
		prefix = strings.TrimSuffix(errStr[:idx], ": ")
	}

	var b strings.Builder
	b.WriteString(p.colorize(ColorRed, "╭ Validation Error") + "\n")
	if prefix != "" {
		b.WriteString(p.colorize(ColorRed, "│") + " " + p.colorize(ColorGray, prefix) + "\n")
		b.WriteString(p.colorize(ColorRed, "│") + "\n")
	}
	for _, fe := range fieldErrs {
		b.WriteString(p.colorize(ColorRed, "│") + " " + p.colorize(ColorRed, Cross) + " ")
		if fe.Field != "" {
			b.WriteString(p.colorize(ColorGray, fe.Field+": "))
		}
		b.WriteString(fe.Err.Error() + "\n")
	}
	b.WriteString(p.colorize(ColorRed, "╵") + "\n")
	p.write(b.String())
}

// Toast surfaces a notification as a one-line message.
func (p *Printer) Toast(n notify.Notification) {
	stamp := n.ReceivedAt.Format("15:04:05")
	typ := n.Type
	if typ == "" {
		typ = "notice"
	}
	p.write(p.colorize(ColorBlue, Bell+" "+typ) + " " + n.Message + " " + p.colorize(ColorGray, stamp) + "\n")
}

// Errorf prints an error message in red
func (p *Printer) Errorf(format string, args ...any) {
	p.symbolf(ColorRed, Cross, format, args...)
}

// Successf prints a success message in green
func (p *Printer) Successf(format string, args ...any) {
	p.symbolf(ColorGreen, Check, format, args...)
}

// Infof prints an info message in gray
func (p *Printer) Infof(format string, args ...any) {
	p.symbolf(ColorGray, Dot, format, args...)
}

// Warnf prints a warning message in yellow
func (p *Printer) Warnf(format string, args ...any) {
	p.symbolf(ColorYellow, Dot, format, args...)
}

// Printf prints a plain message without colors
func (p *Printer) Printf(format string, args ...any) {
	p.write(fmt.Sprintf(format, args...) + "\n")
}

// Section prints a section header (bold + underlined)
func (p *Printer) Section(title string) {
	p.write(p.style(ColorBold+ColorUnderline, title) + "\n")
}

// CheckItem prints a success item with green checkmark
func (p *Printer) CheckItem(label, detail string) {
	p.item(ColorGreen, Check, label, detail)
}

// WarnItem prints a warning item with yellow dot
func (p *Printer) WarnItem(label, detail string) {
	p.item(ColorYellow, Dot, label, detail)
}

// FailItem prints a failure item with red cross
func (p *Printer) FailItem(label, detail string) {
	p.item(ColorRed, Cross, label, detail)
}

func (p *Printer) item(color, symbol, label, detail string) {
	line := "  " + p.colorize(color, symbol) + " " + label
	if detail != "" {
		line += ": " + detail
	}
	p.write(line + "\n")
}

func (p *Printer) symbolf(color, symbol, format string, args ...any) {
	p.write(p.colorize(color, symbol+" "+fmt.Sprintf(format, args...)) + "\n")
}

func (p *Printer) write(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.writer, s)
}

func (p *Printer) colorize(color, text string) string {
	return p.style(color, text)
}

func (p *Printer) style(codes, text string) string {
	if !p.color {
		return text
	}
	return codes + text + ColorReset
}
