package printer

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"

	"github.com/hay-kot/loadctl/internal/api"
	"github.com/hay-kot/loadctl/internal/core/notify"
)

func newPlain() (*Printer, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(&buf).WithoutColor(), &buf
}

func TestFatalError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains []string
	}{
		{
			name:     "plain",
			err:      errors.New("boom"),
			contains: []string{"╭ Error", "│ boom"},
		},
		{
			name:     "session expired",
			err:      fmt.Errorf("list loads: %w", api.ErrSessionExpired),
			contains: []string{"Session Expired", "loadctl login"},
		},
		{
			name:     "request failed",
			err:      fmt.Errorf("accept load: %w", &api.RequestError{Status: 409, Body: "already accepted"}),
			contains: []string{"Request Failed (409)", "already accepted"},
		},
		{
			name: "validation",
			err: fmt.Errorf("invalid config: %w", criterio.FieldErrors{
				{Field: "api.base_url", Err: errors.New("cannot be empty")},
			}),
			contains: []string{"Validation Error", "invalid config", "api.base_url: cannot be empty"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, buf := newPlain()
			p.FatalError(tt.err)
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}

func TestFatalError_Nil(t *testing.T) {
	p, buf := newPlain()
	p.FatalError(nil)
	assert.Empty(t, buf.String())
}

func TestToast(t *testing.T) {
	p, buf := newPlain()
	p.Toast(notify.Notification{
		Type:       "load.accepted",
		Message:    "Load L-1 accepted",
		ReceivedAt: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
	})
	assert.Equal(t, "◆ load.accepted Load L-1 accepted 15:04:05\n", buf.String())
}

func TestColorToggle(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Successf("done %d", 1)
	assert.Contains(t, buf.String(), ColorGreen)

	p, plain := newPlain()
	p.Successf("done %d", 1)
	assert.Equal(t, "✔ done 1\n", plain.String())
}
