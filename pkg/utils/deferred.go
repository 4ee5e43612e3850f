// Package utils contains small helpers shared by the CLI entrypoint.
package utils

import (
	"bytes"
	"io"
	"sync"
)

// DeferredWriter buffers writes until Flush is called. It holds log output
// while a full-screen program owns the terminal.
type DeferredWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (d *DeferredWriter) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Write(p)
}

// Flush writes everything buffered so far to w, one line per Write call, and
// empties the buffer. Line-at-a-time writes suit zerolog.ConsoleWriter, which
// expects a single event per call.
func (d *DeferredWriter) Flush(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.buf.Reset()

	for {
		line, err := d.buf.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := w.Write(line); werr != nil {
				return werr
			}
		}
		if err != nil {
			return nil
		}
	}
}
