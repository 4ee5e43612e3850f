package utils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferredWriter(t *testing.T) {
	var d DeferredWriter

	_, err := d.Write([]byte("one\n"))
	require.NoError(t, err)
	_, err = d.Write([]byte("two\n"))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, d.Flush(&out))
	assert.Equal(t, "one\ntwo\n", out.String())

	out.Reset()
	require.NoError(t, d.Flush(&out))
	assert.Empty(t, out.String())
}

type recordingWriter struct {
	writes []string
}

func (r *recordingWriter) Write(p []byte) (int, error) {
	r.writes = append(r.writes, string(p))
	return len(p), nil
}

func TestDeferredWriter_FlushesPerLine(t *testing.T) {
	var d DeferredWriter
	_, _ = d.Write([]byte("{\"a\":1}\n{\"b\":2}\n"))

	rec := &recordingWriter{}
	require.NoError(t, d.Flush(rec))
	assert.Equal(t, []string{"{\"a\":1}\n", "{\"b\":2}\n"}, rec.writes)
}
