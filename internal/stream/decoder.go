package stream

import (
	"bytes"
	"errors"
	"strings"
)

// MaxRecordSize bounds a single undelimited record.
const MaxRecordSize = 1 << 20

// ErrRecordTooLarge is returned by Decoder.Write when the buffered bytes
// exceed MaxRecordSize without a record delimiter. The buffer is discarded.
var ErrRecordTooLarge = errors.New("event record exceeds maximum size")

var delimiter = []byte("\n\n")

// Record is one decoded server-sent event.
type Record struct {
	Event string
	ID    string
	Data  string
}

// Decoder splits a byte stream into records. It owns a single buffer that is
// reused across records; bytes after the last delimiter stay buffered until
// more input arrives, so multi-byte characters split across reads are kept
// intact.
type Decoder struct {
	buf []byte
}

// Write appends raw stream bytes. CRLF line endings are folded to LF.
func (d *Decoder) Write(p []byte) error {
	// A CR ending the previous write may pair with an LF starting this one.
	from := max(len(d.buf)-1, 0)
	d.buf = append(d.buf, p...)
	d.buf = foldCRLF(d.buf, from)

	if len(d.buf) > MaxRecordSize && !bytes.Contains(d.buf, delimiter) {
		d.buf = d.buf[:0]
		return ErrRecordTooLarge
	}
	return nil
}

// Next returns the next complete record carrying data. Records without data
// lines, such as keep-alive comments, are consumed and skipped.
func (d *Decoder) Next() (Record, bool) {
	for {
		idx := bytes.Index(d.buf, delimiter)
		if idx < 0 {
			return Record{}, false
		}

		rec, hasData := parseRecord(d.buf[:idx])

		// Shift the remainder to the front, keeping the backing array.
		n := copy(d.buf, d.buf[idx+len(delimiter):])
		d.buf = d.buf[:n]

		if hasData {
			return rec, true
		}
	}
}

// Buffered returns the number of bytes waiting for a delimiter.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any partial record, keeping the allocated buffer.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// foldCRLF drops every CR directly followed by LF in buf[from:], in place.
func foldCRLF(buf []byte, from int) []byte {
	if bytes.IndexByte(buf[from:], '\r') < 0 {
		return buf
	}

	w := from
	for r := from; r < len(buf); r++ {
		if buf[r] == '\r' && r+1 < len(buf) && buf[r+1] == '\n' {
			continue
		}
		buf[w] = buf[r]
		w++
	}
	return buf[:w]
}

func parseRecord(raw []byte) (Record, bool) {
	var (
		rec     Record
		data    []string
		hasData bool
	)

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			rec.Event = value
		case "id":
			rec.ID = value
		}
	}

	rec.Data = strings.Join(data, "\n")
	return rec, hasData
}
