// Package ndjson reads and writes newline-delimited JSON over pipes.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// defaultMaxLineSize bounds a single JSON line (1MB).
const defaultMaxLineSize = 1024 * 1024

// Reader reads newline-delimited JSON lines from an io.Reader.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a Reader with the default line size limit.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, defaultMaxLineSize)
}

// NewReaderSize creates a Reader that tolerates lines up to maxLineSize bytes.
func NewReaderSize(r io.Reader, maxLineSize int) *Reader {
	scanner := bufio.NewScanner(r)
	// bufio.Scanner takes the larger of max and the initial capacity as its
	// token limit, so the initial buffer must not exceed maxLineSize.
	initial := 64 * 1024
	if maxLineSize < initial {
		initial = maxLineSize
	}
	scanner.Buffer(make([]byte, 0, initial), maxLineSize)
	return &Reader{scanner: scanner}
}

// ReadLine returns the next non-empty line, or io.EOF when the stream ends.
// The returned slice is a copy and remains valid across calls.
func (r *Reader) ReadLine() ([]byte, error) {
	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Writer writes newline-delimited JSON lines to an io.Writer.
type Writer struct {
	w io.Writer
}

// NewWriter creates a Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write marshals v and writes it as a single line.
func (w *Writer) Write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteRaw(data)
}

// WriteRaw writes a pre-encoded line, appending the trailing newline.
func (w *Writer) WriteRaw(line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := w.w.Write(buf)
	return err
}
