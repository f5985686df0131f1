package ndjson

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_SkipsBlankLines(t *testing.T) {
	input := "{\"a\":1}\n\n   \n{\"b\":2}\n"
	r := NewReader(strings.NewReader(input))

	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(line))

	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(line))

	_, err = r.ReadLine()
	assert.Equal(t, io.EOF, err)
}

func TestReader_CopiesLines(t *testing.T) {
	r := NewReader(strings.NewReader("{\"a\":1}\n{\"b\":2}\n"))

	first, err := r.ReadLine()
	require.NoError(t, err)
	second, err := r.ReadLine()
	require.NoError(t, err)

	// The first line must survive the second read.
	assert.Equal(t, `{"a":1}`, string(first))
	assert.Equal(t, `{"b":2}`, string(second))
}

func TestReader_LineSizeLimit(t *testing.T) {
	long := strings.Repeat("x", 128)
	r := NewReaderSize(strings.NewReader(long+"\n"), 64)

	_, err := r.ReadLine()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestWriter_MarshalsOnePerLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Write(map[string]interface{}{"id": "req_1"}))
	require.NoError(t, w.WriteRaw([]byte(`{"raw":true}`)))

	assert.Equal(t, "{\"id\":\"req_1\"}\n{\"raw\":true}\n", buf.String())
}

func TestRoundTrip(t *testing.T) {
	pr, pw := io.Pipe()

	go func() {
		w := NewWriter(pw)
		_ = w.Write(map[string]interface{}{"n": 1})
		_ = w.Write(map[string]interface{}{"n": 2})
		pw.Close()
	}()

	r := NewReader(pr)
	var lines []string
	for {
		line, err := r.ReadLine()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		lines = append(lines, string(line))
	}

	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, lines)
}
