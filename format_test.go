package main

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name  string
		bytes uint64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"kilobytes", 1536, "1.5 kB"},
		{"megabytes", 5242880, "5.2 MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"SIZE", "HASH", "PATH"}
	rows := [][]string{
		{"1.2 MB", "sha1:abc", "docs/a.txt"},
		{"1.2 MB", "sha1:abc", "docs/b.txt"},
	}

	printTable(&buf, headers, rows)
	output := buf.String()

	assert.Contains(t, output, "SIZE")
	assert.Contains(t, output, "docs/a.txt")
	assert.Contains(t, output, "docs/b.txt")
}

func TestStatusf(t *testing.T) {
	t.Run("quiet suppresses output", func(t *testing.T) {
		oldStderr := os.Stderr
		r, w, err := os.Pipe()
		require.NoError(t, err)

		os.Stderr = w
		t.Cleanup(func() { os.Stderr = oldStderr })

		statusf(true, "should not appear %s", "test")
		w.Close()

		out, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Empty(t, string(out))
	})

	t.Run("normal mode writes to stderr", func(t *testing.T) {
		oldStderr := os.Stderr
		r, w, err := os.Pipe()
		require.NoError(t, err)

		os.Stderr = w
		t.Cleanup(func() { os.Stderr = oldStderr })

		statusf(false, "hello %s", "world")
		w.Close()

		out, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(out))
	})
}
