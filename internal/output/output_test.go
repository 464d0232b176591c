package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_Messages(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  []string
	}{
		{"status", func(w *Writer) { w.Status("🔍", "Listing repositories...") }, []string{"🔍", "Listing repositories..."}},
		{"status without icon", func(w *Writer) { w.Status("", "indented") }, []string{"   indented"}},
		{"success", func(w *Writer) { w.Successf("indexed %d repos", 3) }, []string{"✅", "indexed 3 repos"}},
		{"warning", func(w *Writer) { w.Warningf("%s skipped", "r1") }, []string{"⚠️", "r1 skipped"}},
		{"error", func(w *Writer) { w.Errorf("update %s failed", "r2") }, []string{"❌", "update r2 failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a writer over a buffer
			buf := &bytes.Buffer{}
			w := New(buf)

			// When
			tt.write(w)

			// Then
			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
			assert.True(t, strings.HasSuffix(buf.String(), "\n"))
		})
	}
}

func TestWriter_BufferHasNoColor(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Success("plain")
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestWriter_Fields(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Fields("r1 (filename)", []Field{
		{Label: "from_commit", Value: "abc"},
		{Label: "state", Value: "idle"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	for i := range lines {
		// the panel pads lines to a common width
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	assert.Equal(t, "r1 (filename)", lines[0])
	assert.Equal(t, "from_commit  abc", lines[1])
	assert.Equal(t, "state        idle", lines[2])
}

func TestWriter_Table(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Table([]string{"KIND", "DELETED"}, [][]string{
		{"content", "2"},
		{"filename", "10"},
		{"page"},
	})

	assert.Equal(t, "KIND      DELETED\n"+
		"content   2\n"+
		"filename  10\n"+
		"page\n", buf.String())
}
