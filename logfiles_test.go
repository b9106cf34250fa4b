package svcd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestTailLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	var b strings.Builder
	for i := 0; i < 2000; i++ {
		b.WriteString("line ")
		b.WriteString(strings.Repeat("x", i%7))
		b.WriteString("\n")
	}
	b.WriteString("last\n")
	writeFile(t, path, b.String())

	lines, err := TailLines(path, 3, DefaultLogWindow)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "last", lines[2])
}

func TestTailLinesWindowCutsPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "aaaa\nbbbb\ncccc\n")

	lines, err := TailLines(path, 10, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"cccc"}, lines)

	lines, err = TailLines(path, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"bbbb", "cccc"}, lines, "a window starting right after a newline keeps the line")
}

func TestTailLinesEdgeCases(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.log")
	writeFile(t, empty, "")
	lines, err := TailLines(empty, 5, DefaultLogWindow)
	require.NoError(t, err)
	assert.Empty(t, lines)

	noNewline := filepath.Join(dir, "partial.log")
	writeFile(t, noNewline, "one\ntwo")
	lines, err = TailLines(noNewline, 5, DefaultLogWindow)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)

	binary := filepath.Join(dir, "binary.log")
	writeFile(t, binary, "ok\n\xff\xfebad\n")
	lines, err = TailLines(binary, 5, DefaultLogWindow)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok", "\ufffdbad"}, lines)

	_, err = TailLines(dir, 5, DefaultLogWindow)
	assert.Error(t, err)
}

func TestLogFilesFollowsRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	writeFile(t, path, "c1\nc2\nc3\n")
	writeFile(t, path+".1", "r1\nr2\nr3\nr4\nr5\n")
	writeFile(t, path+".2", "old\n")

	lf := NewLogFiles(path, filepath.Join(dir, "missing.log"))
	lf.Lines = 5
	got := lf.Collect()

	assert.Equal(t, map[string]string{
		"app.log":   "c1\nc2\nc3",
		"app.log.1": "r4\nr5",
	}, got)
}

func TestLogFilesNameCollision(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.Mkdir(a, 0o755))
	require.NoError(t, os.Mkdir(b, 0o755))
	writeFile(t, filepath.Join(a, "out.log"), "from a\n")
	writeFile(t, filepath.Join(b, "out.log"), "from b\n")

	got := NewLogFiles(filepath.Join(a, "out.log"), filepath.Join(b, "out.log")).Collect()
	assert.Equal(t, "from a", got["out.log"])
	assert.Equal(t, "from b", got[filepath.Join(b, "out.log")])
}
