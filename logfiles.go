package svcd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// tailBlockSize is the read granularity when scanning a file backwards
const tailBlockSize = 4096

// LogFiles returns the tail of one or more log files, following numbered
// rotations (name.1, name.2, ...) when the current file is too short.
type LogFiles struct {
	// Paths are the log files, in the order they are reported
	Paths []string
	// Lines is the number of lines wanted per configured path
	Lines int
	// Window bounds the bytes read from the end of each file
	Window int64
}

// NewLogFiles returns a LogFiles with default limits
func NewLogFiles(paths ...string) LogFiles {
	return LogFiles{Paths: paths, Lines: DefaultLogLines, Window: DefaultLogWindow}
}

// Collect returns excerpts keyed by file base name. Missing files are
// skipped; unreadable ones report the error as their content.
func (l LogFiles) Collect() map[string]string {
	lines := l.Lines
	if lines <= 0 {
		lines = DefaultLogLines
	}
	window := l.Window
	if window <= 0 {
		window = DefaultLogWindow
	}

	out := make(map[string]string)
	for _, path := range l.Paths {
		remaining := lines
		for i := 0; remaining > 0; i++ {
			name := path
			if i > 0 {
				name = fmt.Sprintf("%s.%d", path, i)
			}
			got, err := TailLines(name, remaining, window)
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			key := logKey(out, name)
			if err != nil {
				out[key] = fmt.Sprintf("could not read %s: %v", name, err)
				break
			}
			out[key] = strings.Join(got, "\n")
			remaining -= len(got)
		}
	}
	return out
}

// logKey prefers the base name and falls back to the full path on collision
func logKey(m map[string]string, path string) string {
	base := filepath.Base(path)
	if _, taken := m[base]; taken {
		return path
	}
	return base
}

// TailLines returns up to n trailing lines of path. It reads backwards in
// blocks and never more than window bytes. Invalid UTF-8 is replaced.
func TailLines(path string, n int, window int64) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	size := fi.Size()
	limit := size - window
	if limit < 0 {
		limit = 0
	}

	var buf []byte
	offset := size
	for offset > limit && bytes.Count(buf, []byte{'\n'}) <= n {
		readSize := int64(tailBlockSize)
		if offset-limit < readSize {
			readSize = offset - limit
		}
		offset -= readSize
		chunk := make([]byte, readSize)
		if _, err := f.ReadAt(chunk, offset); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(chunk, buf...)
	}

	text := strings.TrimSuffix(strings.ToValidUTF8(string(buf), "�"), "\n")
	if text == "" {
		return nil, nil
	}
	lines := strings.Split(text, "\n")

	// the first line is cut unless the byte before it ends a line
	if offset > 0 {
		var prev [1]byte
		if _, err := f.ReadAt(prev[:], offset-1); err != nil || prev[0] != '\n' {
			lines = lines[1:]
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
