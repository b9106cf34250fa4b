package svcd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/renameio/v2"

	"github.com/axondata/go-svcd/internal/unix"
)

// ConfigFiles maps base names to absolute paths for configuration transfer.
// Base names are unique within one ConfigFiles.
type ConfigFiles struct {
	files map[string]string
}

// NewConfigFiles validates paths and indexes them by base name
func NewConfigFiles(paths ...string) (ConfigFiles, error) {
	cf := ConfigFiles{files: make(map[string]string, len(paths))}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return ConfigFiles{}, fmt.Errorf("resolving config file %q: %w", p, err)
		}
		base := filepath.Base(abs)
		if prev, ok := cf.files[base]; ok {
			return ConfigFiles{}, fmt.Errorf("config files %s and %s share the name %q", prev, abs, base)
		}
		cf.files[base] = abs
	}
	return cf, nil
}

// Names returns the sorted base names
func (cf ConfigFiles) Names() []string {
	names := make([]string, 0, len(cf.files))
	for name := range cf.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Receive reads every configured file
func (cf ConfigFiles) Receive() (map[string]string, error) {
	out := make(map[string]string, len(cf.files))
	for name, path := range cf.files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &Fault{Msg: fmt.Sprintf("reading config file %s", name), Err: err}
		}
		out[name] = string(data)
	}
	return out, nil
}

// Send replaces the contents of the named file, keeping its permissions and
// owner. A symlinked path is written through to its target. Nothing is
// reloaded or restarted.
func (cf ConfigFiles) Send(name, contents string) error {
	path, ok := cf.files[name]
	if !ok {
		return Faultf("no such config file %q", name)
	}
	if err := writeConfigFile(path, []byte(contents)); err != nil {
		return &Fault{Msg: fmt.Sprintf("writing config file %s", name), Err: err}
	}
	return nil
}

func writeConfigFile(path string, data []byte) error {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	perm := os.FileMode(FileMode)
	uid, gid, owned := -1, -1, false
	if fi, err := os.Stat(path); err == nil {
		perm = fi.Mode().Perm()
		uid, gid, owned = unix.FileOwner(fi)
	}

	t, err := renameio.NewPendingFile(path, renameio.WithStaticPermissions(perm))
	if err != nil {
		return err
	}
	defer func() { _ = t.Cleanup() }()

	if owned {
		tfi, err := t.Stat()
		if err != nil {
			return err
		}
		if tuid, tgid, ok := unix.FileOwner(tfi); !ok || tuid != uid || tgid != gid {
			if err := t.Chown(uid, gid); err != nil {
				return err
			}
		}
	}
	if _, err := t.Write(data); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
