package svcd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axondata/go-svcd/internal/unix"
)

func TestConfigFiles(t *testing.T) {
	dir := t.TempDir()
	main := filepath.Join(dir, "main.conf")
	secret := filepath.Join(dir, "secret.conf")
	writeFile(t, main, "a=1\n")
	require.NoError(t, os.WriteFile(secret, []byte("token=x\n"), 0o600))

	cf, err := NewConfigFiles(main, secret)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.conf", "secret.conf"}, cf.Names())

	files, err := cf.Receive()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"main.conf": "a=1\n", "secret.conf": "token=x\n"}, files)

	require.NoError(t, cf.Send("secret.conf", "token=y\n"))
	data, err := os.ReadFile(secret)
	require.NoError(t, err)
	assert.Equal(t, "token=y\n", string(data))
	fi, err := os.Stat(secret)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm(), "permissions are kept")
}

func TestConfigFilesErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := NewConfigFiles(filepath.Join(dir, "a", "x.conf"), filepath.Join(dir, "b", "x.conf"))
	require.Error(t, err)

	cf, err := NewConfigFiles(filepath.Join(dir, "gone.conf"))
	require.NoError(t, err)

	_, err = cf.Receive()
	assert.Equal(t, KindFault, ErrorKind(err))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	err = cf.Send("other.conf", "x")
	assert.Equal(t, KindFault, ErrorKind(err))

	// a missing file is created with the default mode
	require.NoError(t, cf.Send("gone.conf", "new\n"))
	fi, err := os.Stat(filepath.Join(dir, "gone.conf"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FileMode), fi.Mode().Perm())
}

func TestConfigFilesSendThroughSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.conf")
	link := filepath.Join(dir, "app.conf")
	require.NoError(t, os.WriteFile(target, []byte("old\n"), 0o640))
	require.NoError(t, os.Symlink(target, link))

	cf, err := NewConfigFiles(link)
	require.NoError(t, err)
	require.NoError(t, cf.Send("app.conf", "new\n"))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(data))

	fi, err := os.Lstat(link)
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode()&os.ModeSymlink, "the link stays a link")

	fi, err = os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), fi.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"app.conf", "real.conf"}, names, "no temp files left behind")
}

func TestConfigFilesSendKeepsOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owned.conf")
	writeFile(t, path, "a\n")
	before, err := os.Stat(path)
	require.NoError(t, err)
	uid, gid, ok := unix.FileOwner(before)
	if !ok {
		t.Skip("file ownership not available")
	}

	cf, err := NewConfigFiles(path)
	require.NoError(t, err)
	require.NoError(t, cf.Send("owned.conf", "b\n"))

	after, err := os.Stat(path)
	require.NoError(t, err)
	auid, agid, _ := unix.FileOwner(after)
	assert.Equal(t, uid, auid)
	assert.Equal(t, gid, agid)
}
