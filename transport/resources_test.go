package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daqline/stfpipe/errs"
)

func TestCheckResources_Empty(t *testing.T) {
	require.NoError(t, CheckResources(nil, 1<<30))
}

func TestCheckResources_Filesystem(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, CheckResources([]string{dir}, 1))

	err := CheckResources([]string{dir}, 1<<62)
	require.ErrorIs(t, err, errs.ErrResourceCheck)
	require.Contains(t, err.Error(), "not enough space")
}

func TestCheckResources_MissingPath(t *testing.T) {
	err := CheckResources([]string{"/nonexistent/path/for/sure"}, 1)
	require.ErrorIs(t, err, errs.ErrResourceCheck)
}

func TestCheckResources_MeminfoKey(t *testing.T) {
	if _, err := os.Stat("/proc/meminfo"); err != nil {
		t.Skip("/proc/meminfo not available")
	}

	require.NoError(t, CheckResources([]string{"MemTotal"}, 1))

	err := CheckResources([]string{"NoSuchMeminfoKey"}, 1)
	require.ErrorIs(t, err, errs.ErrResourceCheck)
}

func TestMeminfoLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	content := "MemTotal:       16384 kB\nMemFree:         4096 kB\nMemAvailable:    8192 kB\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	free, err := meminfoLookup(path, "MemFree")
	require.NoError(t, err)
	require.Equal(t, int64(4096*1024), free)

	avail, err := meminfoLookup(path, "MemAvailable")
	require.NoError(t, err)
	require.Equal(t, int64(8192*1024), avail)

	_, err = meminfoLookup(path, "HugePages")
	require.Error(t, err)
}
