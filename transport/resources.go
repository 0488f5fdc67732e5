package transport

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/daqline/stfpipe/errs"
)

// CheckResources verifies that each listed resource has at least need bytes
// free before an unmanaged region is created. Items containing a slash are
// filesystem paths checked via statfs; anything else is looked up as a
// /proc/meminfo key (e.g. MemFree, MemAvailable).
//
// Region creation itself does not check available memory, so skipping this
// pre-flight can turn an oversized region into a crash much later.
func CheckResources(resources []string, need int64) error {
	for _, r := range resources {
		var (
			free int64
			err  error
		)
		label := r
		if strings.Contains(r, "/") {
			free, err = filesystemFreeBytes(r)
		} else {
			free, err = meminfoFreeBytes(r)
			label = "/proc/meminfo " + r
		}
		if err != nil {
			return fmt.Errorf("%w: cannot get stats for %s: %v", errs.ErrResourceCheck, label, err)
		}
		if free < need {
			return fmt.Errorf("%w: not enough space on %s (%d < %d bytes)", errs.ErrResourceCheck, label, free, need)
		}
	}

	return nil
}

func filesystemFreeBytes(path string) (int64, error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return 0, err
	}

	return int64(fs.Bavail) * fs.Bsize, nil
}

func meminfoFreeBytes(key string) (int64, error) {
	return meminfoLookup("/proc/meminfo", key)
}

func meminfoLookup(path, key string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	prefix := key + ":"
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, prefix))
		if len(fields) == 0 {
			break
		}
		kb, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, err
		}

		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}

	return 0, fmt.Errorf("meminfo key %q not found", key)
}
