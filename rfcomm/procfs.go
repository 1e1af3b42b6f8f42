package rfcomm

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
)

// holders returns the IDs of the processes under procRoot whose command line
// references the given device path, excluding the current process.
func holders(procRoot, devicePath string) ([]int, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, err
	}

	self := os.Getpid()
	needle := []byte(devicePath)

	var pids []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}

		cmdline, err := os.ReadFile(filepath.Join(procRoot, entry.Name(), "cmdline"))
		if err != nil {
			continue
		}

		for _, arg := range bytes.Split(cmdline, []byte{0}) {
			if bytes.Equal(arg, needle) {
				pids = append(pids, pid)
				break
			}
		}
	}

	return pids, nil
}
