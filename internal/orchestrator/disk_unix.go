//go:build unix

package orchestrator

import "syscall"

// freeDiskBytes returns the free space on the filesystem holding path.
func freeDiskBytes(path string) (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}

	return st.Bavail * uint64(st.Bsize), nil
}
