//go:build unix

package variables

import (
	"os"

	"golang.org/x/sys/unix"
)

func fsyncFile(f *os.File) error {
	for {
		err := unix.Fsync(int(f.Fd()))
		if err != unix.EINTR {
			return err
		}
	}
}

func fsyncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	defer dir.Close()
	return fsyncFile(dir)
}
