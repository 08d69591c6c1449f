//go:build !unix

package variables

import "os"

// fsyncFile is a best-effort no-op on platforms without a direct fsync
// syscall wrapper; the rename step still gives atomicity, just without the
// durability guarantee fsync adds on unix.
func fsyncFile(f *os.File) error { return nil }

func fsyncDir(path string) error { return nil }
