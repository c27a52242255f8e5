//go:build linux

package hasher

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential tells the kernel the whole file is read once front to back.
// Failures only lose the readahead hint.
func adviseSequential(file *os.File) {
	_ = unix.Fadvise(int(file.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}
