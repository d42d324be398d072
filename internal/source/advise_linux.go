//go:build linux

package source

import (
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// adviseSequential tells the kernel to read ahead aggressively, failures are ignored.
func adviseSequential(f *os.File) {
	if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL); err != nil {
		log.Debug().Err(err).Str("path", f.Name()).Msg("fadvise failed")
	}
}
