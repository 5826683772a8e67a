//go:build !windows

package volume

import (
	"os"
	"syscall"

	"github.com/shelffs/shelf/pkg/shelferr"
)

// deviceID returns the OS-level device number backing path, used by
// SameVolume. Fingerprint does not call it; it uses Observation.DeviceID.
func deviceID(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, shelferr.Wrap(shelferr.Fatal, "stat path for device id", err)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, shelferr.Invalidf("unable to extract device id for %s", path)
	}
	return uint64(stat.Dev), nil
}
