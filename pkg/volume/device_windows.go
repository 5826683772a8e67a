//go:build windows

package volume

import (
	"path/filepath"
	"strings"

	"github.com/shelffs/shelf/pkg/shelferr"
	"golang.org/x/sys/windows"
)

// deviceID returns the volume serial number for the drive backing path.
// Windows has no direct analogue of a POSIX device number reachable from a
// plain stat, so this queries the volume information for the path's drive
// root instead.
func deviceID(path string) (uint64, error) {
	root := filepath.VolumeName(path) + `\`
	rootPtr, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return 0, shelferr.Wrap(shelferr.Fatal, "encode volume root", err)
	}

	var volumeNameBuf [windows.MAX_PATH]uint16
	var fsNameBuf [windows.MAX_PATH]uint16
	var serial uint32
	var maxComponentLen, fsFlags uint32

	err = windows.GetVolumeInformation(
		rootPtr,
		&volumeNameBuf[0], uint32(len(volumeNameBuf)),
		&serial,
		&maxComponentLen,
		&fsFlags,
		&fsNameBuf[0], uint32(len(fsNameBuf)),
	)
	if err != nil {
		return 0, shelferr.Wrap(shelferr.Fatal, "query volume information for "+strings.ToUpper(root), err)
	}
	return uint64(serial), nil
}
