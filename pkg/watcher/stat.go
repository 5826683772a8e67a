package watcher

import "os"

// statDir reports whether path currently exists and is a directory. Used
// when deciding whether a Create event needs its target registered with
// the underlying watcher too.
func statDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
