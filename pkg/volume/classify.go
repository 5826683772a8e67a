package volume

import "strings"

var networkFileSystems = map[string]struct{}{
	"nfs": {}, "nfs4": {}, "smb": {}, "smb2": {}, "cifs": {}, "afp": {},
}

var cloudFileSystems = map[string]struct{}{
	"fuse.rclone": {}, "fuse.s3fs": {}, "fuse.gcsfuse": {},
}

var virtualFileSystems = map[string]struct{}{
	"tmpfs": {}, "devfs": {}, "proc": {}, "sysfs": {}, "overlay": {},
}

var systemMountPoints = map[string]struct{}{
	"/": {}, "/boot": {}, "/boot/efi": {}, "/system": {}, "C:\\Windows": {},
}

// Classify assigns a Type from observed mount metadata (§4.I). The ordering
// matters: network and cloud adapters sometimes also set the removable bit
// (e.g. a mounted network share reported as a removable drive on Windows),
// so those checks run before the removable/external checks.
func Classify(obs Observation, primaryMountPoint string) Type {
	fs := strings.ToLower(obs.FileSystem)

	if _, ok := networkFileSystems[fs]; ok || obs.Network {
		return TypeNetwork
	}
	if _, ok := cloudFileSystems[fs]; ok {
		return TypeCloud
	}
	if _, ok := virtualFileSystems[fs]; ok {
		return TypeVirtual
	}
	if primaryMountPoint != "" && obs.MountPoint == primaryMountPoint {
		return TypePrimary
	}
	if _, ok := systemMountPoints[obs.MountPoint]; ok {
		return TypeSystem
	}
	if obs.Removable {
		return TypeExternal
	}
	if isUserDataMount(obs.MountPoint) {
		return TypeUserData
	}
	if obs.MountPoint != "" {
		return TypeSecondary
	}
	return TypeUnknown
}

// isUserDataMount recognizes mount points that hold a user's home directory
// tree on a non-primary filesystem — distinct from a truly removable drive
// (a dedicated /home partition, a separate macOS Data volume).
func isUserDataMount(mountPoint string) bool {
	switch {
	case strings.HasPrefix(mountPoint, "/home"):
		return true
	case strings.HasPrefix(mountPoint, "/Users"):
		return true
	case strings.Contains(mountPoint, "Data") && strings.HasPrefix(mountPoint, "/System/Volumes"):
		return true
	default:
		return false
	}
}
