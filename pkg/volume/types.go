// Package volume implements the volume model (§4.I): fingerprinting,
// classification, and same-physical-storage detection used by higher layers
// (the copy-strategy router, sidecar availability) to reason about where a
// path actually lives. Mount enumeration itself is platform-specific and
// out of scope; callers supply observed mount metadata and this package
// turns it into a stable identity and a classification.
package volume

// Type classifies a volume's role on the host.
type Type string

const (
	TypePrimary   Type = "primary"
	TypeUserData  Type = "user_data"
	TypeExternal  Type = "external"
	TypeSecondary Type = "secondary"
	TypeSystem    Type = "system"
	TypeNetwork   Type = "network"
	TypeCloud     Type = "cloud"
	TypeVirtual   Type = "virtual"
	TypeUnknown   Type = "unknown"
)

// MountType distinguishes how a volume is attached.
type MountType string

const (
	MountTypeLocal    MountType = "local"
	MountTypeNetwork  MountType = "network"
	MountTypeSynthetic MountType = "synthetic"
)

// DiskType describes the underlying media, when knowable.
type DiskType string

const (
	DiskTypeSSD     DiskType = "ssd"
	DiskTypeHDD     DiskType = "hdd"
	DiskTypeRemovable DiskType = "removable"
	DiskTypeUnknown DiskType = "unknown"
)

// PathMapping records that one mount point is reachable through another —
// a macOS firmlink or a Linux bind mount — so that two distinct paths can
// be recognized as the same physical storage (§4.I same-volume detection).
type PathMapping struct {
	From string
	To   string
}

// Volume is the runtime identity of one mounted storage unit.
type Volume struct {
	ID             string
	Fingerprint    string
	DeviceID       string
	Name           string
	MountPoint     string
	MountPoints    []string
	VolumeType     Type
	MountType      MountType
	DiskType       DiskType
	FileSystem     string
	TotalCapacity  uint64
	AvailableSpace uint64
	ReadOnly       bool
	IsMounted      bool
	PathMappings   []PathMapping
}

// Observation is the platform-supplied metadata a caller gathers about a
// mount point (via statfs/GetVolumeInformation/etc.) and hands to this
// package to build a Volume. Kept separate from Volume itself so that
// fingerprinting/classification stay pure functions of plain data.
type Observation struct {
	Name           string
	MountPoint     string
	FileSystem     string
	DeviceID       string
	TotalCapacity  uint64
	AvailableSpace uint64
	ReadOnly       bool
	Removable      bool
	Network        bool
}
