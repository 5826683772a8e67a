package volume

// Build turns one platform observation into a Volume: fingerprinting and
// classifying it, and folding in path mappings the caller has already
// discovered (firmlinks, bind mounts). id is caller-supplied (a ULID/UUID)
// since Volume identity for storage purposes is the fingerprint, not id.
func Build(id string, obs Observation, primaryMountPoint string, mappings []PathMapping) Volume {
	mountType := MountTypeLocal
	if obs.Network {
		mountType = MountTypeNetwork
	}

	diskType := DiskTypeUnknown
	if obs.Removable {
		diskType = DiskTypeRemovable
	}

	return Volume{
		ID:             id,
		Fingerprint:    Fingerprint(obs),
		DeviceID:       obs.DeviceID,
		Name:           obs.Name,
		MountPoint:     obs.MountPoint,
		MountPoints:    []string{obs.MountPoint},
		VolumeType:     Classify(obs, primaryMountPoint),
		MountType:      mountType,
		DiskType:       diskType,
		FileSystem:     obs.FileSystem,
		TotalCapacity:  obs.TotalCapacity,
		AvailableSpace: obs.AvailableSpace,
		ReadOnly:       obs.ReadOnly,
		IsMounted:      true,
		PathMappings:   mappings,
	}
}
