package volume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStableAcrossRemounts(t *testing.T) {
	obsA := Observation{Name: "Backup", FileSystem: "apfs", TotalCapacity: 1_000_000_000, DeviceID: "disk2s1"}
	obsB := obsA // same volume, remounted with a different mount point

	assert.Equal(t, Fingerprint(obsA), Fingerprint(obsB))
}

func TestFingerprintChangesOnReformat(t *testing.T) {
	obsA := Observation{Name: "Backup", FileSystem: "apfs", TotalCapacity: 1_000_000_000}
	obsB := Observation{Name: "Backup", FileSystem: "ntfs", TotalCapacity: 1_000_000_000}

	assert.NotEqual(t, Fingerprint(obsA), Fingerprint(obsB))
}

func TestClassifyNetworkFilesystem(t *testing.T) {
	obs := Observation{MountPoint: "/mnt/share", FileSystem: "nfs4"}
	assert.Equal(t, TypeNetwork, Classify(obs, "/"))
}

func TestClassifyPrimary(t *testing.T) {
	obs := Observation{MountPoint: "/"}
	assert.Equal(t, TypePrimary, Classify(obs, "/"))
}

func TestClassifyExternalRemovable(t *testing.T) {
	obs := Observation{MountPoint: "/media/usb1", Removable: true}
	assert.Equal(t, TypeExternal, Classify(obs, "/"))
}

func TestClassifySystemMountPoint(t *testing.T) {
	obs := Observation{MountPoint: "/boot"}
	assert.Equal(t, TypeSystem, Classify(obs, "/"))
}

func TestClassifyVirtualFilesystem(t *testing.T) {
	obs := Observation{MountPoint: "/proc", FileSystem: "proc"}
	assert.Equal(t, TypeVirtual, Classify(obs, "/"))
}

func TestManagerVolumeForPathPicksLongestMountPoint(t *testing.T) {
	m := NewManager()
	m.Register(Volume{Fingerprint: "root", MountPoint: "/", IsMounted: true})
	m.Register(Volume{Fingerprint: "home", MountPoint: "/home/alice", IsMounted: true})

	v := m.VolumeForPath("/home/alice/library/photo.jpg")
	require.NotNil(t, v)
	assert.Equal(t, "home", v.Fingerprint)

	v = m.VolumeForPath("/etc/hosts")
	require.NotNil(t, v)
	assert.Equal(t, "root", v.Fingerprint)
}

func TestManagerVolumeForPathUnmountedIsExcluded(t *testing.T) {
	m := NewManager()
	m.Register(Volume{Fingerprint: "external", MountPoint: "/media/usb1", IsMounted: true})
	m.Unregister("external")

	assert.Nil(t, m.VolumeForPath("/media/usb1/file.txt"))
}

func TestManagerResolveVolumeForSDPath(t *testing.T) {
	m := NewManager()
	m.Register(Volume{Fingerprint: "home", MountPoint: "/home/alice", IsMounted: true})

	v := m.ResolveVolumeForSDPath("library/photo.jpg", "/home/alice")
	require.NotNil(t, v)
	assert.Equal(t, "home", v.Fingerprint)
}

func TestSameVolumeTrueForSamePhysicalDevice(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(a, []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("2"), 0o644))

	m := NewManager()
	same, err := m.SameVolume(a, b)
	require.NoError(t, err)
	assert.True(t, same)
}

func TestBuildDerivesFingerprintAndClassification(t *testing.T) {
	obs := Observation{Name: "Macintosh HD", MountPoint: "/", FileSystem: "apfs", TotalCapacity: 500_000_000_000}
	v := Build("vol-1", obs, "/", nil)

	assert.Equal(t, "vol-1", v.ID)
	assert.Equal(t, TypePrimary, v.VolumeType)
	assert.Equal(t, Fingerprint(obs), v.Fingerprint)
	assert.True(t, v.IsMounted)
}
