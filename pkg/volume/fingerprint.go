package volume

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/shelffs/shelf/pkg/crypto"
)

// Fingerprint derives a content-derived identifier that is stable across
// remounts of the same physical volume (§4.I): a keyed hash over
// (name, total_bytes, file_system) plus a platform-specific stable id when
// one is available. Two observations of the same physical volume taken at
// different mount times, possibly at different mount points, hash to the
// same fingerprint as long as the OS reports the same name/capacity/format
// and stable id; a volume that has been reformatted or renamed gets a new
// fingerprint, which is the desired behavior — its content is no longer the
// same logical unit.
func Fingerprint(obs Observation) string {
	var totalBytes [8]byte
	binary.BigEndian.PutUint64(totalBytes[:], obs.TotalCapacity)

	parts := [][]byte{
		[]byte(obs.Name),
		totalBytes[:],
		[]byte(obs.FileSystem),
	}
	if obs.DeviceID != "" {
		parts = append(parts, []byte(obs.DeviceID))
	}

	sum := crypto.KeyedHash("shelf-volume-fingerprint/v1", nil, parts...)
	return hex.EncodeToString(sum[:])
}
