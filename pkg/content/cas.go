// Package content implements Content Identity (§4.B): stable content hashing
// and content-identity dedup. Small files are hashed whole; large files are
// hashed by a domain-separated prefix+suffix+size digest so identifying a
// multi-gigabyte file never requires reading it in full.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/shelffs/shelf/pkg/shelferr"
)

// CasVersion records which hashing algorithm produced a cas_id. Bump this
// whenever the algorithm below changes (§4.B: "Changing the algorithm MUST
// bump cas_version").
const CasVersion = 1

// SmallFileThreshold is the cutoff below which a file's entire contents are
// hashed; above it, only a prefix+suffix+size digest is computed (§4.B).
const SmallFileThreshold = 128 * 1024 // 128 KiB

// sampleSize is the number of bytes read from the start and end of a large
// file for the prefix+suffix digest.
const sampleSize = 64 * 1024 // 64 KiB

// domainSmall and domainLarge separate the two hashing schemes so a small
// file's whole-content hash can never collide with a large file's sampled
// hash, even if the sampled bytes happen to equal the whole content.
const (
	domainSmall = "shelf-cas-v1-small"
	domainLarge = "shelf-cas-v1-large"
)

// GenerateCasID computes path's cas_id per §4.B. The returned id is a stable
// hex-encoded digest; platform, filesystem, and call order never affect it
// for byte-identical content.
func GenerateCasID(path string) (casID string, size uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, shelferr.Wrap(shelferr.NonCritical, "open file for content identification", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, shelferr.Wrap(shelferr.NonCritical, "stat file for content identification", err)
	}
	totalSize := uint64(info.Size())

	if totalSize <= SmallFileThreshold {
		casID, err := hashWhole(f, totalSize)
		return casID, totalSize, err
	}
	casID, err = hashSampled(f, totalSize)
	return casID, totalSize, err
}

func hashWhole(f *os.File, size uint64) (string, error) {
	h := sha256.New()
	h.Write([]byte(domainSmall))
	writeUint64(h, size)

	n, err := io.Copy(h, f)
	if err != nil {
		return "", shelferr.Wrap(shelferr.NonCritical, "read file contents", err)
	}
	if uint64(n) != size {
		return "", shelferr.Transientf(nil, "file shrank mid-read: expected %d bytes, read %d", size, n)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashSampled(f *os.File, size uint64) (string, error) {
	prefix := make([]byte, sampleSize)
	if _, err := io.ReadFull(f, prefix); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return "", shelferr.Transientf(nil, "file shrank mid-read while sampling prefix")
		}
		return "", shelferr.Wrap(shelferr.NonCritical, "read content prefix", err)
	}

	suffixOffset := int64(size) - sampleSize
	if suffixOffset < sampleSize {
		// File is too short relative to its reported size; treat as transient
		// ("file shrank mid-read", §4.B).
		return "", shelferr.Transientf(nil, "file shrank mid-read while sampling suffix")
	}

	suffix := make([]byte, sampleSize)
	if _, err := f.ReadAt(suffix, suffixOffset); err != nil {
		if err == io.EOF {
			return "", shelferr.Transientf(nil, "file shrank mid-read while sampling suffix")
		}
		return "", shelferr.Wrap(shelferr.NonCritical, "read content suffix", err)
	}

	h := sha256.New()
	h.Write([]byte(domainLarge))
	writeUint64(h, size)
	h.Write(prefix)
	h.Write(suffix)

	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeUint64(w io.Writer, n uint64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(n >> (8 * (7 - i)))
	}
	w.Write(buf[:])
}
