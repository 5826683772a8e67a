package content

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestGenerateCasIDSmallFileStable(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 4096)
	path := writeTempFile(t, "small.bin", data)

	id1, size1, err := GenerateCasID(path)
	require.NoError(t, err)
	id2, size2, err := GenerateCasID(path)
	require.NoError(t, err)

	require.Equal(t, id1, id2)
	require.Equal(t, size1, size2)
	require.EqualValues(t, len(data), size1)
}

func TestGenerateCasIDDiffersOnContent(t *testing.T) {
	a := writeTempFile(t, "a.bin", bytes.Repeat([]byte{0x01}, 1000))
	b := writeTempFile(t, "b.bin", bytes.Repeat([]byte{0x02}, 1000))

	idA, _, err := GenerateCasID(a)
	require.NoError(t, err)
	idB, _, err := GenerateCasID(b)
	require.NoError(t, err)

	require.NotEqual(t, idA, idB)
}

func TestGenerateCasIDLargeFileUsesSampling(t *testing.T) {
	size := SmallFileThreshold + sampleSize*3
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	path := writeTempFile(t, "large.bin", data)

	id1, size1, err := GenerateCasID(path)
	require.NoError(t, err)
	require.EqualValues(t, size, size1)

	// Mutating only the middle of the file (outside prefix/suffix windows)
	// must not change the cas_id: the large-file scheme samples only the
	// head and tail plus the total size.
	mutated := make([]byte, size)
	copy(mutated, data)
	mutated[size/2] ^= 0xFF
	mutatedPath := writeTempFile(t, "large-mutated.bin", mutated)

	id2, _, err := GenerateCasID(mutatedPath)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestGenerateCasIDLargeFileDiffersOnPrefix(t *testing.T) {
	size := SmallFileThreshold + sampleSize*3
	data := make([]byte, size)
	path := writeTempFile(t, "zeros.bin", data)

	mutated := make([]byte, size)
	copy(mutated, data)
	mutated[0] ^= 0xFF
	mutatedPath := writeTempFile(t, "zeros-mutated-prefix.bin", mutated)

	id1, _, err := GenerateCasID(path)
	require.NoError(t, err)
	id2, _, err := GenerateCasID(mutatedPath)
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
}

func TestGenerateCasIDMissingFile(t *testing.T) {
	_, _, err := GenerateCasID(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}
