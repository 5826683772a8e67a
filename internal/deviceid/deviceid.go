// Package deviceid persists the local device's stable identifier: the
// string every paired-device record, session-key derivation, and wire
// message on this machine is keyed by (§3, §4.E-F).
package deviceid

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreate reads the device id stored at path, generating and
// persisting a fresh one on first run. The id never changes afterward --
// every PairedDevice row on every peer this device pairs with is keyed by
// it, so regenerating it silently would orphan all existing pairings.
func LoadOrCreate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
