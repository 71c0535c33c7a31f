package ingest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// NameGenerator produces candidate identifiers for staged upload files.
// Tests substitute deterministic generators to force collisions.
type NameGenerator func() (string, error)

// RandomName returns a short cryptographically random hex identifier.
func RandomName() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate staging name: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// maxNameAttempts bounds the collision-retry loop. Collisions on 64 random
// bits are vanishingly rare; hitting the bound means the generator or the
// staging directory is broken.
const maxNameAttempts = 16

// createStagingFile opens an exclusive write sink at a fresh path under dir,
// regenerating the name on collision. The existence check before the
// exclusive create is there so a deterministic generator observes each
// collision; the O_EXCL create is what actually guards against two attempts
// racing to the same name.
func createStagingFile(dir string, gen NameGenerator) (*os.File, string, error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		id, err := gen()
		if err != nil {
			return nil, "", err
		}
		path := filepath.Join(dir, id+".upload")

		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("stat staging path %s: %w", path, err)
		}

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, "", fmt.Errorf("create staging file %s: %w", path, err)
		}
		return f, path, nil
	}
	return nil, "", fmt.Errorf("staging name collisions exhausted after %d attempts", maxNameAttempts)
}
