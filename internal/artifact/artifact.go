// Package artifact inspects and promotes the scraped jobs file.
//
// The artifact is a single JSON array of job objects. The job board loads
// it wholesale, so a half-written or non-JSON file must never reach the
// committed path: the producer writes to a staging file and Promote renames
// it over the live artifact only after Inspect accepts it.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorrupt is returned when the staged artifact fails the sanity check.
var ErrCorrupt = errors.New("artifact: corrupt")

// Info describes an accepted artifact.
type Info struct {
	Jobs   int    // number of job records
	Digest string // sha256 of the file contents, hex
	Bytes  int64
}

// StagingPath returns the staging location next to the artifact so the
// final rename stays on one filesystem.
func StagingPath(artifactPath string) string {
	return artifactPath + ".staging"
}

// Inspect validates the file at path as a JSON array of job objects and
// returns its digest and record count. A parse failure or a top-level value
// that is not an array wraps ErrCorrupt.
func Inspect(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("read artifact: %w", err)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return Info{}, fmt.Errorf("%w: not a JSON array: %v", ErrCorrupt, err)
	}
	for i, rec := range records {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(rec, &obj); err != nil {
			return Info{}, fmt.Errorf("%w: record %d is not an object", ErrCorrupt, i)
		}
	}

	sum := sha256.Sum256(data)
	return Info{
		Jobs:   len(records),
		Digest: hex.EncodeToString(sum[:]),
		Bytes:  int64(len(data)),
	}, nil
}

// Promote atomically replaces the artifact with the staging file.
// The rename is atomic on POSIX filesystems; a failure leaves the previous
// artifact untouched.
func Promote(stagingPath, artifactPath string) error {
	if dir := filepath.Dir(artifactPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}
	}
	if err := os.Rename(stagingPath, artifactPath); err != nil {
		return fmt.Errorf("promote artifact: %w", err)
	}
	return nil
}

// Discard removes a rejected staging file. Missing files are not an error.
func Discard(stagingPath string) {
	_ = os.Remove(stagingPath)
}

// Digest returns the sha256 of the file at path, or "" if it does not exist.
func Digest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
