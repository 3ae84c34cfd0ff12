// Package cfgguard detects configuration drift between a run's original
// invocation and a resumed one, so a resume never silently applies chunk
// logs recorded under a different partitioner or generator configuration
// than the one now in effect.
package cfgguard

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Hash is a BLAKE2b-256 digest of a run's configuration inputs, hex
// encoded for storage alongside the chunk logs.
type Hash string

// Compute hashes the concatenation of every named file's contents, in
// sorted path order so the result is independent of the caller's
// ordering. A named directory contributes the regular files directly
// inside it, in name order. Missing files are skipped (an unset cfgDir is
// valid).
func Compute(paths []string) (Hash, error) {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("cfgguard: init hash: %w", err)
	}
	for _, p := range sorted {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("cfgguard: stat %s: %w", p, err)
		}
		if info.IsDir() {
			entries, err := os.ReadDir(p)
			if err != nil {
				return "", fmt.Errorf("cfgguard: read dir %s: %w", p, err)
			}
			for _, e := range entries {
				if !e.Type().IsRegular() {
					continue
				}
				fp := filepath.Join(p, e.Name())
				data, err := os.ReadFile(fp)
				if err != nil {
					return "", fmt.Errorf("cfgguard: read %s: %w", fp, err)
				}
				h.Write([]byte(fp))
				h.Write([]byte{0})
				h.Write(data)
			}
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("cfgguard: read %s: %w", p, err)
		}
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write(data)
	}
	return Hash(hex.EncodeToString(h.Sum(nil))), nil
}

// DriftError reports that a resumed run's configuration hash no longer
// matches the one recorded at the start of the run it's resuming.
type DriftError struct {
	Recorded Hash
	Current  Hash
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("cfgguard: configuration drift detected: recorded %s, current %s", e.Recorded, e.Current)
}

// WriteHashFile writes h to path, overwriting any existing content.
func WriteHashFile(path string, h Hash) error {
	if err := os.WriteFile(path, []byte(h), 0o644); err != nil {
		return fmt.Errorf("cfgguard: write %s: %w", path, err)
	}
	return nil
}

// ReadHashFile reads a previously written hash, or returns "" if path
// does not exist (a fresh run with nothing to compare against).
func ReadHashFile(path string) (Hash, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("cfgguard: read %s: %w", path, err)
	}
	return Hash(data), nil
}

// Check compares current against whatever hash is recorded at
// recordedPath. An empty recorded hash (no prior run) always passes.
func Check(recordedPath string, current Hash) error {
	recorded, err := ReadHashFile(recordedPath)
	if err != nil {
		return err
	}
	if recorded == "" {
		return nil
	}
	if recorded != current {
		return &DriftError{Recorded: recorded, Current: current}
	}
	return nil
}
