// Package hashutil provides content fingerprints used by discovery to
// detect changed source locations.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"sort"
)

// Sum returns the hex sha256 of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SumFiles fingerprints a set of files: per-file content hashes combined in
// path order, so renames and edits both change the result. Missing files
// contribute their path only.
func SumFiles(paths []string) (string, error) {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	combined := sha256.New()
	for _, path := range sorted {
		_, _ = io.WriteString(combined, path)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		fileSum := sha256.Sum256(data)
		_, _ = combined.Write(fileSum[:])
	}
	return hex.EncodeToString(combined.Sum(nil)), nil
}
