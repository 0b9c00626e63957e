package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// pfsConfig-0x{pfsDesignId:016x}-{visit:06d}.fits
var pfsConfigPattern = regexp.MustCompile(`^pfsConfig-0x[0-9a-fA-F]+-(\d{6})\.fits$`)

// IsPfsConfigPath reports whether path names a pfsConfig file.
func IsPfsConfigPath(path string) bool {
	return pfsConfigPattern.MatchString(filepath.Base(path))
}

// PfsConfigVisit extracts the visit of a pfsConfig filename.
func PfsConfigVisit(path string) (int, error) {
	m := pfsConfigPattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return 0, fmt.Errorf("not a pfsConfig filename: %s", path)
	}
	return strconv.Atoi(m[1])
}

// TotalSize sums the size of the files that exist.
func TotalSize(paths []string) int64 {
	var total int64
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

// CopyFile copies src into dir, keeping its name. An existing destination is kept.
func CopyFile(src, dir string) (string, error) {
	dst := filepath.Join(dir, filepath.Base(src))
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", src, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return dst, nil
}
