package storage

import (
	"errors"
	"io/fs"
	"os"
)

// FileUsage is the on-disk footprint of the persisted document files.
type FileUsage struct {
	Total int64            `json:"total_bytes"`
	Files map[string]int64 `json:"files"`
}

// DiskUsage returns the size of each existing regular file in paths.
// Missing paths are skipped; other stat errors are returned.
func DiskUsage(paths ...string) (FileUsage, error) {
	u := FileUsage{Files: make(map[string]int64)}
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return u, err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		u.Files[p] = info.Size()
		u.Total += info.Size()
	}
	return u, nil
}
