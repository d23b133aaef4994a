package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

var segmentFileRE = regexp.MustCompile(`^segment_(\d+)\.dat$`)

func segmentPath(dir string, id int) string {
	return filepath.Join(dir, fmt.Sprintf("segment_%d.dat", id))
}

// listSegmentIDs enumerates segment_*.dat files in dir, sorted ascending
// by numeric file_id.
func listSegmentIDs(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var ids []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentFileRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	sort.Ints(ids)
	return ids, nil
}

// openActive opens id's segment file for append+read, creating it if
// necessary.
func openActive(dir string, id int) (*os.File, error) {
	return os.OpenFile(segmentPath(dir, id), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
}

// openSealed opens id's segment file read-only.
func openSealed(dir string, id int) (*os.File, error) {
	return os.OpenFile(segmentPath(dir, id), os.O_RDONLY, 0644)
}
