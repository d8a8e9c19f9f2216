package chunkfile

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"walog/internal/device"
)

const (
	nameWidth = 16
	extension = ".chunk"
)

// FormatName returns the on-disk filename for a chunk, per the fixed-width
// zero-padded-hex layout: <chunk_id:016x>-<base_index:016x>.chunk. Fixed
// width guarantees lexicographic sort order matches chunk_id order.
func FormatName(chunkID, baseIndex uint64) string {
	return fmt.Sprintf("%0*x-%0*x%s", nameWidth, chunkID, nameWidth, baseIndex, extension)
}

// ParseName extracts chunk_id and base_index from a chunk filename. ok is
// false if name does not match the chunk naming schema, in which case the
// file is ignored (it may be a sibling lock file or other metadata).
func ParseName(name string) (chunkID, baseIndex uint64, ok bool) {
	if !strings.HasSuffix(name, extension) {
		return 0, 0, false
	}
	stem := strings.TrimSuffix(name, extension)
	parts := strings.SplitN(stem, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	if len(parts[0]) != nameWidth || len(parts[1]) != nameWidth {
		return 0, 0, false
	}
	id, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return 0, 0, false
	}
	base, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return 0, 0, false
	}
	return id, base, true
}

// Entry describes one recognized chunk file found by ListChunkFiles.
type Entry struct {
	ChunkID   uint64
	BaseIndex uint64
	Name      string
}

// ListChunkFiles enumerates the chunk files directly inside dir and returns
// them sorted ascending by chunk_id. Files not matching the naming schema
// are silently ignored.
func ListChunkFiles(fs device.FS, dir string) ([]Entry, error) {
	names, err := fs.ReadDirNames(dir)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, name := range names {
		id, base, ok := ParseName(name)
		if !ok {
			continue
		}
		entries = append(entries, Entry{ChunkID: id, BaseIndex: base, Name: name})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ChunkID < entries[j].ChunkID })
	return entries, nil
}
