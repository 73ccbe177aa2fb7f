// Package manifest encodes and decodes the PSARC name manifest, the newline
// separated list of entry names stored as entry 0 of every archive.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Separator terminates each name in the manifest.
const Separator = '\n'

// ErrInvalidName is returned by Build for names that cannot be stored.
var ErrInvalidName = errors.New("invalid entry name")

// Parse splits the manifest into the names of entries 1..count. A final name
// without a trailing separator is still a name. Missing names are left empty
// and separators beyond count are ignored.
func Parse(data []byte, count int) []string {
	if count <= 0 {
		return nil
	}
	names := make([]string, count)

	for i := 0; i < count && len(data) > 0; i++ {
		end := bytes.IndexByte(data, Separator)
		if end < 0 {
			names[i] = string(data)
			break
		}
		names[i] = string(data[:end])
		data = data[end+1:]
	}

	return names
}

// Count returns the number of names Parse would find in data with no limit.
func Count(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := bytes.Count(data, []byte{Separator})
	if data[len(data)-1] != Separator {
		n++
	}
	return n
}

// Build joins names into a manifest. Names must be non-empty and must not
// contain the separator.
func Build(names []string) ([]byte, error) {
	var buf bytes.Buffer
	for i, name := range names {
		if name == "" || strings.IndexByte(name, Separator) >= 0 {
			return nil, fmt.Errorf("%w: entry %d %q", ErrInvalidName, i+1, name)
		}
		if i > 0 {
			buf.WriteByte(Separator)
		}
		buf.WriteString(name)
	}
	return buf.Bytes(), nil
}

// Index maps names to entry ids.
type Index struct {
	ids        map[string]int
	ignoreCase bool
}

// NewIndex builds an index over names, where names[i] belongs to entry i+1.
// Unnamed entries are not indexed; on duplicates the lowest id wins.
func NewIndex(names []string, ignoreCase bool) *Index {
	idx := &Index{
		ids:        make(map[string]int, len(names)),
		ignoreCase: ignoreCase,
	}
	for i, name := range names {
		idx.Add(name, i+1)
	}
	return idx
}

// Add indexes name for entry id unless the name is empty or already taken.
func (idx *Index) Add(name string, id int) bool {
	if name == "" {
		return false
	}
	key := idx.key(name)
	if _, ok := idx.ids[key]; ok {
		return false
	}
	idx.ids[key] = id
	return true
}

func (idx *Index) key(name string) string {
	if idx.ignoreCase {
		return strings.ToLower(name)
	}
	return name
}

// Lookup returns the entry id for name.
func (idx *Index) Lookup(name string) (int, bool) {
	id, ok := idx.ids[idx.key(name)]
	return id, ok
}

// Len returns the number of indexed names.
func (idx *Index) Len() int {
	return len(idx.ids)
}
