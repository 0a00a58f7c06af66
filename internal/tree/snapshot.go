package tree

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Record is one stored value in the tree.
type Record struct {
	// Path is the full path of the record.
	Path string
	// Rel is Path relative to the snapshot root; empty for the root itself.
	Rel   string
	Value json.RawMessage
}

// Segments splits Rel into its segments.
func (r Record) Segments() []string {
	if r.Rel == "" {
		return nil
	}
	return strings.Split(r.Rel, "/")
}

// Decode unmarshals the record value into v.
func (r Record) Decode(v any) error {
	if err := json.Unmarshal(r.Value, v); err != nil {
		return fmt.Errorf("decoding %s: %w", r.Path, err)
	}
	return nil
}

// Snapshot is the full value of a subtree at one moment. Records are in key
// ascending order.
type Snapshot struct {
	Path    string
	Records []Record
}

// Exists reports whether anything is stored at or below the snapshot root.
func (s Snapshot) Exists() bool {
	return len(s.Records) > 0
}

// Children returns the records exactly depth levels below the root.
func (s Snapshot) Children(depth int) []Record {
	var out []Record
	for _, r := range s.Records {
		if len(r.Segments()) == depth {
			out = append(out, r)
		}
	}
	return out
}
