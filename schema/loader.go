package schema

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Load scans the directory tree rooted at dir for *.json files, parses each
// as a schema document, and inserts it into a fresh Registry keyed by its
// declared messageId. Multiple schemas under the same id are permitted and
// appended in the order they are discovered by the walk. Load never mutates
// the returned registry after it returns, and logs a warning with the count
// of ids that ended up with more than one schema.
func Load(dir string) (*Registry, error) {
	reg := NewRegistry()
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		s, err := loadFile(path)
		if err != nil {
			return fmt.Errorf("schema: %s: %w", path, err)
		}
		if s.Title == "" {
			// Not a message schema (e.g. a shared sub-schema fragment); skip it
			// the way the reference loader skips documents with no title.
			return nil
		}
		reg.Add(s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("schema: loaded %d message ids from %s (%d ids with multiple schemas)", reg.Len(), dir, reg.MultipleCount())
	return reg, nil
}

func loadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
