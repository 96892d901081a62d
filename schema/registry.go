package schema

// Registry is a process-wide, read-only-after-construction mapping from a
// 16-bit message id (lowercase hex, zero-padded to 4 chars) to the ordered
// list of schemas registered for it. Multiple schemas may share an id;
// disambiguation on encode is by messageName (Schema.Title), on decode it is
// first-successful-parse.
type Registry struct {
	byID map[string][]*Schema
}

// NewRegistry returns an empty registry. Use Add to populate it, typically
// via Load; once constructed it should not be mutated concurrently with
// reads.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string][]*Schema)}
}

// Add appends s to the list registered for s.MessageID, preserving
// discovery order.
func (r *Registry) Add(s *Schema) {
	r.byID[s.MessageID] = append(r.byID[s.MessageID], s)
}

// Lookup returns every schema registered for id, in discovery order.
func (r *Registry) Lookup(id string) []*Schema {
	return r.byID[id]
}

// ByName returns the schema registered for id whose Title equals name, the
// same title match codec.EncodeMessage applies when several schemas share
// one message id.
func (r *Registry) ByName(id, name string) (*Schema, bool) {
	for _, s := range r.byID[id] {
		if s.Title == name {
			return s, true
		}
	}
	return nil, false
}

// MultipleCount returns how many message ids have more than one registered
// schema — the "warning count" spec.md's loader reports at startup.
func (r *Registry) MultipleCount() int {
	n := 0
	for _, list := range r.byID {
		if len(list) > 1 {
			n++
		}
	}
	return n
}

// Len returns the number of distinct message ids registered.
func (r *Registry) Len() int {
	return len(r.byID)
}

// IDs returns every registered message id, in no particular order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}

// Entry is one (id, schema) pair of the flattened view AllEntries returns,
// used by diagnostic tooling (cmd/registrydump) that needs to enumerate every
// loaded schema rather than look one up by id.
type Entry struct {
	ID     string
	Schema *Schema
}

// AllEntries flattens the registry into one Entry per (id, schema) pair.
func (r *Registry) AllEntries() []Entry {
	var entries []Entry
	for id, list := range r.byID {
		for _, s := range list {
			entries = append(entries, Entry{ID: id, Schema: s})
		}
	}
	return entries
}
