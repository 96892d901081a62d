// Package schema implements the declarative message schema tree the codec
// walks to translate between JAUS binary payloads and JSON values, and the
// process-wide registry that maps a 16-bit message id to the schema(s)
// registered for it.
//
// A schema file is a JSON document shaped like a (very small, bespoke)
// subset of JSON Schema: every node has a "type" of object/number/string/
// array, plus whichever of the attributes in Schema applies. Property order
// inside an "object" node is significant — it is the wire order — so
// Property preserves declaration order instead of using a plain Go map.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind is the JSON-schema-like type tag every node carries.
type Kind string

// Recognised node kinds.
const (
	KindObject Kind = "object"
	KindNumber Kind = "number"
	KindString Kind = "string"
	KindArray  Kind = "array"
)

// FieldFormatJAUSMessage is the only recognised fieldFormat value: it marks
// a property as holding a nested, dynamically-typed JAUS payload.
const FieldFormatJAUSMessage = "JAUS MESSAGE"

// ScaleRange is the linear mapping between a real-valued channel and the
// integer stored on the wire: real = stored*ScaleFactor + Bias.
type ScaleRange struct {
	Bias        float64 `json:"bias"`
	ScaleFactor float64 `json:"scaleFactor"`
}

// BitRange is an inclusive bit-index span within the containing integer.
type BitRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// EnumValue names one member of a value set: its wire index and its JSON
// constant name.
type EnumValue struct {
	EnumConst string `json:"enumConst"`
	EnumIndex int    `json:"enumIndex"`
}

// ValueSetEntry wraps one EnumValue the way the source schemas nest it
// (`{"valueEnum": {...}}` per entry).
type ValueSetEntry struct {
	ValueEnum EnumValue `json:"valueEnum"`
}

// Items describes the element schema(s) of an array node. Index 0 is used
// for homogeneous lists; for isVariant arrays the discriminator read at
// decode time indexes directly into AnyOf.
type Items struct {
	AnyOf []*Schema `json:"anyOf"`
}

// Property is one (name, schema) pair of an object node's properties,
// order-preserved.
type Property struct {
	Name   string
	Schema *Schema
}

// Schema is one node of the schema tree. Only the attributes relevant to
// Type are meaningful; the rest are left at their zero value.
type Schema struct {
	Type Kind `json:"type"`

	// Present on the root node of a schema file.
	Title     string `json:"title,omitempty"`
	MessageID string `json:"messageId,omitempty"`

	// object
	Required   []string   `json:"required,omitempty"`
	Properties []Property `json:"-"`
	BitField   string     `json:"bitField,omitempty"`
	// FieldFormat, when equal to FieldFormatJAUSMessage, marks this object
	// property as a nested JAUS payload.
	FieldFormat string `json:"fieldFormat,omitempty"`

	// number, string, array
	JausType string `json:"jausType,omitempty"`

	// string
	Const      string          `json:"const,omitempty"`
	Enum       bool            `json:"enum,omitempty"`
	ValueSet   []ValueSetEntry `json:"valueSet,omitempty"`
	MinLength  *int            `json:"minLength,omitempty"`
	MaxLength  *int            `json:"maxLength,omitempty"`

	// number, string
	ScaleRange *ScaleRange `json:"scaleRange,omitempty"`
	BitRange   *BitRange   `json:"bitRange,omitempty"`

	// array
	IsVariant bool   `json:"isVariant,omitempty"`
	MinItems  *int   `json:"minItems,omitempty"`
	MaxItems  *int   `json:"maxItems,omitempty"`
	Items     *Items `json:"items,omitempty"`
}

// RequiredSet returns Required as a lookup set.
func (s *Schema) RequiredSet() map[string]bool {
	out := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		out[r] = true
	}
	return out
}

// schemaAlias lets UnmarshalJSON decode every field except Properties with
// the default decoder, then fix up Properties by hand to preserve order.
type schemaAlias Schema

// UnmarshalJSON decodes a schema node, preserving the declaration order of
// an object node's "properties" — order is the wire order, so a plain Go
// map (which does not preserve insertion order) cannot be used here.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var raw struct {
		schemaAlias
		Properties json.RawMessage `json:"properties"`
		Enum       json.RawMessage `json:"enum"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	*s = Schema(raw.schemaAlias)
	s.Enum = enumPresent(raw.Enum)
	if len(raw.Properties) == 0 {
		return nil
	}
	props, err := decodeOrderedProperties(raw.Properties)
	if err != nil {
		return fmt.Errorf("schema %q: properties: %w", s.Title, err)
	}
	s.Properties = props
	return nil
}

// enumPresent reports whether a schema node's "enum" attribute marks the
// property as enumerated. The reference only checks attribute presence
// (hasattr(prop, 'enum')); this codebase's own schemas spell it as a bare
// boolean, but JSON Schema convention spells it as the array of allowed
// values, so both shapes (and a present-but-empty array) are tolerated
// instead of failing the whole schema file's Unmarshal over the unused one.
func enumPresent(raw json.RawMessage) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return len(arr) > 0
	}
	return true
}

// decodeOrderedProperties walks the raw "properties" object token by token
// to recover key order, then unmarshals each value as a Schema.
func decodeOrderedProperties(raw json.RawMessage) ([]Property, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var props []Property
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected property name, got %v", keyTok)
		}
		var child Schema
		if err := dec.Decode(&child); err != nil {
			return nil, fmt.Errorf("property %q: %w", key, err)
		}
		props = append(props, Property{Name: key, Schema: &child})
	}
	return props, nil
}
