package codec

import (
	"fmt"

	"github.com/fkie/jaus-ws-bridge/schema"
)

// presenceState tracks the running presence-vector value and the next bit
// position, exactly mirroring encode's computePresenceVector: set once the
// "presenceVector" number property itself is decoded, then consulted (and
// always advanced) for every subsequent optional property.
type presenceState struct {
	vector *uint64
	index  uint64
}

// Decode unpacks payload against s into a freshly built Value tree,
// following schema.Properties in declaration order. reg resolves nested
// JAUS payload message ids; it may be nil if s is known not to contain any
// "JAUS MESSAGE" fields.
func Decode(payload []byte, s *schema.Schema, reg Registry) (Value, error) {
	v, _, err := decodeObject(payload, 0, s, reg)
	return v, err
}

// DecodeMessage tries every schema registered for id in discovery order,
// returning the first one that decodes without error — spec.md §4.5's
// "first successful schema wins" rule, chosen over the ambiguous
// loop-without-early-break behaviour of the implementation this was
// distilled from (see DESIGN.md).
func DecodeMessage(id string, payload []byte, reg *schema.Registry) (string, Value, error) {
	candidates := reg.Lookup(id)
	if len(candidates) == 0 {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownMessageID, id)
	}
	var errs []string
	for _, s := range candidates {
		v, err := Decode(payload, s, reg)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.Title, err))
			continue
		}
		return s.Title, v, nil
	}
	return "", nil, fmt.Errorf("%w: id %q: %v", ErrSchemaMismatch, id, errs)
}

func decodeObject(payload []byte, offset int, s *schema.Schema, reg Registry) (Value, int, error) {
	required := s.RequiredSet()
	out := make(Value, len(s.Properties))
	ps := &presenceState{}

	for _, p := range s.Properties {
		name := p.Name
		prop := p.Schema

		if ps.vector != nil && !required[name] {
			bit := ps.index
			ps.index <<= 1
			if *ps.vector&bit == 0 {
				continue
			}
		}

		var (
			newOffset int
			err       error
		)
		switch prop.Type {
		case schema.KindObject:
			newOffset, err = decodeObjectProperty(payload, offset, name, prop, reg, out)
		case schema.KindNumber:
			newOffset, err = decodeNumberProperty(payload, offset, name, prop, out, ps)
		case schema.KindString:
			newOffset, err = decodeStringProperty(payload, offset, name, prop, out)
		case schema.KindArray:
			newOffset, err = decodeArrayProperty(payload, offset, name, prop, reg, out)
		default:
			err = fmt.Errorf("codec: property %q: type %q not implemented", name, prop.Type)
		}
		if err != nil {
			return out, offset, err
		}
		offset = newOffset
	}
	return out, offset, nil
}

func decodeObjectProperty(payload []byte, offset int, name string, prop *schema.Schema, reg Registry, out Value) (int, error) {
	if prop.FieldFormat != "" {
		if prop.FieldFormat != schema.FieldFormatJAUSMessage {
			return offset, fmt.Errorf("codec: payload format %q not implemented", prop.FieldFormat)
		}
		return decodeNestedJAUS(payload, offset, prop, reg, out, name)
	}
	if prop.BitField != "" {
		width, err := typeSize(prop.BitField)
		if err != nil {
			return offset, err
		}
		// Every bit-range sub-property inside a bit-field reads the same
		// bytes at offset (none of them advance it); the container advances
		// past those bytes exactly once here, by its own declared width.
		child, _, err := decodeObject(payload, offset, prop, reg)
		if err != nil {
			return offset, err
		}
		out[name] = child
		return offset + width, nil
	}
	child, newOffset, err := decodeObject(payload, offset, prop, reg)
	if err != nil {
		return offset, err
	}
	out[name] = child
	return newOffset, nil
}

func decodeNestedJAUS(payload []byte, offset int, prop *schema.Schema, reg Registry, out Value, name string) (int, error) {
	width, err := typeSize(prop.JausType)
	if err != nil {
		return offset, err
	}
	sizeBuf := clampSlice(payload, offset, width)
	if len(sizeBuf) < width {
		return offset, fmt.Errorf("codec: short buffer reading nested payload size for %q", name)
	}
	size, err := unpackNumeric(prop.JausType, sizeBuf)
	if err != nil {
		return offset, err
	}
	offset += width
	payloadSize := int(size)
	if payloadSize < 2 {
		out[name] = Value{}
		return offset, nil
	}

	region := clampSlice(payload, offset, payloadSize)
	next := offset + payloadSize
	if len(region) < 2 {
		out[name] = Value{}
		return next, nil
	}
	msgIDRaw, _ := unpackRawUint("unsigned short integer", region[:2])
	idHex := fmt.Sprintf("%04x", uint16(msgIDRaw))

	field := Value{"payloadMessageId": idHex, "payload": Value{}}
	for _, candidate := range reg.Lookup(idHex) {
		decoded, _, err := decodeObject(region, 0, candidate, reg)
		if err != nil {
			continue
		}
		field["payload"] = decoded
		break
	}
	out[name] = field
	return next, nil
}

func decodeNumberProperty(payload []byte, offset int, name string, prop *schema.Schema, out Value, ps *presenceState) (int, error) {
	width, err := typeSize(prop.JausType)
	if err != nil {
		return offset, err
	}
	buf := clampSlice(payload, offset, width)
	if len(buf) < width {
		return offset, fmt.Errorf("codec: short buffer reading %q: need %d bytes, have %d", name, width, len(buf))
	}
	value, err := unpackNumeric(prop.JausType, buf)
	if err != nil {
		return offset, err
	}
	if prop.ScaleRange != nil {
		value = value*prop.ScaleRange.ScaleFactor + prop.ScaleRange.Bias
	}
	if prop.BitRange != nil {
		bits := maskBits(int64(value), prop.BitRange.From, prop.BitRange.To)
		out[name] = float64(bits)
		// bitRange properties never advance offset: the enclosing bit-field
		// object advances past the shared bytes exactly once (see
		// decodeObjectProperty).
		return offset, nil
	}
	out[name] = value
	offset += width
	if name == "presenceVector" {
		pv := uint64(int64(value))
		ps.vector = &pv
		ps.index = 1
	}
	return offset, nil
}

func decodeStringProperty(payload []byte, offset int, name string, prop *schema.Schema, out Value) (int, error) {
	if prop.MinLength != nil && prop.MaxLength != nil && *prop.MinLength == *prop.MaxLength {
		n := *prop.MaxLength
		buf := clampSlice(payload, offset, n)
		out[name] = stripTrailingNUL(buf)
		return offset + n, nil
	}

	width, err := typeSize(prop.JausType)
	if err != nil {
		return offset, err
	}
	lenBuf := clampSlice(payload, offset, width)
	if len(lenBuf) < width {
		return offset, fmt.Errorf("codec: short buffer reading %q length: need %d bytes, have %d", name, width, len(lenBuf))
	}
	lengthField, err := unpackNumeric(prop.JausType, lenBuf)
	if err != nil {
		return offset, err
	}
	offset += width

	if prop.Const != "" {
		out[name] = fmt.Sprintf("%x", int64(lengthField))
		return offset, nil
	}
	if prop.Enum {
		idx := int64(lengthField)
		if prop.BitRange != nil {
			offset -= width
			idx = maskBits(int64(lengthField), prop.BitRange.From, prop.BitRange.To)
		}
		out[name] = enumConstFor(prop.ValueSet, int(idx))
		return offset, nil
	}

	// BUG, preserved verbatim (spec.md §9 open question): on the wire the
	// length prefix for a variable-length string always carries maxLength
	// (see codec.go's encodeStringProperty), not the true emitted length.
	// Decode trusts the prefix literally, so it can read past what was
	// actually written for this field. This only stays harmless when the
	// field is the last thing in its enclosing record — clampSlice below
	// mimics Python's tolerant out-of-range slicing, returning only the
	// bytes that exist instead of panicking. TODO: once every peer reads the
	// true length, stop trusting the prefix here.
	n := int(lengthField)
	strBuf := clampSlice(payload, offset, n)
	out[name] = string(strBuf)
	return offset + n, nil
}

func decodeArrayProperty(payload []byte, offset int, name string, prop *schema.Schema, reg Registry, out Value) (int, error) {
	if prop.Items == nil || len(prop.Items.AnyOf) == 0 {
		return offset, fmt.Errorf("codec: array property %q has no items.anyOf", name)
	}
	if prop.JausType == "" {
		if prop.MinItems == nil {
			return offset, fmt.Errorf("codec: array property %q has neither jausType nor minItems", name)
		}
		count := *prop.MinItems
		arr := make([]interface{}, 0, count)
		elem := prop.Items.AnyOf[0]
		for i := 0; i < count; i++ {
			item, newOffset, err := decodeObject(payload, offset, elem, reg)
			if err != nil {
				return offset, err
			}
			offset = newOffset
			arr = append(arr, item)
		}
		out[name] = arr
		return offset, nil
	}

	width, err := typeSize(prop.JausType)
	if err != nil {
		return offset, err
	}
	lenBuf := clampSlice(payload, offset, width)
	if len(lenBuf) < width {
		return offset, fmt.Errorf("codec: short buffer reading %q length: need %d bytes, have %d", name, width, len(lenBuf))
	}
	lengthField, err := unpackNumeric(prop.JausType, lenBuf)
	if err != nil {
		return offset, err
	}
	offset += width

	if prop.IsVariant {
		// Asymmetry preserved verbatim (spec.md §9 open question): encode
		// never writes this discriminator (see codec.go's
		// encodeArrayProperty), so on a payload produced by this same codec
		// the bytes read here actually belong to whatever follows. And
		// unlike every other array, a decoded variant's fields are merged
		// directly into the enclosing object rather than being written
		// under out[name] as a list — that is what the reference decoder
		// does (it decodes straight into the caller's object, not a list it
		// assigns to name), so we match it rather than "fix" it.
		d := int(lengthField)
		if d < 0 || d >= len(prop.Items.AnyOf) {
			return offset, fmt.Errorf("codec: array property %q: discriminator %d out of range", name, d)
		}
		child, newOffset, err := decodeObject(payload, offset, prop.Items.AnyOf[d], reg)
		if err != nil {
			return offset, err
		}
		for k, v := range child {
			out[k] = v
		}
		return newOffset, nil
	}

	count := int(lengthField)
	arr := make([]interface{}, 0, count)
	elem := prop.Items.AnyOf[0]
	for i := 0; i < count; i++ {
		item, newOffset, err := decodeObject(payload, offset, elem, reg)
		if err != nil {
			return offset, err
		}
		offset = newOffset
		arr = append(arr, item)
	}
	out[name] = arr
	return offset, nil
}

func maskBits(value int64, from, to int) int64 {
	var mask int64
	for bit := from; bit <= to; bit++ {
		mask |= value & (1 << uint(bit))
	}
	return mask >> uint(from)
}

func enumConstFor(valueSet []schema.ValueSetEntry, index int) string {
	for _, e := range valueSet {
		if e.ValueEnum.EnumIndex == index {
			return e.ValueEnum.EnumConst
		}
	}
	return ""
}

func stripTrailingNUL(buf []byte) string {
	end := len(buf)
	for end > 0 && buf[end-1] == 0 {
		end--
	}
	return string(buf[:end])
}
