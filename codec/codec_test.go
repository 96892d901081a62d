package codec

import (
	"testing"

	"github.com/fkie/jaus-ws-bridge/message"
	"github.com/fkie/jaus-ws-bridge/schema"
	"github.com/go-test/deep"
)

func loadTestRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.Load("../schema/testdata")
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}
	return reg
}

func TestEncodeDecodeReportIdentification(t *testing.T) {
	reg := loadTestRegistry(t)
	s, ok := reg.ByName("4b00", "ReportIdentification")
	if !ok {
		t.Fatal("ReportIdentification schema not found")
	}

	input := Value{
		"HeaderRec": Value{},
		"ReportIdentificationRec": Value{
			"QueryType":      "System Identification",
			"Type":           "VEHICLE",
			"Identification": "TestVehicle",
		},
	}

	out := message.New(0x4b00)
	if err := Encode(input, s, reg, out); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := []byte{0x00, 0x4b, 0x02, 0x01, 0xff, 0x00}
	want = append(want, []byte("TestVehicle")...)
	if diff := deep.Equal(out.Payload, want); diff != nil {
		t.Fatalf("Payload mismatch: %v (got % x)", diff, out.Payload)
	}

	decoded, err := Decode(out.Payload, s, reg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	rec, _ := decoded["ReportIdentificationRec"].(Value)
	if rec["QueryType"] != "System Identification" {
		t.Errorf("QueryType = %v, want %q", rec["QueryType"], "System Identification")
	}
	if rec["Type"] != "VEHICLE" {
		t.Errorf("Type = %v, want %q", rec["Type"], "VEHICLE")
	}
	if rec["Identification"] != "TestVehicle" {
		t.Errorf("Identification = %v, want %q", rec["Identification"], "TestVehicle")
	}
	header, _ := decoded["HeaderRec"].(Value)
	if header["MessageID"] != "4b00" {
		t.Errorf("MessageID = %v, want %q", header["MessageID"], "4b00")
	}
}

func TestEncodeMissingRequiredField(t *testing.T) {
	reg := loadTestRegistry(t)
	s, _ := reg.ByName("4b00", "ReportIdentification")

	input := Value{
		"HeaderRec": Value{},
		"ReportIdentificationRec": Value{
			"QueryType": "System Identification",
			"Type":      "VEHICLE",
			// Identification deliberately omitted.
		},
	}

	out := message.New(0x4b00)
	err := Encode(input, s, reg, out)
	if err == nil {
		t.Fatal("Encode: expected error for missing required field, got nil")
	}
	if !isMissingRequiredField(err) {
		t.Errorf("Encode error = %v, want ErrMissingRequiredField", err)
	}
}

func isMissingRequiredField(err error) bool {
	for err != nil {
		if err == ErrMissingRequiredField {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return false
}

func TestPackNumericSaturates(t *testing.T) {
	cases := []struct {
		jausType string
		in       float64
		want     []byte
	}{
		{"unsigned byte", 300, []byte{0xff}},
		{"byte", -200, []byte{0x80}},
		{"unsigned short integer", 70000, []byte{0xff, 0xff}},
	}
	for _, c := range cases {
		got, err := packNumeric(c.jausType, c.in)
		if err != nil {
			t.Fatalf("packNumeric(%q, %v): %v", c.jausType, c.in, err)
		}
		if diff := deep.Equal(got, c.want); diff != nil {
			t.Errorf("packNumeric(%q, %v) = % x, want % x", c.jausType, c.in, got, c.want)
		}
	}
}

// TestPresenceVectorSkipsAbsentOptionalFields exercises spec.md §8 property
// #4: encode sets one bit per present optional property (in declaration
// order after "presenceVector", required properties consuming no bit), and
// decode must read exactly the same optional fields back, skipping the rest
// without advancing past bytes that were never written for them.
func TestPresenceVectorSkipsAbsentOptionalFields(t *testing.T) {
	s := &schema.Schema{
		Type:     schema.KindObject,
		Required: []string{"Req"},
		Properties: []schema.Property{
			{Name: "presenceVector", Schema: &schema.Schema{Type: schema.KindNumber, JausType: "unsigned byte"}},
			{Name: "Req", Schema: &schema.Schema{Type: schema.KindNumber, JausType: "unsigned byte"}},
			{Name: "OptA", Schema: &schema.Schema{Type: schema.KindNumber, JausType: "unsigned byte"}},
			{Name: "OptB", Schema: &schema.Schema{Type: schema.KindNumber, JausType: "unsigned byte"}},
		},
	}

	input := Value{"Req": float64(5), "OptA": float64(7)}
	out := message.New(0)
	if err := Encode(input, s, nil, out); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x01, 0x05, 0x07}
	if diff := deep.Equal(out.Payload, want); diff != nil {
		t.Fatalf("Payload = % x, want % x", out.Payload, want)
	}

	decoded, err := Decode(out.Payload, s, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded["Req"] != 5.0 {
		t.Errorf("Req = %v, want 5", decoded["Req"])
	}
	if decoded["OptA"] != 7.0 {
		t.Errorf("OptA = %v, want 7", decoded["OptA"])
	}
	if _, present := decoded["OptB"]; present {
		t.Errorf("OptB decoded as present: %v, want absent", decoded["OptB"])
	}
}

// TestIsVariantDecodeMergesIntoEnclosingObject exercises spec.md §9's
// documented asymmetry: decode reads a discriminator, recurses into
// items.anyOf[d], and merges the child's fields directly into the enclosing
// object rather than writing a list under the property name.
func TestIsVariantDecodeMergesIntoEnclosingObject(t *testing.T) {
	variantA := &schema.Schema{
		Type:       schema.KindObject,
		Properties: []schema.Property{{Name: "X", Schema: &schema.Schema{Type: schema.KindNumber, JausType: "unsigned byte"}}},
	}
	variantB := &schema.Schema{
		Type:       schema.KindObject,
		Properties: []schema.Property{{Name: "Y", Schema: &schema.Schema{Type: schema.KindNumber, JausType: "unsigned byte"}}},
	}
	s := &schema.Schema{
		Type: schema.KindObject,
		Properties: []schema.Property{
			{Name: "Variant", Schema: &schema.Schema{
				Type:      schema.KindArray,
				JausType:  "unsigned byte",
				IsVariant: true,
				Items:     &schema.Items{AnyOf: []*schema.Schema{variantA, variantB}},
			}},
		},
	}

	// discriminator 1 selects variantB; payload byte 9 is Y's value.
	decoded, err := Decode([]byte{0x01, 0x09}, s, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded["Y"] != 9.0 {
		t.Errorf("Y = %v, want 9", decoded["Y"])
	}
	if _, present := decoded["X"]; present {
		t.Errorf("X decoded as present: %v, want absent (wrong variant)", decoded["X"])
	}
	if _, present := decoded["Variant"]; present {
		t.Errorf("Variant key present in decoded object: %v, want merged into enclosing object", decoded["Variant"])
	}
}

// TestNestedJAUSPayloadEncode exercises spec.md §4.4's nested "JAUS MESSAGE"
// encode: look up payloadMessageId, encode the inner payload value against
// the registered candidate schema, and emit [size][payload bytes] with no
// message id written onto the wire.
func TestNestedJAUSPayloadEncode(t *testing.T) {
	inner := &schema.Schema{
		Title:      "InnerMsg",
		MessageID:  "0001",
		Type:       schema.KindObject,
		Required:   []string{"V"},
		Properties: []schema.Property{{Name: "V", Schema: &schema.Schema{Type: schema.KindNumber, JausType: "unsigned byte"}}},
	}
	reg := schema.NewRegistry()
	reg.Add(inner)

	outer := &schema.Schema{
		Type:     schema.KindObject,
		Required: []string{"Payload"},
		Properties: []schema.Property{
			{Name: "Payload", Schema: &schema.Schema{
				Type:        schema.KindObject,
				FieldFormat: schema.FieldFormatJAUSMessage,
				JausType:    "unsigned short integer",
			}},
		},
	}

	input := Value{
		"Payload": Value{
			"payloadMessageId": "0001",
			"payload":          Value{"V": float64(42)},
		},
	}
	out := message.New(0)
	if err := Encode(input, outer, reg, out); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x01, 0x00, 0x2a}
	if diff := deep.Equal(out.Payload, want); diff != nil {
		t.Fatalf("Payload = % x, want % x", out.Payload, want)
	}
}

// TestNestedJAUSPayloadDecodePeeksWithoutAdvancing exercises decode.go's
// faithful reproduction of message_serializer.py's _getProperties: it peeks
// the inner message id from the first two bytes of the size-prefixed region
// but recurses into the candidate schema starting at that same offset, not
// past the id — the candidate's own fields re-read those same two bytes
// rather than skipping them. This is not a round trip with encode (encode
// never writes an id onto the wire at all); it is decode's documented
// behaviour in isolation (spec.md §4.5, decode.go's decodeNestedJAUS).
func TestNestedJAUSPayloadDecodePeeksWithoutAdvancing(t *testing.T) {
	inner := &schema.Schema{
		Title:      "InnerMsg",
		MessageID:  "0001",
		Type:       schema.KindObject,
		Required:   []string{"ID"},
		Properties: []schema.Property{{Name: "ID", Schema: &schema.Schema{Type: schema.KindNumber, JausType: "unsigned short integer"}}},
	}
	reg := schema.NewRegistry()
	reg.Add(inner)

	outer := &schema.Schema{
		Type: schema.KindObject,
		Properties: []schema.Property{
			{Name: "Payload", Schema: &schema.Schema{
				Type:        schema.KindObject,
				FieldFormat: schema.FieldFormatJAUSMessage,
				JausType:    "unsigned short integer",
			}},
		},
	}

	// size=2, then region=[1,0]: those same two bytes serve both as the
	// peeked message id (0x0001) and as InnerMsg's own "ID" field value.
	payload := []byte{0x02, 0x00, 0x01, 0x00}
	decoded, err := Decode(payload, outer, reg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	field, ok := decoded["Payload"].(Value)
	if !ok {
		t.Fatalf("Payload = %v (%T), want a Value", decoded["Payload"], decoded["Payload"])
	}
	if field["payloadMessageId"] != "0001" {
		t.Errorf("payloadMessageId = %v, want 0001", field["payloadMessageId"])
	}
	inner2, ok := field["payload"].(Value)
	if !ok {
		t.Fatalf("payload = %v (%T), want a Value", field["payload"], field["payload"])
	}
	if inner2["ID"] != 1.0 {
		t.Errorf("ID = %v, want 1", inner2["ID"])
	}
}

// TestNestedJAUSPayloadDecodeShortSizeYieldsEmptyPayload covers the < 2
// early-out: a declared payload size under 2 bytes can't even hold a
// message id, so decode emits an empty payload object rather than reading
// further.
func TestNestedJAUSPayloadDecodeShortSizeYieldsEmptyPayload(t *testing.T) {
	outer := &schema.Schema{
		Type: schema.KindObject,
		Properties: []schema.Property{
			{Name: "Payload", Schema: &schema.Schema{
				Type:        schema.KindObject,
				FieldFormat: schema.FieldFormatJAUSMessage,
				JausType:    "unsigned short integer",
			}},
		},
	}
	decoded, err := Decode([]byte{0x00, 0x00}, outer, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	field, ok := decoded["Payload"].(Value)
	if !ok {
		t.Fatalf("Payload = %v (%T), want a Value", decoded["Payload"], decoded["Payload"])
	}
	if len(field) != 0 {
		t.Errorf("Payload = %v, want empty", field)
	}
}

// TestScaleRangeRoundTrip exercises spec.md §8 property #1: a scaled
// numeric channel stores round((real-bias)/scaleFactor) on the wire and
// recovers stored*scaleFactor+bias on decode.
func TestScaleRangeRoundTrip(t *testing.T) {
	s := &schema.Schema{
		Type:     schema.KindObject,
		Required: []string{"V"},
		Properties: []schema.Property{
			{Name: "V", Schema: &schema.Schema{
				Type:       schema.KindNumber,
				JausType:   "short integer",
				ScaleRange: &schema.ScaleRange{Bias: 10, ScaleFactor: 0.5},
			}},
		},
	}

	out := message.New(0)
	if err := Encode(Value{"V": float64(20)}, s, nil, out); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x14, 0x00} // round((20-10)/0.5) == 20, little-endian int16
	if diff := deep.Equal(out.Payload, want); diff != nil {
		t.Fatalf("Payload = % x, want % x", out.Payload, want)
	}

	decoded, err := Decode(out.Payload, s, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded["V"] != 20.0 {
		t.Errorf("V = %v, want 20", decoded["V"])
	}
}

// TestFixedLengthStringRoundTrip covers the minLength==maxLength branch:
// NUL-padded to the declared width on encode, trailing NULs stripped on
// decode.
func TestFixedLengthStringRoundTrip(t *testing.T) {
	n := 8
	s := &schema.Schema{
		Type:     schema.KindObject,
		Required: []string{"Name"},
		Properties: []schema.Property{
			{Name: "Name", Schema: &schema.Schema{Type: schema.KindString, MinLength: &n, MaxLength: &n}},
		},
	}

	out := message.New(0)
	if err := Encode(Value{"Name": "Hi"}, s, nil, out); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := append([]byte("Hi"), make([]byte, 6)...)
	if diff := deep.Equal(out.Payload, want); diff != nil {
		t.Fatalf("Payload = % x, want % x", out.Payload, want)
	}

	decoded, err := Decode(out.Payload, s, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded["Name"] != "Hi" {
		t.Errorf("Name = %q, want %q", decoded["Name"], "Hi")
	}
}

// TestHomogeneousArrayRoundTrip covers a count-prefixed array of object
// elements (as opposed to the isVariant merge-into-enclosing-object case).
func TestHomogeneousArrayRoundTrip(t *testing.T) {
	elem := &schema.Schema{
		Type:       schema.KindObject,
		Required:   []string{"X"},
		Properties: []schema.Property{{Name: "X", Schema: &schema.Schema{Type: schema.KindNumber, JausType: "unsigned byte"}}},
	}
	s := &schema.Schema{
		Type:     schema.KindObject,
		Required: []string{"Items"},
		Properties: []schema.Property{
			{Name: "Items", Schema: &schema.Schema{
				Type:     schema.KindArray,
				JausType: "unsigned byte",
				Items:    &schema.Items{AnyOf: []*schema.Schema{elem}},
			}},
		},
	}

	input := Value{"Items": []interface{}{Value{"X": float64(5)}, Value{"X": float64(9)}}}
	out := message.New(0)
	if err := Encode(input, s, nil, out); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x02, 0x05, 0x09}
	if diff := deep.Equal(out.Payload, want); diff != nil {
		t.Fatalf("Payload = % x, want % x", out.Payload, want)
	}

	decoded, err := Decode(out.Payload, s, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	items, ok := decoded["Items"].([]interface{})
	if !ok || len(items) != 2 {
		t.Fatalf("Items = %v, want a 2-element slice", decoded["Items"])
	}
	first, _ := items[0].(Value)
	second, _ := items[1].(Value)
	if first["X"] != 5.0 || second["X"] != 9.0 {
		t.Errorf("Items = %v, want X=5 then X=9", items)
	}
}

// TestDecodeMessageTriesCandidatesInOrder exercises spec.md §8 property #5 /
// §4.5's "first successful schema wins": a candidate that fails to decode
// (here, a short buffer) is skipped in favor of the next one registered for
// the same message id, rather than the whole lookup failing.
func TestDecodeMessageTriesCandidatesInOrder(t *testing.T) {
	tooWide := &schema.Schema{
		Title:      "TooWide",
		MessageID:  "1234",
		Type:       schema.KindObject,
		Required:   []string{"V"},
		Properties: []schema.Property{{Name: "V", Schema: &schema.Schema{Type: schema.KindNumber, JausType: "unsigned integer"}}},
	}
	fits := &schema.Schema{
		Title:      "Fits",
		MessageID:  "1234",
		Type:       schema.KindObject,
		Required:   []string{"V"},
		Properties: []schema.Property{{Name: "V", Schema: &schema.Schema{Type: schema.KindNumber, JausType: "unsigned byte"}}},
	}
	reg := schema.NewRegistry()
	reg.Add(tooWide)
	reg.Add(fits)

	title, decoded, err := DecodeMessage("1234", []byte{0x07}, reg)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if title != "Fits" {
		t.Errorf("title = %q, want %q", title, "Fits")
	}
	if decoded["V"] != 7.0 {
		t.Errorf("V = %v, want 7", decoded["V"])
	}
}

func TestBitFieldAccumulate(t *testing.T) {
	outerSchema := &schema.Schema{
		Type:     schema.KindObject,
		Required: []string{"Flags"},
		Properties: []schema.Property{
			{Name: "Flags", Schema: &schema.Schema{
				Type:     schema.KindObject,
				BitField: "unsigned byte",
				Properties: []schema.Property{
					{Name: "A", Schema: &schema.Schema{
						Type:     schema.KindNumber,
						JausType: "unsigned byte",
						BitRange: &schema.BitRange{From: 4, To: 7},
					}},
				},
			}},
		},
	}

	input := Value{"Flags": Value{"A": float64(3)}}
	out := message.New(0)
	if err := Encode(input, outerSchema, nil, out); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Double-emission bug: the raw value (3) is appended once as an
	// ordinary number, then the bit-field container appends the
	// left-shifted accumulator (3 << 4 == 0x30) as its own byte — the
	// seed scenario spec.md states verbatim.
	want := []byte{0x03, 0x30}
	if diff := deep.Equal(out.Payload, want); diff != nil {
		t.Fatalf("Payload = % x, want % x", out.Payload, want)
	}
}
