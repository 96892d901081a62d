package framer

import (
	"testing"

	"github.com/fkie/jaus-ws-bridge/address"
	"github.com/fkie/jaus-ws-bridge/message"
	"github.com/go-test/deep"
)

func TestSerializeParseRoundTripV1(t *testing.T) {
	msg := &message.Message{
		Version: message.AS5669,
		CmdCode: message.CodeData,
		MsgID:   0x4b00,
		SrcID:   address.Address{Subsystem: 1, Node: 2, Component: 3},
		DstID:   address.Address{Subsystem: 127, Node: 255, Component: 255},
		SeqNr:   42,
		Payload: []byte{0xde, 0xad, 0xbe, 0xef},
	}
	data, err := Serialize(msg)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(data) != commonHeaderSize+lengthFieldSize+len(msg.Payload) {
		t.Fatalf("Serialize produced %d bytes, want %d", len(data), commonHeaderSize+lengthFieldSize+len(msg.Payload))
	}

	msgs, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Parse: got %d messages, want 1", len(msgs))
	}
	got := msgs[0]
	if diff := deep.Equal(got.SrcID, msg.SrcID); diff != nil {
		t.Errorf("SrcID: %v", diff)
	}
	if diff := deep.Equal(got.DstID, msg.DstID); diff != nil {
		t.Errorf("DstID: %v", diff)
	}
	if got.MsgID != msg.MsgID || got.SeqNr != msg.SeqNr || got.CmdCode != msg.CmdCode {
		t.Errorf("header fields mismatch: got %+v", got)
	}
	if diff := deep.Equal(got.Payload, msg.Payload); diff != nil {
		t.Errorf("Payload: %v", diff)
	}
}

func TestParseConcatenatedV1Messages(t *testing.T) {
	a := &message.Message{Version: message.AS5669, MsgID: 1, SeqNr: 1, Payload: []byte{1, 2}}
	b := &message.Message{Version: message.AS5669, MsgID: 2, SeqNr: 2, Payload: []byte{3, 4, 5}}
	aBytes, _ := Serialize(a)
	bBytes, _ := Serialize(b)
	datagram := append(append([]byte{}, aBytes...), bBytes...)

	msgs, err := Parse(datagram)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Parse: got %d messages, want 2", len(msgs))
	}
	if msgs[0].MsgID != 1 || msgs[1].MsgID != 2 {
		t.Errorf("got msg ids %d, %d, want 1, 2", msgs[0].MsgID, msgs[1].MsgID)
	}
}

func TestParseV2SingleMessage(t *testing.T) {
	msg := &message.Message{Version: message.AS5684, MsgID: 7, SeqNr: 9, Payload: []byte{9, 9, 9}}
	data, err := Serialize(msg)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(data) != commonHeaderSize+len(msg.Payload) {
		t.Fatalf("Serialize (v2) produced %d bytes, want %d", len(data), commonHeaderSize+len(msg.Payload))
	}
	msgs, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("Parse: got %d messages, want 1", len(msgs))
	}
	if diff := deep.Equal(msgs[0].Payload, msg.Payload); diff != nil {
		t.Errorf("Payload: %v", diff)
	}
}

func TestParseShortFrame(t *testing.T) {
	if _, err := Parse([]byte{byte(message.AS5669), 0, 0}); err == nil {
		t.Fatal("Parse: expected ShortFrame error for a 3-byte datagram")
	}
}

func TestParseTruncatedDeclaredLength(t *testing.T) {
	msg := &message.Message{Version: message.AS5669, MsgID: 1, Payload: []byte{1, 2, 3, 4}}
	data, _ := Serialize(msg)
	truncated := data[:len(data)-2]
	if _, err := Parse(truncated); err == nil {
		t.Fatal("Parse: expected ShortFrame error for truncated payload")
	}
}
