// Package framer turns a Message into on-wire datagram bytes and back,
// per spec.md §4.3. The exact AS-5669/AS-5684 header layout is not
// re-specified by spec.md ("the implementer uses those standards as the
// normative wire reference"); the layout below is a self-consistent
// rendering that hits the two minimum sizes spec.md does pin down (16
// bytes for AS5669, 14 for AS5684) and supports spec.md's stated
// requirement that one datagram may carry several concatenated messages.
//
// Common header, both versions (14 bytes): version(1) cmd_code(1)
// dst_id(3) src_id(3) msg_id(2, LE) seqnr(4, LE).
//
// AS5669 (v1, 16-byte minimum) adds a 2-byte little-endian payload length
// after the common header, then that many payload bytes — this is what
// makes multiple concatenated messages per datagram possible: Parse loops,
// re-entering at the byte past each message's payload.
//
// AS5684 (v2, 14-byte minimum) has no length field: the payload is
// whatever remains in the datagram, so a v2 datagram carries exactly one
// message.
package framer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fkie/jaus-ws-bridge/address"
	"github.com/fkie/jaus-ws-bridge/message"
)

// ErrShortFrame is spec.md §7's ShortFrame: the datagram (or what remains
// of it while parsing a concatenated sequence) is below the minimum size
// its declared version requires.
var ErrShortFrame = errors.New("framer: datagram shorter than minimum frame size")

const commonHeaderSize = 1 + 1 + 3 + 3 + 2 + 4
const lengthFieldSize = 2

// Serialize renders msg as on-wire bytes. msg.Version selects the header
// layout; msg.SeqNr is written as-is (the transport is responsible for
// assigning it before calling Serialize).
func Serialize(msg *message.Message) ([]byte, error) {
	if msg.Version.MinPacketSize() == 0 {
		return nil, fmt.Errorf("framer: unrecognised version %d", msg.Version)
	}
	buf := make([]byte, commonHeaderSize, commonHeaderSize+lengthFieldSize+len(msg.Payload))
	buf[0] = byte(msg.Version)
	buf[1] = byte(msg.CmdCode)
	buf[2], buf[3], buf[4] = msg.DstID.Subsystem, msg.DstID.Node, msg.DstID.Component
	buf[5], buf[6], buf[7] = msg.SrcID.Subsystem, msg.SrcID.Node, msg.SrcID.Component
	binary.LittleEndian.PutUint16(buf[8:10], msg.MsgID)
	binary.LittleEndian.PutUint32(buf[10:14], msg.SeqNr)

	if msg.Version == message.AS5669 {
		lengthBuf := make([]byte, lengthFieldSize)
		binary.LittleEndian.PutUint16(lengthBuf, uint16(len(msg.Payload)))
		buf = append(buf, lengthBuf...)
	}
	buf = append(buf, msg.Payload...)
	return buf, nil
}

// Parse splits one datagram into every Message it contains. AS5684
// datagrams always yield exactly one message (there is no length field to
// find a second one); AS5669 datagrams may yield several, parsed back to
// back until the buffer is exhausted.
func Parse(data []byte) ([]*message.Message, error) {
	var out []*message.Message
	offset := 0
	for offset < len(data) {
		msg, consumed, err := parseOne(data[offset:])
		if err != nil {
			return out, err
		}
		out = append(out, msg)
		offset += consumed
		if msg.Version != message.AS5669 {
			break
		}
	}
	return out, nil
}

func parseOne(data []byte) (*message.Message, int, error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("%w: empty datagram", ErrShortFrame)
	}
	version := message.Version(data[0])
	min := version.MinPacketSize()
	if min == 0 {
		return nil, 0, fmt.Errorf("%w: unrecognised version %d", ErrShortFrame, data[0])
	}
	if len(data) < min {
		return nil, 0, fmt.Errorf("%w: have %d bytes, need at least %d for version %d", ErrShortFrame, len(data), min, data[0])
	}

	msg := &message.Message{
		Version: version,
		CmdCode: message.CmdCode(data[1]),
		DstID:   address.Address{Subsystem: data[2], Node: data[3], Component: data[4]},
		SrcID:   address.Address{Subsystem: data[5], Node: data[6], Component: data[7]},
		MsgID:   binary.LittleEndian.Uint16(data[8:10]),
		SeqNr:   binary.LittleEndian.Uint32(data[10:14]),
	}

	if version != message.AS5669 {
		msg.Payload = append([]byte(nil), data[commonHeaderSize:]...)
		return msg, len(data), nil
	}

	if len(data) < commonHeaderSize+lengthFieldSize {
		return nil, 0, fmt.Errorf("%w: truncated length field", ErrShortFrame)
	}
	payloadLen := int(binary.LittleEndian.Uint16(data[commonHeaderSize : commonHeaderSize+lengthFieldSize]))
	start := commonHeaderSize + lengthFieldSize
	end := start + payloadLen
	if len(data) < end {
		return nil, 0, fmt.Errorf("%w: declared payload length %d exceeds remaining %d bytes", ErrShortFrame, payloadLen, len(data)-start)
	}
	msg.Payload = append([]byte(nil), data[start:end]...)
	return msg, end, nil
}
