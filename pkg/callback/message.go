// Package callback is a reference AppendCallback implementation: the
// encoder contract spec.md §1 treats as an external collaborator. It
// defines a simple length-prefixed record format and frames records into
// a Segment's active buffer, deciding "not enough room" the way
// spec.md §4.2 requires of the callback rather than the segment.
package callback

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Message is one record handed to Encoder.DoAppend. NewMessage stamps ID
// with a fresh UUID; a Message built directly keeps the ID it was given,
// zero included. The ID is framing metadata the segment never inspects.
type Message struct {
	ID      uuid.UUID
	Key     string
	Payload []byte
}

// NewMessage builds a Message with a fresh random ID.
func NewMessage(key string, payload []byte) Message {
	return Message{ID: uuid.New(), Key: key, Payload: payload}
}

// recordSize is the on-wire size of m once encoded: 16 (uuid) + 4 (key
// length) + len(key) + 4 (payload length) + len(payload) + 8 (timestamp).
func recordSize(m Message) int {
	return 16 + 4 + len(m.Key) + 4 + len(m.Payload) + 8
}

// DecodeMessage reads one record previously written by Encoder from buf,
// returning the message, its timestamp, the number of bytes consumed, and
// false if buf does not hold a whole record. It is the
// inverse of Encoder.DoAppend's framing, used by readers that hold a
// segment.ReadSlice.
func DecodeMessage(buf []byte) (Message, int64, int, bool) {
	if len(buf) < 16+4 {
		return Message{}, 0, 0, false
	}
	var m Message
	copy(m.ID[:], buf[0:16])
	pos := 16

	keyLen := int(binary.BigEndian.Uint32(buf[pos:]))
	pos += 4
	if pos+keyLen+4 > len(buf) {
		return Message{}, 0, 0, false
	}
	m.Key = string(buf[pos : pos+keyLen])
	pos += keyLen

	payloadLen := int(binary.BigEndian.Uint32(buf[pos:]))
	pos += 4
	if pos+payloadLen+8 > len(buf) {
		return Message{}, 0, 0, false
	}
	m.Payload = append([]byte(nil), buf[pos:pos+payloadLen]...)
	pos += payloadLen

	ts := int64(binary.BigEndian.Uint64(buf[pos:]))
	pos += 8

	return m, ts, pos, true
}
