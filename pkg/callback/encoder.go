package callback

import (
	"encoding/binary"
	"time"

	"github.com/downfa11-org/segment-store/pkg/segment"
)

// Encoder is the reference segment.AppendCallback: it frames a Message as
// [16-byte uuid][4-byte key length][key][4-byte payload length][payload]
// [8-byte millisecond timestamp], matching how MappedFile.AppendMessageCallback
// implementations decide EndOfFile vs MessageSizeExceeded themselves rather
// than leaving that judgment to the segment.
//
// now is overridable in tests; it defaults to the wall clock.
type Encoder struct {
	now func() int64
}

// NewEncoder returns an Encoder that stamps records with nowMillis(), or
// with the current wall-clock time in milliseconds when nowMillis is nil.
func NewEncoder(nowMillis func() int64) *Encoder {
	if nowMillis == nil {
		nowMillis = func() int64 { return time.Now().UnixMilli() }
	}
	return &Encoder{now: nowMillis}
}

// DoAppend implements segment.AppendCallback.
func (e *Encoder) DoAppend(segmentStartOffset int64, buffer []byte, remaining int, msg any) segment.AppendResult {
	m, ok := msg.(Message)
	if !ok {
		if mp, isPtr := msg.(*Message); isPtr {
			m, ok = *mp, true
		}
	}
	if !ok {
		return segment.AppendResult{Status: segment.AppendUnknownError}
	}

	need := recordSize(m)
	if need > remaining {
		// A record larger than the whole buffer handed in is reported as
		// MessageSizeExceeded; one that fits the buffer but not remaining
		// is reported as EndOfFile. Segment.AppendEncoded passes a buffer
		// whose length equals remaining, so on that path an oversized
		// record always yields MessageSizeExceeded; the encoder has no
		// segment size to compare against.
		if need > len(buffer) {
			return segment.AppendResult{Status: segment.AppendMessageSizeExceeded}
		}
		return segment.AppendResult{Status: segment.AppendEndOfFile}
	}

	pos := 0
	copy(buffer[pos:pos+16], m.ID[:])
	pos += 16

	binary.BigEndian.PutUint32(buffer[pos:], uint32(len(m.Key)))
	pos += 4
	copy(buffer[pos:pos+len(m.Key)], m.Key)
	pos += len(m.Key)

	binary.BigEndian.PutUint32(buffer[pos:], uint32(len(m.Payload)))
	pos += 4
	copy(buffer[pos:pos+len(m.Payload)], m.Payload)
	pos += len(m.Payload)

	ts := e.now()
	binary.BigEndian.PutUint64(buffer[pos:], uint64(ts))
	pos += 8

	return segment.AppendResult{Status: segment.AppendOK, WroteBytes: pos, StoreTimestamp: ts}
}
