package segment

// AppendStatus reports how an append attempt went. Only UNKNOWN_ERROR is
// produced by the segment itself (a full segment); the remaining values are
// for the encoder (AppendCallback) to use when it decides there isn't
// enough room to frame the message in the remaining bytes.
type AppendStatus int

const (
	AppendOK AppendStatus = iota
	AppendEndOfFile
	AppendMessageSizeExceeded
	AppendUnknownError
)

// AppendResult is what an AppendCallback hands back to Segment.AppendEncoded.
type AppendResult struct {
	Status         AppendStatus
	WroteBytes     int
	StoreTimestamp int64
}

// AppendCallback is the encoder contract: given the segment's starting log
// offset, a slice positioned at wrotePosition, and the number of bytes left
// in the segment, lay msg out in bytes and report what happened. The
// segment does not interpret msg; framing and "not enough room" decisions
// belong entirely to the callback. This is an external collaborator per
// spec.md §1 — pkg/callback ships one concrete implementation.
type AppendCallback interface {
	DoAppend(segmentStartOffset int64, buffer []byte, remaining int, msg any) AppendResult
}
