package transfer

import "github.com/clipvault/clipvault/pkg/clipvault"

// DefaultPartSize is the fixed chunk size for multipart transfers. It must
// match what the coordinator validates completions against.
const DefaultPartSize = clipvault.PartSize

// PartRange describes one part of a planned transfer: a contiguous byte
// range [Offset, Offset+Size) and its 1-based part number.
type PartRange struct {
	Number int32
	Offset int64
	Size   int64
}

// Plan splits a file of the given size into ceil(size/partSize) contiguous
// parts numbered 1..N. The last part may be shorter. The ranges exactly
// cover [0, size).
func Plan(size, partSize int64) []PartRange {
	if size <= 0 || partSize <= 0 {
		return nil
	}

	n := size / partSize
	if size%partSize != 0 {
		n++
	}

	parts := make([]PartRange, 0, n)
	for i := int64(0); i < n; i++ {
		offset := i * partSize
		length := partSize
		if offset+length > size {
			length = size - offset
		}
		parts = append(parts, PartRange{
			Number: int32(i + 1),
			Offset: offset,
			Size:   length,
		})
	}
	return parts
}
