package chunkStore

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of a complete chunk record.
const (
	fieldContent protowire.Number = 1
	fieldDepth   protowire.Number = 2
	fieldSize    protowire.Number = 3
)

// completeRecord is the value stored in the complete-chunks store.
type completeRecord struct {
	Content []byte
	Depth   uint64
	Size    uint64
}

func (r completeRecord) marshal() []byte {
	b := make([]byte, 0, len(r.Content)+24)
	b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Content)
	b = protowire.AppendTag(b, fieldDepth, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Depth)
	b = protowire.AppendTag(b, fieldSize, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Size)
	return b
}

// unmarshalCompleteRecord skips unknown fields so newer writers stay readable.
func unmarshalCompleteRecord(b []byte) (completeRecord, error) {
	var r completeRecord
	var seenSize bool

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return completeRecord{}, fmt.Errorf("%w: %v", ErrCorruptRecord, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldContent && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return completeRecord{}, fmt.Errorf("%w: content: %v", ErrCorruptRecord, protowire.ParseError(m))
			}
			r.Content = append([]byte{}, v...)
			n = m
		case num == fieldDepth && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return completeRecord{}, fmt.Errorf("%w: depth: %v", ErrCorruptRecord, protowire.ParseError(m))
			}
			r.Depth = v
			n = m
		case num == fieldSize && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return completeRecord{}, fmt.Errorf("%w: size: %v", ErrCorruptRecord, protowire.ParseError(m))
			}
			r.Size = v
			seenSize = true
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return completeRecord{}, fmt.Errorf("%w: field %d: %v", ErrCorruptRecord, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}

	if !seenSize {
		return completeRecord{}, fmt.Errorf("%w: size missing", ErrCorruptRecord)
	}
	if r.Content == nil {
		r.Content = []byte{}
	}
	return r, nil
}
