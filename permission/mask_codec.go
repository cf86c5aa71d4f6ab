package permission

import (
	"encoding/binary"
	"errors"
)

// MaskSize is the encoded length of a [Mask] in bytes.
const MaskSize = 8

// ErrInvalidMaskEncoding is returned by [DecodeMask] for inputs that are not
// exactly [MaskSize] bytes long.
var ErrInvalidMaskEncoding = errors.New("invalid mask size")

// EncodeMask serializes mask as 8 big-endian bytes. Stores that keep binary
// values use this layout so records stay readable across versions.
func EncodeMask(mask Mask) []byte {
	b := make([]byte, MaskSize)
	binary.BigEndian.PutUint64(b, uint64(mask))
	return b
}

// DecodeMask parses the output of [EncodeMask].
func DecodeMask(data []byte) (Mask, error) {
	if len(data) != MaskSize {
		return 0, ErrInvalidMaskEncoding
	}
	return Mask(binary.BigEndian.Uint64(data)), nil
}
