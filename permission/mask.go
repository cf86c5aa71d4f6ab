package permission

import "math/bits"

// MaxPermissions is the number of distinct permissions a single vocabulary
// can hold. Masks are 64 bits wide.
const MaxPermissions = 64

// Mask is an accumulated set of permission bits for one entity type.
// Bit i corresponds to the i-th name of the type's [Vocabulary].
type Mask uint64

// BitAt returns the single-bit mask for position pos, or 0 when pos is out
// of range.
func BitAt(pos int) Mask {
	if pos < 0 || pos >= MaxPermissions {
		return 0
	}
	return Mask(1) << pos
}

// Has reports whether bit position pos is set.
func (m Mask) Has(pos int) bool {
	if pos < 0 || pos >= MaxPermissions {
		return false
	}
	return m&(1<<pos) != 0
}

// HasAny reports whether m shares at least one bit with required.
func (m Mask) HasAny(required Mask) bool {
	return m&required != 0
}

// HasAll reports whether every bit of required is present in m.
func (m Mask) HasAll(required Mask) bool {
	return m&required == required
}

// Union returns m | other.
func (m Mask) Union(other Mask) Mask {
	return m | other
}

// Without returns m with every bit of other cleared.
func (m Mask) Without(other Mask) Mask {
	return m &^ other
}

// Count returns the number of set bits.
func (m Mask) Count() int {
	return bits.OnesCount64(uint64(m))
}

// IsSingleBit reports whether exactly one bit is set.
func (m Mask) IsSingleBit() bool {
	return m != 0 && m&(m-1) == 0
}

// Raw returns the mask as a plain integer.
func (m Mask) Raw() uint64 {
	return uint64(m)
}
