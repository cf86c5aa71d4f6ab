package permission

import (
	"fmt"
	"strings"
)

// Choice pairs a permission bit with its name, in the shape presentation
// layers use for select options.
type Choice struct {
	Bit  Mask
	Name string
}

// Vocabulary is the ordered, named permission set of one entity type.
// The i-th name owns bit 1<<i. A Vocabulary is immutable after
// [NewVocabulary] returns and is safe for concurrent use.
type Vocabulary struct {
	names     []string
	nameToPos map[string]int
	all       Mask
}

// NewVocabulary assigns bit 1<<i to names[i].
func NewVocabulary(names ...string) (*Vocabulary, error) {
	if len(names) > MaxPermissions {
		return nil, fmt.Errorf("%w: %d names, max %d", ErrTooManyPermissions, len(names), MaxPermissions)
	}

	v := &Vocabulary{
		names:     make([]string, 0, len(names)),
		nameToPos: make(map[string]int, len(names)),
	}

	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: position %d", ErrEmptyName, i)
		}
		if _, exists := v.nameToPos[name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		v.nameToPos[name] = i
		v.names = append(v.names, name)
		v.all |= BitAt(i)
	}

	return v, nil
}

// Len returns the number of permissions.
func (v *Vocabulary) Len() int {
	return len(v.names)
}

// All returns the mask with every defined bit set.
func (v *Vocabulary) All() Mask {
	return v.all
}

// Bit returns the bit value of name.
func (v *Vocabulary) Bit(name string) (Mask, error) {
	pos, ok := v.nameToPos[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPermission, name)
	}
	return BitAt(pos), nil
}

// Name returns the permission name owning bit. bit must be a single
// defined bit.
func (v *Vocabulary) Name(bit Mask) (string, bool) {
	if !bit.IsSingleBit() || bit&v.all == 0 {
		return "", false
	}
	for pos := range v.names {
		if BitAt(pos) == bit {
			return v.names[pos], true
		}
	}
	return "", false
}

// Contains reports whether name is part of the vocabulary.
func (v *Vocabulary) Contains(name string) bool {
	_, ok := v.nameToPos[name]
	return ok
}

// Names returns the permission names in insertion order.
func (v *Vocabulary) Names() []string {
	out := make([]string, len(v.names))
	copy(out, v.names)
	return out
}

// Bits returns the bit values in the same order as [Vocabulary.Names].
func (v *Vocabulary) Bits() []Mask {
	out := make([]Mask, len(v.names))
	for pos := range v.names {
		out[pos] = BitAt(pos)
	}
	return out
}

// ToMask ORs together the bits of names. It fails on the first unknown
// name and returns no partial result.
func (v *Vocabulary) ToMask(names ...string) (Mask, error) {
	var mask Mask
	for _, name := range names {
		bit, err := v.Bit(name)
		if err != nil {
			return 0, err
		}
		mask |= bit
	}
	return mask, nil
}

// Validate fails with [ErrUndefinedBits] when mask has bits outside the
// vocabulary.
func (v *Vocabulary) Validate(mask Mask) error {
	if extra := mask &^ v.all; extra != 0 {
		return fmt.Errorf("%w: %#x", ErrUndefinedBits, uint64(extra))
	}
	return nil
}

// NameList returns the names whose bit is set in mask, in vocabulary order.
// Bits outside the vocabulary are ignored.
func (v *Vocabulary) NameList(mask Mask) []string {
	out := make([]string, 0, mask.Count())
	for pos, name := range v.names {
		if mask.Has(pos) {
			out = append(out, name)
		}
	}
	return out
}

// BitList returns the individual bits set in mask, in vocabulary order.
func (v *Vocabulary) BitList(mask Mask) []Mask {
	out := make([]Mask, 0, mask.Count())
	for pos := range v.names {
		if mask.Has(pos) {
			out = append(out, BitAt(pos))
		}
	}
	return out
}

// ChoiceList returns (bit, name) pairs for the bits set in mask, in
// vocabulary order.
func (v *Vocabulary) ChoiceList(mask Mask) []Choice {
	out := make([]Choice, 0, mask.Count())
	for pos, name := range v.names {
		if mask.Has(pos) {
			out = append(out, Choice{Bit: BitAt(pos), Name: name})
		}
	}
	return out
}
