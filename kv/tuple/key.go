package tuple

import (
	"encoding/binary"
	"fmt"

	"github.com/pingcap/errors"
)

// KeyComponents is the number of integer components a PrimaryKey carries.
const KeyComponents = 6

// EncodedKeySize is the size of a PrimaryKey on the wire: six 8-byte components followed by the
// 4-byte table id.
const EncodedKeySize = KeyComponents*8 + 4

// PrimaryKey identifies one row: a table id plus up to six integer components. Unused components are
// zero. Two keys are equal iff every field matches, a zero component is not a wildcard.
type PrimaryKey struct {
	TableID int32
	Keys    [KeyComponents]int64
}

// NewPrimaryKey builds a key for table from the given components. It panics if more than
// KeyComponents components are given.
func NewPrimaryKey(table int32, components ...int64) PrimaryKey {
	if len(components) > KeyComponents {
		panic(fmt.Sprintf("primary key takes at most %d components, got %d", KeyComponents, len(components)))
	}
	pk := PrimaryKey{TableID: table}
	copy(pk.Keys[:], components)
	return pk
}

// EncodeTo writes the 52-byte encoding of pk into b, which must be at least EncodedKeySize long.
func (pk PrimaryKey) EncodeTo(b []byte) {
	_ = b[EncodedKeySize-1]
	for i, k := range pk.Keys {
		binary.LittleEndian.PutUint64(b[i*8:], uint64(k))
	}
	binary.LittleEndian.PutUint32(b[KeyComponents*8:], uint32(pk.TableID))
}

// Encode returns the 52-byte encoding of pk.
func (pk PrimaryKey) Encode() []byte {
	b := make([]byte, EncodedKeySize)
	pk.EncodeTo(b)
	return b
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (pk PrimaryKey) MarshalBinary() ([]byte, error) {
	return pk.Encode(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (pk *PrimaryKey) UnmarshalBinary(b []byte) error {
	k, err := DecodePrimaryKey(b)
	if err != nil {
		return err
	}
	*pk = k
	return nil
}

// DecodePrimaryKey decodes the first EncodedKeySize bytes of b.
func DecodePrimaryKey(b []byte) (PrimaryKey, error) {
	var pk PrimaryKey
	if len(b) < EncodedKeySize {
		return pk, errors.Errorf("primary key needs %d bytes, got %d", EncodedKeySize, len(b))
	}
	for i := range pk.Keys {
		pk.Keys[i] = int64(binary.LittleEndian.Uint64(b[i*8:]))
	}
	pk.TableID = int32(binary.LittleEndian.Uint32(b[KeyComponents*8:]))
	return pk, nil
}

func (pk PrimaryKey) String() string {
	return fmt.Sprintf("{table:%d keys:%v}", pk.TableID, pk.Keys)
}
