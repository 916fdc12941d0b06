package tuple

// VarLen is the schema size that declares a variable-length attribute.
const VarLen int32 = -1

// SlotSize is the width of the indirection slot a variable-length attribute occupies inside a row:
// an 8-byte payload length followed by an 8-byte handle.
const SlotSize int32 = 16

// TupleDesc describes one attribute inside a byte buffer: which attribute, how many bytes and where
// they start. It describes both full-row schemas and partial projections, in which case Offset is
// relative to the projected buffer.
type TupleDesc struct {
	AttrID int64
	Size   int32
	Offset int32
}

// End returns the offset just past the attribute. It is 64-bit so that no pair of int32 fields
// overflows it.
func (td TupleDesc) End() int64 {
	return int64(td.Offset) + int64(td.Size)
}

// Attr returns a descriptor for attr with the given size and a zero offset. Use Layout to place a
// set of descriptors in a buffer.
func Attr(attr int64, size int32) TupleDesc {
	return TupleDesc{AttrID: attr, Size: size}
}

// Layout assigns consecutive offsets to descs in the order given and returns the placed
// descriptors together with the total buffer size they cover.
func Layout(descs ...TupleDesc) ([]TupleDesc, int) {
	placed := make([]TupleDesc, len(descs))
	offset := int32(0)
	for i, d := range descs {
		d.Offset = offset
		placed[i] = d
		if d.Size > 0 {
			offset += d.Size
		}
	}
	return placed, int(offset)
}

// Find returns the index of the last descriptor for attr in descs, or -1.
func Find(descs []TupleDesc, attr int64) int {
	for i := len(descs) - 1; i >= 0; i-- {
		if descs[i].AttrID == attr {
			return i
		}
	}
	return -1
}
