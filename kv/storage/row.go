package storage

import (
	"encoding/binary"

	"github.com/occkv/occkv/kv/tuple"
	"github.com/pingcap/errors"
)

// RowImage is one version of a stored row: the fixed-width buffer plus the payloads its
// variable-length slots point at. A slot holds the payload length and a handle, which is the index
// of the payload in Vars plus one; a zero handle is an empty payload.
//
// Images held by a Table are never mutated, writers publish a new image instead.
type RowImage struct {
	Data []byte
	Vars [][]byte
}

func readSlot(slot []byte) (length uint64, handle uint64) {
	return binary.LittleEndian.Uint64(slot), binary.LittleEndian.Uint64(slot[8:])
}

func writeSlot(slot []byte, length uint64, handle uint64) {
	binary.LittleEndian.PutUint64(slot, length)
	binary.LittleEndian.PutUint64(slot[8:], handle)
}

// payload dereferences the slot starting at offset.
func (img *RowImage) payload(offset int32) []byte {
	length, handle := readSlot(img.Data[offset : offset+tuple.SlotSize])
	if handle == 0 || handle > uint64(len(img.Vars)) {
		return nil
	}
	p := img.Vars[handle-1]
	if uint64(len(p)) > length {
		p = p[:length]
	}
	return p
}

// clone copies Data and the Vars slice header so setPayload can replace payloads without touching
// img. Payload bytes are shared, they are immutable.
func (img *RowImage) clone() RowImage {
	c := RowImage{Data: append([]byte(nil), img.Data...)}
	if len(img.Vars) > 0 {
		c.Vars = append([][]byte(nil), img.Vars...)
	}
	return c
}

// setPayload points the slot at offset to a private copy of p, reusing the slot's handle when it has
// one. The previous payload is dropped with the image that referenced it.
func (img *RowImage) setPayload(offset int32, p []byte) {
	slot := img.Data[offset : offset+tuple.SlotSize]
	owned := append([]byte(nil), p...)
	_, handle := readSlot(slot)
	if handle == 0 || handle > uint64(len(img.Vars)) {
		img.Vars = append(img.Vars, owned)
		handle = uint64(len(img.Vars))
	} else {
		img.Vars[handle-1] = owned
	}
	writeSlot(slot, uint64(len(owned)), handle)
}

// MarshalBinary encodes the image as Data followed by a payload count and length-prefixed payloads.
func (img *RowImage) MarshalBinary() ([]byte, error) {
	size := len(img.Data) + 4
	for _, v := range img.Vars {
		size += 4 + len(v)
	}
	b := make([]byte, 0, size)
	b = append(b, img.Data...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(img.Vars)))
	for _, v := range img.Vars {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(v)))
		b = append(b, v...)
	}
	return b, nil
}

// DecodeRowImage decodes an image produced by MarshalBinary for a table with the given row size.
func DecodeRowImage(rowSize int, b []byte) (RowImage, error) {
	var img RowImage
	if len(b) < rowSize+4 {
		return img, errors.Annotatef(ErrRowSize, "encoded row has %d bytes, need at least %d", len(b), rowSize+4)
	}
	img.Data = append([]byte(nil), b[:rowSize]...)
	b = b[rowSize:]
	n := binary.LittleEndian.Uint32(b)
	b = b[4:]
	for i := uint32(0); i < n; i++ {
		if len(b) < 4 {
			return img, errors.New("storage: truncated payload header")
		}
		l := binary.LittleEndian.Uint32(b)
		b = b[4:]
		if uint32(len(b)) < l {
			return img, errors.New("storage: truncated payload")
		}
		img.Vars = append(img.Vars, append([]byte(nil), b[:l]...))
		b = b[l:]
	}
	return img, nil
}

// Row is a projection of a row: Data holds the projected attributes back to back in projection
// order and Descs says where each one lives. A variable-length attribute contributes its payload.
type Row struct {
	Descs []tuple.TupleDesc
	Data  []byte
}

// Attr returns the bytes of attr, or nil if the projection does not include it.
func (r *Row) Attr(attr int64) []byte {
	i := tuple.Find(r.Descs, attr)
	if i < 0 {
		return nil
	}
	d := r.Descs[i]
	return r.Data[d.Offset:d.End()]
}
