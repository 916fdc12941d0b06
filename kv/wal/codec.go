package wal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"

	"github.com/occkv/occkv/kv/tuple"
	"github.com/pierrec/lz4/v4"
	"github.com/pingcap/errors"
)

// Record layout, little-endian:
//
//	crc32c   u32  over everything after it, payload included
//	lsn      i64
//	kind     u8
//	flags    u8
//	txn id   i64
//	raw len  u32  payload length before compression
//	len      u32  stored payload length
//	payload
//
// A write payload is the 52-byte key, a u16 descriptor count, 16 bytes per descriptor
// (attr i64, size i32, offset i32) and the value.
const (
	headerSize = 30
	descSize   = 16

	flagCompressed = 1 << 0

	maxPayloadSize = 64 << 20
)

var (
	ErrChecksum = errors.New("wal: record checksum mismatch")
	ErrCorrupt  = errors.New("wal: corrupt record")
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// checkWrite rejects write records whose payload the reader could not decode.
func checkWrite(descs []tuple.TupleDesc, value []byte) error {
	if len(descs) > math.MaxUint16 {
		return errors.Annotatef(ErrCorrupt, "%d descriptors in one write", len(descs))
	}
	if n := tuple.EncodedKeySize + 2 + descSize*len(descs) + len(value); n > maxPayloadSize {
		return errors.Annotatef(ErrCorrupt, "write payload is %d bytes", n)
	}
	return nil
}

func encodePayload(r *Record) []byte {
	if r.Kind != KindWrite {
		return nil
	}
	b := make([]byte, tuple.EncodedKeySize+2+descSize*len(r.Descs)+len(r.Value))
	r.Key.EncodeTo(b)
	off := tuple.EncodedKeySize
	binary.LittleEndian.PutUint16(b[off:], uint16(len(r.Descs)))
	off += 2
	for _, d := range r.Descs {
		binary.LittleEndian.PutUint64(b[off:], uint64(d.AttrID))
		binary.LittleEndian.PutUint32(b[off+8:], uint32(d.Size))
		binary.LittleEndian.PutUint32(b[off+12:], uint32(d.Offset))
		off += descSize
	}
	copy(b[off:], r.Value)
	return b
}

func decodePayload(r *Record, b []byte) error {
	if r.Kind != KindWrite {
		if len(b) != 0 {
			return errors.Annotatef(ErrCorrupt, "%v record carries %d payload bytes", r.Kind, len(b))
		}
		return nil
	}
	if len(b) < tuple.EncodedKeySize+2 {
		return errors.Annotatef(ErrCorrupt, "write payload is %d bytes", len(b))
	}
	key, err := tuple.DecodePrimaryKey(b)
	if err != nil {
		return errors.Trace(err)
	}
	r.Key = key
	off := tuple.EncodedKeySize
	n := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	if len(b) < off+n*descSize {
		return errors.Annotatef(ErrCorrupt, "write payload too short for %d descriptors", n)
	}
	r.Descs = make([]tuple.TupleDesc, n)
	for i := range r.Descs {
		r.Descs[i] = tuple.TupleDesc{
			AttrID: int64(binary.LittleEndian.Uint64(b[off:])),
			Size:   int32(binary.LittleEndian.Uint32(b[off+8:])),
			Offset: int32(binary.LittleEndian.Uint32(b[off+12:])),
		}
		off += descSize
	}
	r.Value = append([]byte{}, b[off:]...)
	return nil
}

// compress returns the lz4 block of p, or nil when it does not shrink p.
func compress(p []byte) []byte {
	if len(p) == 0 {
		return nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(p)))
	n, err := lz4.CompressBlock(p, dst, nil)
	if err != nil || n == 0 || n >= len(p) {
		return nil
	}
	return dst[:n]
}

func encodeRecord(r *Record, allowCompress bool) []byte {
	raw := encodePayload(r)
	stored, flags := raw, byte(0)
	if allowCompress {
		if c := compress(raw); c != nil {
			stored, flags = c, flagCompressed
		}
	}
	b := make([]byte, headerSize+len(stored))
	binary.LittleEndian.PutUint64(b[4:], uint64(r.LSN))
	b[12] = byte(r.Kind)
	b[13] = flags
	binary.LittleEndian.PutUint64(b[14:], uint64(r.TxnID))
	binary.LittleEndian.PutUint32(b[22:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(b[26:], uint32(len(stored)))
	copy(b[headerSize:], stored)
	binary.LittleEndian.PutUint32(b[0:], crc32.Checksum(b[4:], crc32cTable))
	return b
}

// Reader decodes records from a log stream.
type Reader struct {
	r      io.Reader
	header [headerSize]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next record. It returns io.EOF at a clean end of the stream and
// io.ErrUnexpectedEOF for a torn trailing record.
func (rd *Reader) Next() (Record, error) {
	if _, err := io.ReadFull(rd.r, rd.header[:]); err != nil {
		return Record{}, err
	}
	h := rd.header[:]
	rawLen := binary.LittleEndian.Uint32(h[22:])
	storedLen := binary.LittleEndian.Uint32(h[26:])
	if rawLen > maxPayloadSize || storedLen > maxPayloadSize {
		return Record{}, errors.Annotatef(ErrCorrupt, "payload length %d/%d", storedLen, rawLen)
	}
	stored := make([]byte, storedLen)
	if _, err := io.ReadFull(rd.r, stored); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, err
	}
	crc := crc32.Update(crc32.Checksum(h[4:], crc32cTable), crc32cTable, stored)
	if crc != binary.LittleEndian.Uint32(h[0:]) {
		return Record{}, ErrChecksum
	}

	rec := Record{
		LSN:   int64(binary.LittleEndian.Uint64(h[4:])),
		Kind:  Kind(h[12]),
		TxnID: int64(binary.LittleEndian.Uint64(h[14:])),
	}
	if rec.Kind < KindBegin || rec.Kind > KindAbort {
		return Record{}, errors.Annotatef(ErrCorrupt, "unknown record kind %d", h[12])
	}
	raw := stored
	if h[13]&flagCompressed != 0 {
		raw = make([]byte, rawLen)
		n, err := lz4.UncompressBlock(stored, raw)
		if err != nil {
			return Record{}, errors.Annotatef(ErrCorrupt, "lsn %d: %v", rec.LSN, err)
		}
		if uint32(n) != rawLen {
			return Record{}, errors.Annotatef(ErrCorrupt, "lsn %d: decompressed %d bytes, want %d", rec.LSN, n, rawLen)
		}
	} else if rawLen != storedLen {
		return Record{}, errors.Annotatef(ErrCorrupt, "lsn %d: uncompressed payload length %d/%d", rec.LSN, storedLen, rawLen)
	}
	if err := decodePayload(&rec, raw); err != nil {
		return Record{}, err
	}
	return rec, nil
}
