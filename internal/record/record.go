// Package record implements the on-disk layout of a single Bitcask record:
// encoding, decoding, and CRC verification. It performs no I/O of its own —
// DecodeOne accepts any io.Reader and leaves segment/file concerns to the
// caller.
package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// HeaderSize is the fixed size, in bytes, of crc32+timestamp+key_size+value_size.
const HeaderSize = 4 + 8 + 4 + 4

// Tombstone is the value_size sentinel marking a deleted key, distinct from
// a present-but-empty value (value_size == 0).
const Tombstone uint32 = 0xFFFFFFFF

// ErrEndOfSegment is returned by DecodeOne when the reader is exhausted at
// a clean record boundary.
var ErrEndOfSegment = errors.New("record: end of segment")

// ErrCorrupt is returned by DecodeOne when a record is truncated mid-record
// or its CRC does not match. Recovery truncates the segment being read at
// the offset where the failing record starts.
var ErrCorrupt = errors.New("record: corrupt record")

// Record is the decoded form of a single on-disk entry.
type Record struct {
	CRC       uint32
	Timestamp int64
	KeySize   uint32
	ValueSize uint32
	Key       []byte
	Value     []byte
}

// IsTombstone reports whether this record marks its key as deleted.
func (r *Record) IsTombstone() bool {
	return r.ValueSize == Tombstone
}

// New builds a live (non-tombstone) record for key/value at timestamp ts
// (unix seconds).
func New(key, value []byte, ts int64) *Record {
	r := &Record{
		Timestamp: ts,
		KeySize:   uint32(len(key)),
		ValueSize: uint32(len(value)),
		Key:       key,
		Value:     value,
	}
	r.CRC = checksum(r)
	return r
}

// NewTombstone builds a tombstone record for key at timestamp ts.
func NewTombstone(key []byte, ts int64) *Record {
	r := &Record{
		Timestamp: ts,
		KeySize:   uint32(len(key)),
		ValueSize: Tombstone,
		Key:       key,
	}
	r.CRC = checksum(r)
	return r
}

// Encode serializes r into its on-disk byte layout. CRC is assumed already
// computed (New/NewTombstone do this).
func Encode(r *Record) []byte {
	buf := make([]byte, HeaderSize+len(r.Key)+len(r.Value))

	binary.LittleEndian.PutUint32(buf[0:4], r.CRC)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(r.Timestamp))
	binary.LittleEndian.PutUint32(buf[12:16], r.KeySize)
	binary.LittleEndian.PutUint32(buf[16:20], r.ValueSize)
	copy(buf[HeaderSize:], r.Key)
	if !r.IsTombstone() {
		copy(buf[HeaderSize+len(r.Key):], r.Value)
	}

	return buf
}

// DecodeOne reads a single record from r.
//
// A clean EOF exactly at a record boundary yields ErrEndOfSegment. A short
// read partway through the header or payload, or a CRC mismatch, yields
// ErrCorrupt.
func DecodeOne(r io.Reader) (*Record, int, error) {
	header := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if err == io.EOF && n == 0 {
			return nil, 0, ErrEndOfSegment
		}
		return nil, n, ErrCorrupt
	}

	rec := &Record{
		CRC:       binary.LittleEndian.Uint32(header[0:4]),
		Timestamp: int64(binary.LittleEndian.Uint64(header[4:12])),
		KeySize:   binary.LittleEndian.Uint32(header[12:16]),
		ValueSize: binary.LittleEndian.Uint32(header[16:20]),
	}
	consumed := HeaderSize

	key := make([]byte, rec.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, consumed, ErrCorrupt
	}
	rec.Key = key
	consumed += len(key)

	if !rec.IsTombstone() {
		value := make([]byte, rec.ValueSize)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, consumed, ErrCorrupt
		}
		rec.Value = value
		consumed += len(value)
	}

	if !ValidateCRC(rec) {
		return nil, consumed, ErrCorrupt
	}

	return rec, consumed, nil
}

// checksum computes the CRC over [timestamp..end] of rec's encoding.
func checksum(rec *Record) uint32 {
	buf := &bytes.Buffer{}
	buf.Grow(HeaderSize - 4 + len(rec.Key) + len(rec.Value))

	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(rec.Timestamp))
	buf.Write(tsBuf[:])

	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], rec.KeySize)
	buf.Write(sizeBuf[:])
	binary.LittleEndian.PutUint32(sizeBuf[:], rec.ValueSize)
	buf.Write(sizeBuf[:])

	buf.Write(rec.Key)
	if !rec.IsTombstone() {
		buf.Write(rec.Value)
	}

	return crcIEEE(buf.Bytes())
}

// ValidateCRC reports whether rec.CRC matches the checksum recomputed over
// its [timestamp..end] bytes.
func ValidateCRC(rec *Record) bool {
	return rec.CRC == checksum(rec)
}
