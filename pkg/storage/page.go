// Package storage implements a checksummed flat-file page format.
// rdtreectl's dump/restore commands use it to snapshot an rdtree index's
// node table to a portable file outside of a live SQLite transaction,
// independent of the database's own page size.
//
// Unlike the fixed 4096-byte, uint32-keyed page format this was adapted
// from, a Page here is sized to match one rdtree node's configured byte
// width and keyed by the node id (an int64, matching the node table's
// INTEGER PRIMARY KEY), since a dump file holds pages from exactly one
// index at a time.
package storage

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
)

// HeaderSize is the number of bytes reserved at the start of each page
// for metadata: node id, checksum, and payload size.
const HeaderSize = 8 + 4 + 2

// ErrChecksumMismatch indicates that a page's stored checksum doesn't
// match the checksum computed over its payload on read-back; the dump
// file has been corrupted or truncated.
var ErrChecksumMismatch = errors.New("storage: checksum mismatch")

// ErrDataTooLarge indicates that the data being stored exceeds the
// page's configured payload size.
var ErrDataTooLarge = errors.New("storage: data too large for page payload")

// Page is one fixed-size record in a dump file: a node id, a checksum
// computed over the live payload bytes, the payload's logical size, and
// the payload buffer itself (always len(Data) == the store's configured
// page size, zero-padded past DataSize).
type Page struct {
	ID       int64
	Checksum uint32
	DataSize uint16
	Data     []byte
}

// NewPage allocates a zeroed page with a payload buffer of payloadSize
// bytes, ready for SetData.
func NewPage(id int64, payloadSize int) *Page {
	return &Page{ID: id, Data: make([]byte, payloadSize)}
}

// ComputeChecksum returns the CRC32 checksum of the page's live payload
// (the first DataSize bytes of Data).
func (p *Page) ComputeChecksum() uint32 {
	return crc32.ChecksumIEEE(p.Data[:p.DataSize])
}

// SetData copies b into the page's payload buffer, zeroing any
// previously-occupied trailing bytes.
func (p *Page) SetData(b []byte) error {
	if len(b) > len(p.Data) {
		return ErrDataTooLarge
	}
	prevSize := p.DataSize
	p.DataSize = uint16(len(b))
	copy(p.Data, b)
	for i := int(p.DataSize); i < int(prevSize); i++ {
		p.Data[i] = 0
	}
	return nil
}

// pageOffset returns the byte position in the dump file where page id's
// record begins, given the store's fixed per-page record size.
func pageOffset(id int64, recordSize int) int64 {
	return id * int64(recordSize)
}

// WritePage serializes p and writes it to f at the slot for p.ID, sized
// by the page's own payload length (every page in one dump file shares
// the same payload size). The checksum is (re)computed from the current
// payload before writing.
func WritePage(f *os.File, p *Page) error {
	if int(p.DataSize) > len(p.Data) {
		return ErrDataTooLarge
	}
	p.Checksum = p.ComputeChecksum()

	recordSize := HeaderSize + len(p.Data)
	buf := make([]byte, recordSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(p.ID))
	binary.BigEndian.PutUint32(buf[8:12], p.Checksum)
	binary.BigEndian.PutUint16(buf[12:14], p.DataSize)
	copy(buf[HeaderSize:], p.Data)

	if _, err := f.WriteAt(buf, pageOffset(p.ID, recordSize)); err != nil {
		return err
	}
	return f.Sync()
}

// ReadPage loads the page for id from f, whose pages each carry a
// payloadSize-byte buffer, and verifies its checksum. Returns
// ErrChecksumMismatch if the stored and recomputed checksums disagree.
func ReadPage(f *os.File, id int64, payloadSize int) (*Page, error) {
	recordSize := HeaderSize + payloadSize
	buf := make([]byte, recordSize)
	if _, err := f.ReadAt(buf, pageOffset(id, recordSize)); err != nil {
		return nil, err
	}

	p := &Page{
		ID:       int64(binary.BigEndian.Uint64(buf[0:8])),
		Checksum: binary.BigEndian.Uint32(buf[8:12]),
		DataSize: binary.BigEndian.Uint16(buf[12:14]),
		Data:     make([]byte, payloadSize),
	}
	copy(p.Data, buf[HeaderSize:])

	if p.ComputeChecksum() != p.Checksum {
		return nil, ErrChecksumMismatch
	}
	return p, nil
}
