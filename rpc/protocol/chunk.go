package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// --------------------------------------------------------------------------
// Chunk
// --------------------------------------------------------------------------

// ChunkMagicVersion is the format tag of chunks written by NewChunk
const ChunkMagicVersion uint8 = 0x50

// chunkHeaderSize is the number of bytes preceding the entry data of a chunk
const chunkHeaderSize = 1 + 1 + 2 + 4 + 8 + 8 + 8 + 4 + 4 + 4 + 4

// entrySubBatchFlag marks a sub-batch entry in the 32-bit entry header
const entrySubBatchFlag uint32 = 0x80000000

// Chunk is a batch of log entries delivered in a single Deliver frame.
// Data references the buffer the chunk was decoded from; it is never copied.
type Chunk struct {
	MagicVersion uint8
	ChunkType    uint8
	NumEntries   uint16
	NumRecords   uint32
	Timestamp    int64 // Unix milliseconds
	Epoch        uint64
	ChunkID      uint64 // Offset of the first entry
	CRC          uint32 // CRC32 (IEEE) of Data
	Data         []byte
	TrailerLen   uint32
}

// NewChunk builds a chunk holding the given simple entries, starting at offset chunkID.
// The checksum is computed over the encoded entry data.
func NewChunk(chunkID, epoch uint64, timestamp int64, entries [][]byte) Chunk {
	size := 0
	for _, e := range entries {
		size += 4 + len(e)
	}
	data := make([]byte, 0, size)
	for _, e := range entries {
		data = binary.BigEndian.AppendUint32(data, uint32(len(e)))
		data = append(data, e...)
	}
	return Chunk{
		MagicVersion: ChunkMagicVersion,
		NumEntries:   uint16(len(entries)),
		NumRecords:   uint32(len(entries)),
		Timestamp:    timestamp,
		Epoch:        epoch,
		ChunkID:      chunkID,
		CRC:          crc32.ChecksumIEEE(data),
		Data:         data,
	}
}

// DecodeChunk decodes a chunk from the beginning of b and returns the number of bytes consumed.
// The returned chunk references b.
func DecodeChunk(b []byte) (Chunk, int, error) {
	r := wireReader{data: b}
	c := readChunk(&r)
	if r.err != nil {
		return Chunk{}, 0, r.err
	}
	return c, r.pos, nil
}

// VerifyCRC checks the data region against the checksum in the header
func (c Chunk) VerifyCRC() error {
	if sum := crc32.ChecksumIEEE(c.Data); sum != c.CRC {
		return fmt.Errorf("%w: chunk %d expected 0x%08x, computed 0x%08x", ErrChunkCrcMismatch, c.ChunkID, c.CRC, sum)
	}
	return nil
}

// LastOffset returns the offset of the last entry in the chunk
func (c Chunk) LastOffset() uint64 {
	if c.NumEntries == 0 {
		return c.ChunkID
	}
	return c.ChunkID + uint64(c.NumEntries) - 1
}

// Entries returns a one-shot iterator over the entries of the chunk
func (c Chunk) Entries() *EntryIterator {
	return &EntryIterator{chunk: c}
}

// Messages decodes all entries of the chunk. The entries reference the chunk data.
func (c Chunk) Messages() ([]MsgEntry, error) {
	out := make([]MsgEntry, 0, c.NumEntries)
	it := c.Entries()
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out, it.Err()
}

func (c Chunk) size() int {
	return chunkHeaderSize + len(c.Data) + int(c.TrailerLen)
}

func (c Chunk) write(w *wireWriter) {
	w.uint8(c.MagicVersion)
	w.uint8(c.ChunkType)
	w.uint16(c.NumEntries)
	w.uint32(c.NumRecords)
	w.int64(c.Timestamp)
	w.uint64(c.Epoch)
	w.uint64(c.ChunkID)
	w.uint32(c.CRC)
	w.uint32(uint32(len(c.Data)))
	w.uint32(c.TrailerLen)
	w.uint32(0) // reserved
	w.raw(c.Data)
	w.raw(make([]byte, c.TrailerLen))
}

func readChunk(r *wireReader) Chunk {
	c := Chunk{
		MagicVersion: r.uint8("magic version"),
		ChunkType:    r.uint8("chunk type"),
		NumEntries:   r.uint16("entry count"),
		NumRecords:   r.uint32("record count"),
		Timestamp:    r.int64("timestamp"),
		Epoch:        r.uint64("epoch"),
		ChunkID:      r.uint64("chunk id"),
		CRC:          r.uint32("crc"),
	}
	dataLen := r.uint32("data length")
	c.TrailerLen = r.uint32("trailer length")
	r.skip(4, "reserved")
	c.Data = r.view(int(dataLen), "chunk data")

	// the trailer is opaque
	r.skip(int(c.TrailerLen), "trailer")
	return c
}

// --------------------------------------------------------------------------
// Entries
// --------------------------------------------------------------------------

// MsgEntry is a single message of a chunk.
// Data is a view into the chunk data and is only valid as long as the chunk is.
type MsgEntry struct {
	Offset uint64
	Epoch  uint64
	Data   []byte
}

// CopyData returns a copy of the entry payload that may be retained after the chunk is released
func (e MsgEntry) CopyData() []byte {
	out := make([]byte, len(e.Data))
	copy(out, e.Data)
	return out
}

// EntryIterator walks the entries of a chunk. Use it like a bufio.Scanner:
//
//	it := chunk.Entries()
//	for it.Next() {
//		handle(it.Entry())
//	}
//	if err := it.Err(); err != nil { ... }
type EntryIterator struct {
	chunk Chunk
	pos   int
	index uint16
	entry MsgEntry
	err   error
}

// Next advances to the next entry. It returns false once all entries were read or an error occurred.
func (it *EntryIterator) Next() bool {
	if it.err != nil || it.index >= it.chunk.NumEntries {
		return false
	}
	data := it.chunk.Data
	if len(data)-it.pos < 4 {
		it.err = fmt.Errorf("%w: data too short for entry %d header (need 4, have %d)", ErrTruncatedFrame, it.index, len(data)-it.pos)
		return false
	}
	header := binary.BigEndian.Uint32(data[it.pos:])
	if header&entrySubBatchFlag != 0 {
		it.err = fmt.Errorf("%w: sub-batch entry at offset %d", ErrUnsupportedEntryFormat, it.chunk.ChunkID+uint64(it.index))
		return false
	}
	start := it.pos + 4
	end := start + int(header)
	if end > len(data) {
		it.err = fmt.Errorf("%w: data too short for entry %d (need %d, have %d)", ErrTruncatedFrame, it.index, header, len(data)-start)
		return false
	}

	it.entry = MsgEntry{
		Offset: it.chunk.ChunkID + uint64(it.index),
		Epoch:  it.chunk.Epoch,
		Data:   data[start:end:end],
	}
	it.pos = end
	it.index++
	return true
}

// Entry returns the entry produced by the last successful call to Next
func (it *EntryIterator) Entry() MsgEntry {
	return it.entry
}

// Err returns the first error encountered while iterating
func (it *EntryIterator) Err() error {
	return it.err
}
