package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
)

// TestDeliverApplePear decodes a Deliver frame and iterates its entries
func TestDeliverApplePear(t *testing.T) {
	frame := Encode(Deliver{SubscriptionID: 3, Chunk: NewChunk(100, 1, 0, [][]byte{[]byte("apple"), []byte("pear")})})

	cmd, _, err := Decode(frame)
	if err != nil {
		t.Fatalf("Failed to decode deliver: %v", err)
	}
	deliver, ok := cmd.(Deliver)
	if !ok {
		t.Fatalf("Expected Deliver, got %T", cmd)
	}
	if deliver.SubscriptionID != 3 {
		t.Errorf("Expected subscription id 3, got %d", deliver.SubscriptionID)
	}
	if err := deliver.Chunk.VerifyCRC(); err != nil {
		t.Errorf("Unexpected crc error: %v", err)
	}

	entries, err := deliver.Chunk.Messages()
	if err != nil {
		t.Fatalf("Failed to iterate entries: %v", err)
	}
	expected := []MsgEntry{
		{Offset: 100, Epoch: 1, Data: []byte("apple")},
		{Offset: 101, Epoch: 1, Data: []byte("pear")},
	}
	if len(entries) != len(expected) {
		t.Fatalf("Expected %d entries, got %d", len(expected), len(entries))
	}
	for i := range expected {
		if entries[i].Offset != expected[i].Offset || entries[i].Epoch != expected[i].Epoch ||
			!bytes.Equal(entries[i].Data, expected[i].Data) {
			t.Errorf("Entry %d: expected %+v, got %+v", i, expected[i], entries[i])
		}
	}
}

// TestChunkEntryCount tests that iteration yields exactly numEntries consecutive offsets
func TestChunkEntryCount(t *testing.T) {
	for _, count := range []int{0, 1, 2, 17, 1000} {
		t.Run(fmt.Sprintf("%d entries", count), func(t *testing.T) {
			entries := make([][]byte, count)
			for i := range entries {
				entries[i] = []byte(fmt.Sprintf("message-%d", i))
			}
			chunk := NewChunk(5000, 3, 0, entries)

			it := chunk.Entries()
			n := 0
			for it.Next() {
				e := it.Entry()
				if e.Offset != 5000+uint64(n) {
					t.Errorf("Entry %d has offset %d, expected %d", n, e.Offset, 5000+n)
				}
				if !bytes.Equal(e.Data, entries[n]) {
					t.Errorf("Entry %d has data %q, expected %q", n, e.Data, entries[n])
				}
				n++
			}
			if err := it.Err(); err != nil {
				t.Fatalf("Unexpected iteration error: %v", err)
			}
			if n != count {
				t.Errorf("Expected %d entries, got %d", count, n)
			}
			if it.Next() {
				t.Errorf("Iterator must not yield entries after exhaustion")
			}
		})
	}
}

// TestChunkCrcMutation tests that any modified data byte is detected
func TestChunkCrcMutation(t *testing.T) {
	chunk := NewChunk(0, 1, 0, [][]byte{[]byte("hello"), []byte("world")})
	if err := chunk.VerifyCRC(); err != nil {
		t.Fatalf("Unmodified chunk failed crc check: %v", err)
	}

	for i := range chunk.Data {
		mutated := chunk
		mutated.Data = append([]byte{}, chunk.Data...)
		mutated.Data[i] ^= 0x01

		if err := mutated.VerifyCRC(); !errors.Is(err, ErrChunkCrcMismatch) {
			t.Errorf("Mutation of byte %d not detected: %v", i, err)
		}
	}
}

// TestChunkSubBatchEntry tests that sub-batch entries are rejected
func TestChunkSubBatchEntry(t *testing.T) {
	data := binary.BigEndian.AppendUint32(nil, 5)
	data = append(data, "plain"...)
	data = binary.BigEndian.AppendUint32(data, entrySubBatchFlag|3)
	data = append(data, "abc"...)

	chunk := Chunk{ChunkID: 10, NumEntries: 2, Data: data}
	it := chunk.Entries()

	if !it.Next() {
		t.Fatalf("Expected first simple entry, got error %v", it.Err())
	}
	if string(it.Entry().Data) != "plain" {
		t.Errorf("Unexpected first entry %q", it.Entry().Data)
	}
	if it.Next() {
		t.Fatalf("Sub-batch entry must not be yielded")
	}
	if !errors.Is(it.Err(), ErrUnsupportedEntryFormat) {
		t.Errorf("Expected ErrUnsupportedEntryFormat, got %v", it.Err())
	}
}

// TestChunkTruncatedEntry tests entries exceeding the data region
func TestChunkTruncatedEntry(t *testing.T) {
	data := binary.BigEndian.AppendUint32(nil, 100)
	data = append(data, "short"...)

	_, err := Chunk{NumEntries: 1, Data: data}.Messages()
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Errorf("Expected ErrTruncatedFrame, got %v", err)
	}

	_, err = Chunk{NumEntries: 2, Data: NewChunk(0, 0, 0, [][]byte{[]byte("one")}).Data}.Messages()
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Errorf("Expected ErrTruncatedFrame for missing entry header, got %v", err)
	}
}

// TestChunkTrailerSkipped tests that trailer bytes are not parsed as entries or following data
func TestChunkTrailerSkipped(t *testing.T) {
	chunk := NewChunk(7, 1, 0, [][]byte{[]byte("x")})
	chunk.TrailerLen = 6

	w := wireWriter{}
	chunk.write(&w)
	encoded := append(w.buf, 0xAA)

	decoded, n, err := DecodeChunk(encoded)
	if err != nil {
		t.Fatalf("Failed to decode chunk: %v", err)
	}
	if n != len(encoded)-1 {
		t.Errorf("Expected %d bytes consumed, got %d", len(encoded)-1, n)
	}
	if !bytes.Equal(decoded.Data, chunk.Data) {
		t.Errorf("Data mismatch: % x vs % x", decoded.Data, chunk.Data)
	}

	// a trailer that was cut off is a truncated frame
	short := w.buf[:len(w.buf)-4]
	if _, _, err := DecodeChunk(short); !errors.Is(err, ErrTruncatedFrame) {
		t.Errorf("Expected ErrTruncatedFrame for a cut off trailer, got %v", err)
	}
}

// TestChunkTruncatedHeader tests chunks that end inside the header or data
func TestChunkTruncatedHeader(t *testing.T) {
	w := wireWriter{}
	NewChunk(1, 1, 0, [][]byte{[]byte("payload")}).write(&w)

	for _, cut := range []int{0, 10, chunkHeaderSize - 1, chunkHeaderSize + 3} {
		if _, _, err := DecodeChunk(w.buf[:cut]); !errors.Is(err, ErrTruncatedFrame) {
			t.Errorf("Cut at %d: expected ErrTruncatedFrame, got %v", cut, err)
		}
	}
}

// TestMsgEntryCopyData tests that copied data is independent of the chunk
func TestMsgEntryCopyData(t *testing.T) {
	chunk := NewChunk(0, 0, 0, [][]byte{[]byte("keep")})
	it := chunk.Entries()
	if !it.Next() {
		t.Fatalf("Expected one entry: %v", it.Err())
	}
	entry := it.Entry()
	copied := entry.CopyData()

	for i := range chunk.Data {
		chunk.Data[i] = 0
	}
	if string(copied) != "keep" {
		t.Errorf("Copied data changed with chunk buffer: %q", copied)
	}
	if string(entry.Data) == "keep" {
		t.Errorf("Entry data is expected to be a view into the chunk buffer")
	}
}

// TestChunkLastOffset tests the offset of the final entry
func TestChunkLastOffset(t *testing.T) {
	if got := NewChunk(10, 0, 0, [][]byte{{1}, {2}, {3}}).LastOffset(); got != 12 {
		t.Errorf("Expected last offset 12, got %d", got)
	}
	if got := (Chunk{ChunkID: 10}).LastOffset(); got != 10 {
		t.Errorf("Expected last offset 10 for empty chunk, got %d", got)
	}
}
