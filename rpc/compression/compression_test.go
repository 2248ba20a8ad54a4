package compression

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"reflect"
	"testing"
)

// testCodecs is a map of codec name to compression type
var testCodecs = map[string]protocol.CompressionType{
	"None":   protocol.CompressionNone,
	"Gzip":   protocol.CompressionGzip,
	"Snappy": protocol.CompressionSnappy,
	"Lz4":    protocol.CompressionLz4,
	"Zstd":   protocol.CompressionZstd,
}

// TestCodecRoundTrip tests that every codec restores the original data
func TestCodecRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		[]byte("a"),
		bytes.Repeat([]byte("stream data "), 1000),
	}

	for name, ct := range testCodecs {
		t.Run(name, func(t *testing.T) {
			codec, err := Get(ct)
			if err != nil {
				t.Fatalf("Failed to get codec: %v", err)
			}
			if codec.Type() != ct {
				t.Errorf("Expected type %s, got %s", ct, codec.Type())
			}

			for i, input := range inputs {
				compressed, err := codec.Compress(input)
				if err != nil {
					t.Fatalf("Failed to compress input %d: %v", i, err)
				}
				result, err := codec.Decompress(compressed, len(input))
				if err != nil {
					t.Fatalf("Failed to decompress input %d: %v", i, err)
				}
				if !bytes.Equal(input, result) {
					t.Errorf("Input %d doesn't match after round trip (%d vs %d bytes)", i, len(input), len(result))
				}
			}
		})
	}
}

// TestBatchRoundTrip tests packing records into a sub-entry and unpacking them again
func TestBatchRoundTrip(t *testing.T) {
	records := make([][]byte, 50)
	for i := range records {
		records[i] = []byte(fmt.Sprintf("record-%d", i))
	}

	for name, ct := range testCodecs {
		t.Run(name, func(t *testing.T) {
			msg, err := Batch(ct, 7, records)
			if err != nil {
				t.Fatalf("Failed to batch: %v", err)
			}
			if msg.PublishingID != 7 || msg.SubEntry == nil {
				t.Fatalf("Unexpected message %+v", msg)
			}
			if msg.SubEntry.NumRecords != 50 || msg.SubEntry.Compression != ct {
				t.Errorf("Unexpected sub-entry header %+v", msg.SubEntry)
			}

			// the batch must survive the wire as well
			cmd, _, err := protocol.Decode(protocol.Encode(protocol.Publish{PublisherID: 1, Messages: []protocol.PublishedMessage{msg}}))
			if err != nil {
				t.Fatalf("Failed to decode publish: %v", err)
			}
			decoded := cmd.(protocol.Publish).Messages[0]

			result, err := Unbatch(decoded)
			if err != nil {
				t.Fatalf("Failed to unbatch: %v", err)
			}
			if !reflect.DeepEqual(records, result) {
				t.Errorf("Records don't match after round trip")
			}
		})
	}
}

// TestUnbatchErrors tests malformed sub-entries
func TestUnbatchErrors(t *testing.T) {
	msg, err := Batch(protocol.CompressionNone, 1, [][]byte{[]byte("one"), []byte("two")})
	if err != nil {
		t.Fatalf("Failed to batch: %v", err)
	}

	tooMany := msg
	tooMany.SubEntry = &protocol.SubEntryBatch{Compression: protocol.CompressionNone, NumRecords: 3, UncompressedSize: msg.SubEntry.UncompressedSize}
	if _, err := Unbatch(tooMany); !errors.Is(err, ErrInvalidBatch) {
		t.Errorf("Expected ErrInvalidBatch for record count mismatch, got %v", err)
	}

	wrongSize := msg
	wrongSize.SubEntry = &protocol.SubEntryBatch{Compression: protocol.CompressionNone, NumRecords: 2, UncompressedSize: 1}
	if _, err := Unbatch(wrongSize); !errors.Is(err, ErrInvalidBatch) {
		t.Errorf("Expected ErrInvalidBatch for size mismatch, got %v", err)
	}

	if _, err := Get(protocol.CompressionType(9)); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("Expected ErrUnknownCodec, got %v", err)
	}
}
