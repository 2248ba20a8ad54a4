package compression

import (
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"math"
)

var (
	// ErrUnknownCodec is returned for compression types without a registered codec
	ErrUnknownCodec = errors.New("unknown compression codec")

	// ErrInvalidBatch is returned when a decompressed sub-entry batch does not match its header
	ErrInvalidBatch = errors.New("invalid sub-entry batch")
)

// codecs holds one codec per compression type
var codecs = map[protocol.CompressionType]ICodec{
	protocol.CompressionNone:   NewNoneCodec(),
	protocol.CompressionGzip:   NewGzipCodec(),
	protocol.CompressionSnappy: NewSnappyCodec(),
	protocol.CompressionLz4:    NewLz4Codec(),
	protocol.CompressionZstd:   NewZstdCodec(),
}

// Get returns the codec for the compression type
func Get(t protocol.CompressionType) (ICodec, error) {
	codec, ok := codecs[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, t)
	}
	return codec, nil
}

// --------------------------------------------------------------------------
// Sub-entry batches
// --------------------------------------------------------------------------

// Batch packs the records into a single sub-entry: every record is prefixed with its
// uint32 length, the concatenation is compressed with the codec of type t.
// It returns the sub-entry ready to be published under a single publishing id.
func Batch(t protocol.CompressionType, publishingID uint64, records [][]byte) (protocol.PublishedMessage, error) {
	if len(records) > math.MaxUint16 {
		return protocol.PublishedMessage{}, fmt.Errorf("%w: %d records exceed the maximum of %d", ErrInvalidBatch, len(records), math.MaxUint16)
	}
	codec, err := Get(t)
	if err != nil {
		return protocol.PublishedMessage{}, err
	}

	size := 0
	for _, r := range records {
		size += 4 + len(r)
	}
	plain := make([]byte, 0, size)
	for _, r := range records {
		plain = binary.BigEndian.AppendUint32(plain, uint32(len(r)))
		plain = append(plain, r...)
	}

	compressed, err := codec.Compress(plain)
	if err != nil {
		return protocol.PublishedMessage{}, fmt.Errorf("failed to compress batch with %s: %w", t, err)
	}

	return protocol.PublishedMessage{
		PublishingID: publishingID,
		Data:         compressed,
		SubEntry: &protocol.SubEntryBatch{
			Compression:      t,
			NumRecords:       uint16(len(records)),
			UncompressedSize: uint32(len(plain)),
		},
	}, nil
}

// Unbatch reverses Batch and returns the records of a sub-entry
func Unbatch(msg protocol.PublishedMessage) ([][]byte, error) {
	if msg.SubEntry == nil {
		return [][]byte{msg.Data}, nil
	}
	codec, err := Get(msg.SubEntry.Compression)
	if err != nil {
		return nil, err
	}
	plain, err := codec.Decompress(msg.Data, int(msg.SubEntry.UncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress batch with %s: %w", msg.SubEntry.Compression, err)
	}
	if len(plain) != int(msg.SubEntry.UncompressedSize) {
		return nil, fmt.Errorf("%w: uncompressed size %d, header announced %d", ErrInvalidBatch, len(plain), msg.SubEntry.UncompressedSize)
	}

	records := make([][]byte, 0, msg.SubEntry.NumRecords)
	pos := 0
	for i := 0; i < int(msg.SubEntry.NumRecords); i++ {
		if len(plain)-pos < 4 {
			return nil, fmt.Errorf("%w: data too short for record %d header", ErrInvalidBatch, i)
		}
		n := int(binary.BigEndian.Uint32(plain[pos:]))
		pos += 4
		if len(plain)-pos < n {
			return nil, fmt.Errorf("%w: data too short for record %d (need %d, have %d)", ErrInvalidBatch, i, n, len(plain)-pos)
		}
		records = append(records, plain[pos:pos+n:pos+n])
		pos += n
	}
	if pos != len(plain) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidBatch, len(plain)-pos)
	}
	return records, nil
}
