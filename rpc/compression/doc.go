// Package compression provides the codecs used for compressed sub-entry batches and
// the helpers that pack several records into one published entry.
//
// A sub-entry batch is published under a single publishing id. Its records are each
// prefixed with a uint32 length, concatenated and compressed as a whole. The sub-entry
// header carries the codec, the record count and the uncompressed size.
//
// Key Components:
//
//   - ICodec: Interface implemented by every codec. Implementations:
//     none (pass through), gzip and zstd (klauspost/compress), snappy (golang/snappy)
//     and lz4 (pierrec/lz4, frame format).
//
//   - Get: Looks up the codec for a protocol.CompressionType.
//
//   - Batch / Unbatch: Build a protocol.PublishedMessage from records and reverse it.
//
// Thread Safety:
//
//	All codecs are stateless or share internally synchronized encoders and are safe
//	for concurrent use.
package compression
