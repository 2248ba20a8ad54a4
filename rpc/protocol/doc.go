// Package protocol implements the binary wire format spoken between dStream clients and a
// stream broker. It is a stateless transform between Go values and byte layouts and has no
// knowledge of connections, sessions or retries.
//
// The package focuses on:
//   - Encoding and decoding every protocol command (requests, responses and notifications)
//   - Splitting a byte stream into length-prefixed frames
//   - Decoding Deliver chunks and iterating over the entries they contain
//   - Validating chunk checksums before entries reach application code
//
// Key Components:
//
//   - Command: Closed union over all protocol messages. Every variant knows its key, its
//     version, the number of payload bytes it needs and how to write itself. Variants are
//     plain value types and are never mutated after construction.
//
//   - Encode / Decode: Encode prepends the generic header (key, version) to a command.
//     Decode reads the header, looks up the decoder registered for (key, version) and reports
//     exactly how many bytes were consumed. Unknown keys fail with ErrUnknownCommand.
//
//   - Chunk / MsgEntry / EntryIterator: A Deliver frame carries one chunk. Entries are
//     produced lazily and reference the chunk's data region without copying it. An entry is
//     valid only as long as the chunk is; use MsgEntry.CopyData to retain the payload.
//
//   - FrameReader / WriteFrame / SplitFrame: Transport-level framing (uint32 size prefix).
//
// Wire Format:
//
//	Frame   => Size Key Version Payload
//	Size    => uint32 (number of bytes following the size field)
//	Key     => uint16 (high bit set for responses)
//	Version => uint16
//
// All integers are big endian. Strings are encoded as int16 length followed by the bytes,
// byte blobs as int32 length followed by the bytes.
//
// Thread Safety:
//
//	All functions are stateless and safe for concurrent use. A FrameReader must only be
//	used by a single goroutine.
package protocol
