package compression

import "github.com/ValentinKolb/dStream/rpc/protocol"

// ICodec is the interface for all sub-entry compression codecs
type ICodec interface {
	// Type returns the compression type written to the sub-entry header
	Type() protocol.CompressionType
	// Compress compresses src and returns the compressed bytes
	Compress(src []byte) ([]byte, error)
	// Decompress decompresses src. uncompressedSize is the size announced in the
	// sub-entry header and is used to size the output buffer.
	Decompress(src []byte, uncompressedSize int) ([]byte, error)
}
