package compression

import (
	"bytes"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/pierrec/lz4/v4"
)

// NewLz4Codec creates a codec using the lz4 frame format
func NewLz4Codec() ICodec {
	return lz4CodecImpl{}
}

// lz4CodecImpl implements the ICodec interface using pierrec/lz4
type lz4CodecImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see compression.ICodec)
// --------------------------------------------------------------------------

func (lz4CodecImpl) Type() protocol.CompressionType {
	return protocol.CompressionLz4
}

func (lz4CodecImpl) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4CodecImpl) Decompress(src []byte, uncompressedSize int) ([]byte, error) {
	return readAllSized(lz4.NewReader(bytes.NewReader(src)), uncompressedSize)
}
