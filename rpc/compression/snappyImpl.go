package compression

import (
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/golang/snappy"
)

// NewSnappyCodec creates a codec using the snappy block format
func NewSnappyCodec() ICodec {
	return snappyCodecImpl{}
}

// snappyCodecImpl implements the ICodec interface using golang/snappy
type snappyCodecImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see compression.ICodec)
// --------------------------------------------------------------------------

func (snappyCodecImpl) Type() protocol.CompressionType {
	return protocol.CompressionSnappy
}

func (snappyCodecImpl) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCodecImpl) Decompress(src []byte, _ int) ([]byte, error) {
	return snappy.Decode(nil, src)
}
