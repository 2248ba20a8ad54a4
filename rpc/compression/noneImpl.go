package compression

import "github.com/ValentinKolb/dStream/rpc/protocol"

// NewNoneCodec creates a codec that passes data through unchanged
func NewNoneCodec() ICodec {
	return noneCodecImpl{}
}

// noneCodecImpl implements the ICodec interface without compression
type noneCodecImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see compression.ICodec)
// --------------------------------------------------------------------------

func (noneCodecImpl) Type() protocol.CompressionType {
	return protocol.CompressionNone
}

func (noneCodecImpl) Compress(src []byte) ([]byte, error) {
	return src, nil
}

func (noneCodecImpl) Decompress(src []byte, _ int) ([]byte, error) {
	return src, nil
}
