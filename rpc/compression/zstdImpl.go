package compression

import (
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/klauspost/compress/zstd"
	"sync"
)

// shared encoder and decoder, both safe for concurrent EncodeAll/DecodeAll
var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdInitErr error
)

func initZstd() error {
	zstdOnce.Do(func() {
		zstdEncoder, zstdInitErr = zstd.NewWriter(nil)
		if zstdInitErr != nil {
			return
		}
		zstdDecoder, zstdInitErr = zstd.NewReader(nil)
	})
	return zstdInitErr
}

// NewZstdCodec creates a codec using zstd
func NewZstdCodec() ICodec {
	return zstdCodecImpl{}
}

// zstdCodecImpl implements the ICodec interface using klauspost's zstd implementation
type zstdCodecImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see compression.ICodec)
// --------------------------------------------------------------------------

func (zstdCodecImpl) Type() protocol.CompressionType {
	return protocol.CompressionZstd
}

func (zstdCodecImpl) Compress(src []byte) ([]byte, error) {
	if err := initZstd(); err != nil {
		return nil, err
	}
	return zstdEncoder.EncodeAll(src, nil), nil
}

func (zstdCodecImpl) Decompress(src []byte, uncompressedSize int) ([]byte, error) {
	if err := initZstd(); err != nil {
		return nil, err
	}
	return zstdDecoder.DecodeAll(src, make([]byte, 0, max(uncompressedSize, 0)))
}
