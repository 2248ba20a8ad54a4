package compression

import (
	"bytes"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/klauspost/compress/gzip"
	"io"
)

// NewGzipCodec creates a codec using gzip
func NewGzipCodec() ICodec {
	return gzipCodecImpl{}
}

// gzipCodecImpl implements the ICodec interface using klauspost's gzip implementation
type gzipCodecImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see compression.ICodec)
// --------------------------------------------------------------------------

func (gzipCodecImpl) Type() protocol.CompressionType {
	return protocol.CompressionGzip
}

func (gzipCodecImpl) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodecImpl) Decompress(src []byte, uncompressedSize int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readAllSized(r, uncompressedSize)
}

// readAllSized reads r to the end into a buffer preallocated with the expected size
func readAllSized(r io.Reader, size int) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, max(size, 0)))
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
