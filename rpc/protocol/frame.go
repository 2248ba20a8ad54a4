package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync/atomic"
)

// frameSizeLen is the size of the length prefix preceding every frame
const frameSizeLen = 4

// DefaultMaxFrameSize is used until a frame size has been negotiated
const DefaultMaxFrameSize uint32 = 1048576

// WriteFrame writes a frame to w with the format:
// - 4 bytes: payload length (uint32, big endian)
// - N bytes: payload (key, version, command payload)
//
// Size and payload are handed to the writer in a single call, so concurrent
// callers only need to serialize calls to WriteFrame.
func WriteFrame(w io.Writer, payload []byte) error {
	header := make([]byte, frameSizeLen)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	b := net.Buffers{header, payload}
	_, err := b.WriteTo(w)
	return err
}

// SplitFrame extracts the first complete frame from buf.
// It returns the frame payload, the number of bytes consumed and ErrNeedMoreBytes
// if buf does not yet hold a complete frame. A maxSize of 0 disables the size check.
func SplitFrame(buf []byte, maxSize uint32) ([]byte, int, error) {
	if len(buf) < frameSizeLen {
		return nil, 0, ErrNeedMoreBytes
	}
	size := binary.BigEndian.Uint32(buf[:frameSizeLen])
	if maxSize > 0 && size > maxSize {
		return nil, 0, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, size, maxSize)
	}
	end := frameSizeLen + int(size)
	if len(buf) < end {
		return nil, 0, ErrNeedMoreBytes
	}
	return buf[frameSizeLen:end:end], end, nil
}

// FrameReader reads length-prefixed frames from a byte stream
type FrameReader struct {
	r       *bufio.Reader
	header  [frameSizeLen]byte
	maxSize atomic.Uint32
}

// NewFrameReader creates a FrameReader with a read buffer of the given size
func NewFrameReader(r io.Reader, bufferSize int) *FrameReader {
	fr := &FrameReader{r: bufio.NewReaderSize(r, bufferSize)}
	fr.maxSize.Store(DefaultMaxFrameSize)
	return fr
}

// SetMaxFrameSize changes the largest accepted frame. It may be called while another
// goroutine is reading. A value of 0 disables the check.
func (fr *FrameReader) SetMaxFrameSize(size uint32) {
	fr.maxSize.Store(size)
}

// ReadFrame reads the next frame and returns its payload in a newly allocated slice.
// The payload stays valid after the next call, so chunks may reference it.
// ErrFrameTooLarge is returned when the frame exceeds the maximum size; the stream
// position is lost in that case and the reader must not be used again.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(fr.header[:])
	if max := fr.maxSize.Load(); max > 0 && size > max {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, size, max)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
