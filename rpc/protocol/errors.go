package protocol

import (
	"errors"
)

var (
	// ErrUnknownCommand is returned when a frame carries a key/version without a registered decoder
	ErrUnknownCommand = errors.New("unknown command")

	// ErrTruncatedFrame is returned when a frame ends before all declared fields could be read
	ErrTruncatedFrame = errors.New("truncated frame")

	// ErrNeedMoreBytes signals that a buffer does not yet contain a complete frame
	ErrNeedMoreBytes = errors.New("need more bytes")

	// ErrFrameTooLarge is returned when a frame exceeds the negotiated maximum frame size
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrUnsupportedEntryFormat is returned when a chunk contains a sub-batch entry
	ErrUnsupportedEntryFormat = errors.New("unsupported entry format")

	// ErrChunkCrcMismatch is returned when the checksum of a chunk's data does not match its header
	ErrChunkCrcMismatch = errors.New("chunk crc mismatch")
)
