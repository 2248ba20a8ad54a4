package protocol

import (
	"encoding/binary"
	"fmt"
)

// decodeFunc reads the payload of a command from the reader
type decodeFunc func(r *wireReader) Command

// commandID identifies a decoder by the key as seen on the wire and the version
type commandID struct {
	key     uint16
	version uint16
}

// decoders maps every known (wire key, version) to its decoder.
// The registry is built once and only read afterwards.
var decoders = map[commandID]decodeFunc{
	{KeyDeclarePublisher, Version}:       readDeclarePublisherRequest,
	{KeyPublish, Version}:                readPublish,
	{KeyPublishConfirm, Version}:         readPublishConfirm,
	{KeyPublishError, Version}:           readPublishError,
	{KeyQueryPublisherSequence, Version}: readQueryPublisherSequenceRequest,
	{KeyDeletePublisher, Version}:        readDeletePublisherRequest,
	{KeySubscribe, Version}:              readSubscribeRequest,
	{KeyDeliver, Version}:                readDeliver,
	{KeyCredit, Version}:                 readCredit,
	{KeyStoreOffset, Version}:            readStoreOffset,
	{KeyQueryOffset, Version}:            readQueryOffsetRequest,
	{KeyUnsubscribe, Version}:            readUnsubscribeRequest,
	{KeyCreate, Version}:                 readCreateRequest,
	{KeyDelete, Version}:                 readDeleteRequest,
	{KeyMetadataUpdate, Version}:         readMetadataUpdate,
	{KeyPeerProperties, Version}:         readPeerPropertiesRequest,
	{KeySaslHandshake, Version}:          readSaslHandshakeRequest,
	{KeySaslAuthenticate, Version}:       readSaslAuthenticateRequest,
	{KeyTune, Version}:                   readTune,
	{KeyOpen, Version}:                   readOpenRequest,
	{KeyClose, Version}:                  readCloseRequest,
	{KeyHeartbeat, Version}:              readHeartbeat,

	{ResponseFlag | KeyDeclarePublisher, Version}:       readSimpleResponse(KeyDeclarePublisher),
	{ResponseFlag | KeyQueryPublisherSequence, Version}: readQueryPublisherSequenceResponse,
	{ResponseFlag | KeyDeletePublisher, Version}:        readSimpleResponse(KeyDeletePublisher),
	{ResponseFlag | KeySubscribe, Version}:              readSimpleResponse(KeySubscribe),
	{ResponseFlag | KeyQueryOffset, Version}:            readQueryOffsetResponse,
	{ResponseFlag | KeyUnsubscribe, Version}:            readSimpleResponse(KeyUnsubscribe),
	{ResponseFlag | KeyCreate, Version}:                 readSimpleResponse(KeyCreate),
	{ResponseFlag | KeyDelete, Version}:                 readSimpleResponse(KeyDelete),
	{ResponseFlag | KeyPeerProperties, Version}:         readPeerPropertiesResponse,
	{ResponseFlag | KeySaslHandshake, Version}:          readSaslHandshakeResponse,
	{ResponseFlag | KeySaslAuthenticate, Version}:       readSaslAuthenticateResponse,
	{ResponseFlag | KeyOpen, Version}:                   readOpenResponse,
	{ResponseFlag | KeyClose, Version}:                  readCloseResponse,
}

// headerSize is the size of the generic command header (key + version)
const headerSize = 4

// Encode serializes a command including its generic header but without the
// frame size prefix. Responses are written with the response flag set.
func Encode(cmd Command) []byte {
	w := wireWriter{buf: make([]byte, 0, headerSize+cmd.SizeNeeded())}
	key := cmd.Key()
	if _, ok := cmd.(Response); ok {
		key |= ResponseFlag
	}
	w.uint16(key)
	w.uint16(cmd.Version())
	cmd.write(&w)
	return w.buf
}

// Decode reads one command from the beginning of data (header included, frame size excluded).
// It returns the command and the number of bytes consumed.
// Errors:
//   - ErrTruncatedFrame if the data ends before the header or a declared field
//   - ErrUnknownCommand if no decoder is registered for the key/version
func Decode(data []byte) (Command, int, error) {
	if len(data) < headerSize {
		return nil, 0, fmt.Errorf("%w: data too short for header (need %d, have %d)", ErrTruncatedFrame, headerSize, len(data))
	}
	key := binary.BigEndian.Uint16(data[0:2])
	version := binary.BigEndian.Uint16(data[2:4])

	decode, ok := decoders[commandID{key: key, version: version}]
	if !ok {
		return nil, 0, fmt.Errorf("%w: key %d (0x%04x) version %d", ErrUnknownCommand, key&^ResponseFlag, key, version)
	}

	r := wireReader{data: data, pos: headerSize}
	cmd := decode(&r)
	if r.err != nil {
		return nil, 0, r.err
	}
	return cmd, r.pos, nil
}

// IsResponseKey reports whether a wire key has the response flag set
func IsResponseKey(key uint16) bool {
	return key&ResponseFlag != 0
}
