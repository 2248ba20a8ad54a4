package protocol

import (
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Command Keys
// --------------------------------------------------------------------------

// Command keys as they appear in the generic frame header.
// Responses carry the key of their request with the response flag set.
const (
	KeyDeclarePublisher       uint16 = 1
	KeyPublish                uint16 = 2
	KeyPublishConfirm         uint16 = 3
	KeyPublishError           uint16 = 4
	KeyQueryPublisherSequence uint16 = 5
	KeyDeletePublisher        uint16 = 6
	KeySubscribe              uint16 = 7
	KeyDeliver                uint16 = 8
	KeyCredit                 uint16 = 9
	KeyStoreOffset            uint16 = 10
	KeyQueryOffset            uint16 = 11
	KeyUnsubscribe            uint16 = 12
	KeyCreate                 uint16 = 13
	KeyDelete                 uint16 = 14
	KeyMetadataUpdate         uint16 = 16
	KeyPeerProperties         uint16 = 17
	KeySaslHandshake          uint16 = 18
	KeySaslAuthenticate       uint16 = 19
	KeyTune                   uint16 = 20
	KeyOpen                   uint16 = 21
	KeyClose                  uint16 = 22
	KeyHeartbeat              uint16 = 23

	// ResponseFlag is set on the wire key of every response frame
	ResponseFlag uint16 = 0x8000

	// Version is the protocol version used by every command
	Version uint16 = 1
)

// --------------------------------------------------------------------------
// Response Codes
// --------------------------------------------------------------------------

// ResponseCode is the status code carried by responses and some notifications.
// Codes unknown to this client keep their numeric value.
type ResponseCode uint16

const (
	ResponseCodeOk                            ResponseCode = 1
	ResponseCodeStreamDoesNotExist            ResponseCode = 2
	ResponseCodeSubscriptionIdAlreadyExists   ResponseCode = 3
	ResponseCodeSubscriptionIdDoesNotExist    ResponseCode = 4
	ResponseCodeStreamAlreadyExists           ResponseCode = 5
	ResponseCodeStreamNotAvailable            ResponseCode = 6
	ResponseCodeSaslMechanismNotSupported     ResponseCode = 7
	ResponseCodeAuthenticationFailure         ResponseCode = 8
	ResponseCodeSaslError                     ResponseCode = 9
	ResponseCodeSaslChallenge                 ResponseCode = 10
	ResponseCodeAuthenticationFailureLoopback ResponseCode = 11
	ResponseCodeVirtualHostAccessFailure      ResponseCode = 12
	ResponseCodeUnknownFrame                  ResponseCode = 13
	ResponseCodeFrameTooLarge                 ResponseCode = 14
	ResponseCodeInternalError                 ResponseCode = 15
	ResponseCodeAccessRefused                 ResponseCode = 16
	ResponseCodePreconditionFailed            ResponseCode = 17
	ResponseCodePublisherDoesNotExist         ResponseCode = 18
	ResponseCodeOffsetNotFound                ResponseCode = 19
)

// String returns the string representation of a ResponseCode.
func (c ResponseCode) String() string {
	switch c {
	case ResponseCodeOk:
		return "ok"
	case ResponseCodeStreamDoesNotExist:
		return "stream does not exist"
	case ResponseCodeSubscriptionIdAlreadyExists:
		return "subscription id already exists"
	case ResponseCodeSubscriptionIdDoesNotExist:
		return "subscription id does not exist"
	case ResponseCodeStreamAlreadyExists:
		return "stream already exists"
	case ResponseCodeStreamNotAvailable:
		return "stream not available"
	case ResponseCodeSaslMechanismNotSupported:
		return "sasl mechanism not supported"
	case ResponseCodeAuthenticationFailure:
		return "authentication failure"
	case ResponseCodeSaslError:
		return "sasl error"
	case ResponseCodeSaslChallenge:
		return "sasl challenge"
	case ResponseCodeAuthenticationFailureLoopback:
		return "authentication failure loopback"
	case ResponseCodeVirtualHostAccessFailure:
		return "virtual host access failure"
	case ResponseCodeUnknownFrame:
		return "unknown frame"
	case ResponseCodeFrameTooLarge:
		return "frame too large"
	case ResponseCodeInternalError:
		return "internal error"
	case ResponseCodeAccessRefused:
		return "access refused"
	case ResponseCodePreconditionFailed:
		return "precondition failed"
	case ResponseCodePublisherDoesNotExist:
		return "publisher does not exist"
	case ResponseCodeOffsetNotFound:
		return "offset not found"
	default:
		return fmt.Sprintf("response code %d", uint16(c))
	}
}

// --------------------------------------------------------------------------
// Offset Specification
// --------------------------------------------------------------------------

// OffsetType selects where a subscription starts reading
type OffsetType uint16

const (
	OffsetTypeFirst     OffsetType = 1 // Start at the first available entry
	OffsetTypeLast      OffsetType = 2 // Start at the last chunk
	OffsetTypeNext      OffsetType = 3 // Only entries written after subscribing
	OffsetTypeOffset    OffsetType = 4 // Start at an absolute offset
	OffsetTypeTimestamp OffsetType = 5 // Start at the first chunk after a timestamp
)

// OffsetSpec describes the starting point of a subscription
type OffsetSpec struct {
	Type      OffsetType
	Offset    uint64 // Used for OffsetTypeOffset
	Timestamp int64  // Unix milliseconds, used for OffsetTypeTimestamp
}

// OffsetFirst starts at the first entry of the stream
func OffsetFirst() OffsetSpec {
	return OffsetSpec{Type: OffsetTypeFirst}
}

// OffsetLast starts at the last chunk of the stream
func OffsetLast() OffsetSpec {
	return OffsetSpec{Type: OffsetTypeLast}
}

// OffsetNext only receives entries published after subscribing
func OffsetNext() OffsetSpec {
	return OffsetSpec{Type: OffsetTypeNext}
}

// OffsetAt starts at the given absolute offset
func OffsetAt(offset uint64) OffsetSpec {
	return OffsetSpec{Type: OffsetTypeOffset, Offset: offset}
}

// OffsetTimestamp starts at the first chunk written at or after t
func OffsetTimestamp(t time.Time) OffsetSpec {
	return OffsetSpec{Type: OffsetTypeTimestamp, Timestamp: t.UnixMilli()}
}

// String returns a human-readable representation of the offset specification
func (o OffsetSpec) String() string {
	switch o.Type {
	case OffsetTypeFirst:
		return "first"
	case OffsetTypeLast:
		return "last"
	case OffsetTypeNext:
		return "next"
	case OffsetTypeOffset:
		return fmt.Sprintf("offset(%d)", o.Offset)
	case OffsetTypeTimestamp:
		return fmt.Sprintf("timestamp(%d)", o.Timestamp)
	default:
		return fmt.Sprintf("offset type %d", uint16(o.Type))
	}
}

// --------------------------------------------------------------------------
// Compression Types
// --------------------------------------------------------------------------

// CompressionType identifies the codec used for a sub-entry batch
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionGzip   CompressionType = 1
	CompressionSnappy CompressionType = 2
	CompressionLz4    CompressionType = 3
	CompressionZstd   CompressionType = 4
)

// String returns the string representation of a CompressionType
func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionSnappy:
		return "snappy"
	case CompressionLz4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression %d", uint8(c))
	}
}

// ParseCompressionType converts a codec name into a CompressionType
func ParseCompressionType(name string) (CompressionType, error) {
	for c := CompressionNone; c <= CompressionZstd; c++ {
		if c.String() == name {
			return c, nil
		}
	}
	return CompressionNone, fmt.Errorf("invalid compression %q. must be one of none, gzip, snappy, lz4, zstd", name)
}
