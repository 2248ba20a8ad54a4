package protocol

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
	"time"
)

// testCommands returns one instance of every command with all fields filled
func testCommands() map[string]Command {
	return map[string]Command{
		"DeclarePublisherRequest": DeclarePublisherRequest{CorrelationID: 1, PublisherID: 2, Reference: "ref", Stream: "orders"},
		"Publish": Publish{PublisherID: 4, Messages: []PublishedMessage{
			{PublishingID: 1, Data: []byte("first")},
			{PublishingID: 2, Data: []byte("second")},
		}},
		"PublishSubEntry": Publish{PublisherID: 1, Messages: []PublishedMessage{
			{PublishingID: 10, Data: []byte("compressed-bytes"), SubEntry: &SubEntryBatch{Compression: CompressionZstd, NumRecords: 3, UncompressedSize: 42}},
			{PublishingID: 11, Data: []byte("plain")},
		}},
		"PublishConfirm":                 PublishConfirm{PublisherID: 3, PublishingIDs: []uint64{1, 2, 3}},
		"PublishError":                   PublishError{PublisherID: 3, Errors: []PublishingError{{PublishingID: 5, Code: ResponseCodeStreamNotAvailable}}},
		"QueryPublisherSequenceRequest":  QueryPublisherSequenceRequest{CorrelationID: 9, Reference: "ref", Stream: "orders"},
		"QueryPublisherSequenceResponse": QueryPublisherSequenceResponse{CorrelationID: 9, ResponseCode: ResponseCodeOk, Sequence: 1234},
		"DeletePublisherRequest":         DeletePublisherRequest{CorrelationID: 3, PublisherID: 7},
		"SubscribeRequestFirst": SubscribeRequest{CorrelationID: 4, SubscriptionID: 1, Stream: "orders",
			Offset: OffsetFirst(), Credit: 10, Properties: map[string]string{"name": "consumer"}},
		"SubscribeRequestOffset": SubscribeRequest{CorrelationID: 5, SubscriptionID: 2, Stream: "orders",
			Offset: OffsetAt(1 << 40), Credit: 1, Properties: map[string]string{}},
		"SubscribeRequestTimestamp": SubscribeRequest{CorrelationID: 6, SubscriptionID: 3, Stream: "orders",
			Offset: OffsetTimestamp(time.UnixMilli(1700000000000)), Credit: 2, Properties: map[string]string{"a": "b", "c": "d"}},
		"Deliver":                  Deliver{SubscriptionID: 3, Chunk: NewChunk(100, 2, 1700000000000, [][]byte{[]byte("apple"), []byte("pear")})},
		"Credit":                   Credit{SubscriptionID: 1, Credit: 5},
		"StoreOffset":              StoreOffset{Reference: "ref", Stream: "orders", Offset: 77},
		"QueryOffsetRequest":       QueryOffsetRequest{CorrelationID: 8, Reference: "ref", Stream: "orders"},
		"QueryOffsetResponse":      QueryOffsetResponse{CorrelationID: 8, ResponseCode: ResponseCodeOffsetNotFound, Offset: 0},
		"UnsubscribeRequest":       UnsubscribeRequest{CorrelationID: 10, SubscriptionID: 1},
		"CreateRequest":            CreateRequest{CorrelationID: 11, Stream: "orders", Arguments: map[string]string{"max-length-bytes": "1000"}},
		"DeleteRequest":            DeleteRequest{CorrelationID: 12, Stream: "orders"},
		"MetadataUpdate":           MetadataUpdate{Code: ResponseCodeStreamNotAvailable, Stream: "orders"},
		"PeerPropertiesRequest":    PeerPropertiesRequest{CorrelationID: 13, Properties: map[string]string{"connection_name": "test"}},
		"PeerPropertiesResponse":   PeerPropertiesResponse{CorrelationID: 13, ResponseCode: ResponseCodeOk, Properties: map[string]string{"version": "1"}},
		"SaslHandshakeRequest":     SaslHandshakeRequest{CorrelationID: 14},
		"SaslHandshakeResponse":    SaslHandshakeResponse{CorrelationID: 14, ResponseCode: ResponseCodeOk, Mechanisms: []string{"PLAIN", "AMQPLAIN"}},
		"SaslAuthenticateRequest":  SaslAuthenticateRequest{CorrelationID: 15, Mechanism: "PLAIN", Data: []byte("\x00guest\x00guest")},
		"SaslAuthenticateResponse": SaslAuthenticateResponse{CorrelationID: 15, ResponseCode: ResponseCodeOk},
		"SaslAuthenticateChallenge": SaslAuthenticateResponse{CorrelationID: 15, ResponseCode: ResponseCodeSaslChallenge,
			Data: []byte("challenge")},
		"Tune":                   Tune{FrameMax: 1048576, Heartbeat: 60},
		"OpenRequest":            OpenRequest{CorrelationID: 16, VirtualHost: "/"},
		"OpenResponse":           OpenResponse{CorrelationID: 16, ResponseCode: ResponseCodeOk},
		"OpenResponseProperties": OpenResponse{CorrelationID: 16, ResponseCode: ResponseCodeOk, Properties: map[string]string{"advertised_host": "localhost"}},
		"CloseRequest":           CloseRequest{CorrelationID: 17, ClosingCode: ResponseCodeOk, Reason: "bye"},
		"CloseResponse":          CloseResponse{CorrelationID: 17, ResponseCode: ResponseCodeOk},
		"Heartbeat":              Heartbeat{},
		"SimpleResponseSubscribe": SimpleResponse{CommandKey: KeySubscribe, CorrelationID: 18,
			ResponseCode: ResponseCodeSubscriptionIdAlreadyExists},
		"SimpleResponseCreate":  SimpleResponse{CommandKey: KeyCreate, CorrelationID: 19, ResponseCode: ResponseCodeStreamAlreadyExists},
		"SimpleResponseUnknown": SimpleResponse{CommandKey: KeyDelete, CorrelationID: 20, ResponseCode: ResponseCode(999)},
	}
}

// TestCodecRoundTrip tests that every command survives an encode/decode cycle
func TestCodecRoundTrip(t *testing.T) {
	for name, cmd := range testCommands() {
		t.Run(name, func(t *testing.T) {
			data := Encode(cmd)

			if len(data) != headerSize+cmd.SizeNeeded() {
				t.Errorf("Encoded length %d doesn't match header + SizeNeeded %d", len(data), headerSize+cmd.SizeNeeded())
			}

			result, n, err := Decode(data)
			if err != nil {
				t.Fatalf("Failed to decode: %v", err)
			}
			if n != len(data) {
				t.Errorf("Decode consumed %d bytes, expected %d", n, len(data))
			}
			if !reflect.DeepEqual(cmd, result) {
				t.Errorf("Command doesn't match after round trip:\nOriginal: %+v\nResult: %+v", cmd, result)
			}
		})
	}
}

// TestCloseResponseBytes checks the exact wire layout of a CloseResponse
func TestCloseResponseBytes(t *testing.T) {
	cmd := CloseResponse{CorrelationID: 7, ResponseCode: ResponseCodeOk}
	expected := []byte{0x80, 0x16, 0x00, 0x01, 0x00, 0x00, 0x00, 0x07, 0x00, 0x01}

	data := Encode(cmd)
	if !bytes.Equal(data, expected) {
		t.Fatalf("Unexpected encoding:\nExpected: % x\nGot:      % x", expected, data)
	}

	result, n, err := Decode(expected)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if n != len(expected) {
		t.Errorf("Decode consumed %d bytes, expected %d", n, len(expected))
	}
	resp, ok := result.(CloseResponse)
	if !ok {
		t.Fatalf("Expected CloseResponse, got %T", result)
	}
	if resp.Key() != KeyClose || resp.CorrelationID != 7 || resp.ResponseCode != ResponseCodeOk {
		t.Errorf("Unexpected response: key=%d %+v", resp.Key(), resp)
	}
}

// TestDecodeErrors tests malformed and unknown frames
func TestDecodeErrors(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		expected error
	}{
		{
			name:     "Empty",
			data:     []byte{},
			expected: ErrTruncatedFrame,
		},
		{
			name:     "Header only partially present",
			data:     []byte{0x00, 0x01, 0x00},
			expected: ErrTruncatedFrame,
		},
		{
			name:     "Unknown key",
			data:     []byte{0x00, 0x63, 0x00, 0x01},
			expected: ErrUnknownCommand,
		},
		{
			name:     "Unknown version",
			data:     []byte{0x00, 0x17, 0x00, 0x09},
			expected: ErrUnknownCommand,
		},
		{
			name:     "Response flag on request-only command",
			data:     []byte{0x80, 0x02, 0x00, 0x01},
			expected: ErrUnknownCommand,
		},
		{
			name:     "Truncated correlation id",
			data:     []byte{0x80, 0x16, 0x00, 0x01, 0x00, 0x00},
			expected: ErrTruncatedFrame,
		},
		{
			name:     "String length exceeds payload",
			data:     []byte{0x00, 0x0e, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x10, 'a'},
			expected: ErrTruncatedFrame,
		},
		{
			name:     "Confirm count exceeds payload",
			data:     []byte{0x00, 0x03, 0x00, 0x01, 0x01, 0x00, 0x00, 0x00, 0x05, 0x00},
			expected: ErrTruncatedFrame,
		},
		{
			name:     "Map count exceeds payload",
			data:     []byte{0x00, 0x11, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x7f, 0xff, 0xff, 0xff},
			expected: ErrTruncatedFrame,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, n, err := Decode(tc.data)
			if !errors.Is(err, tc.expected) {
				t.Errorf("Expected error %v, got %v", tc.expected, err)
			}
			if cmd != nil || n != 0 {
				t.Errorf("Expected no command and 0 bytes consumed, got %T and %d", cmd, n)
			}
		})
	}
}

// TestDecodeConsumesExactBytes tests that trailing bytes are left untouched
func TestDecodeConsumesExactBytes(t *testing.T) {
	first := Encode(Credit{SubscriptionID: 1, Credit: 2})
	second := Encode(Heartbeat{})
	data := append(append([]byte{}, first...), second...)

	cmd, n, err := Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if n != len(first) {
		t.Fatalf("Expected %d bytes consumed, got %d", len(first), n)
	}
	if _, ok := cmd.(Credit); !ok {
		t.Fatalf("Expected Credit, got %T", cmd)
	}

	cmd, _, err = Decode(data[n:])
	if err != nil {
		t.Fatalf("Failed to decode second command: %v", err)
	}
	if _, ok := cmd.(Heartbeat); !ok {
		t.Fatalf("Expected Heartbeat, got %T", cmd)
	}
}

// TestResponseKeys tests that responses report their base key and are flagged on the wire
func TestResponseKeys(t *testing.T) {
	for name, cmd := range testCommands() {
		t.Run(name, func(t *testing.T) {
			data := Encode(cmd)
			wireKey := uint16(data[0])<<8 | uint16(data[1])

			_, isResponse := cmd.(Response)
			if IsResponseKey(wireKey) != isResponse {
				t.Errorf("Response flag on wire is %v, expected %v", IsResponseKey(wireKey), isResponse)
			}
			if cmd.Key()&ResponseFlag != 0 {
				t.Errorf("Key() must not contain the response flag, got 0x%04x", cmd.Key())
			}
			if wireKey&^ResponseFlag != cmd.Key() {
				t.Errorf("Wire key 0x%04x doesn't match Key() %d", wireKey, cmd.Key())
			}
		})
	}
}

// TestWithCorrelationID tests that requests are copied, not mutated
func TestWithCorrelationID(t *testing.T) {
	original := DeclarePublisherRequest{PublisherID: 1, Stream: "s"}
	updated := original.WithCorrelationID(42)

	if original.CorrelationID != 0 {
		t.Errorf("Original request was mutated: %+v", original)
	}
	if updated.GetCorrelationID() != 42 {
		t.Errorf("Expected correlation id 42, got %d", updated.GetCorrelationID())
	}
}

// TestResponseCodeString tests that unknown codes keep their numeric value
func TestResponseCodeString(t *testing.T) {
	if s := ResponseCodeOk.String(); s != "ok" {
		t.Errorf("Expected 'ok', got %q", s)
	}
	if s := ResponseCode(999).String(); s != "response code 999" {
		t.Errorf("Expected 'response code 999', got %q", s)
	}
}

// TestParseCompressionType tests the name lookup for compression codecs
func TestParseCompressionType(t *testing.T) {
	for c := CompressionNone; c <= CompressionZstd; c++ {
		parsed, err := ParseCompressionType(c.String())
		if err != nil {
			t.Errorf("Failed to parse %q: %v", c.String(), err)
		}
		if parsed != c {
			t.Errorf("Expected %v, got %v", c, parsed)
		}
	}
	if _, err := ParseCompressionType("brotli"); err == nil {
		t.Errorf("Expected error for unknown codec")
	}
}
