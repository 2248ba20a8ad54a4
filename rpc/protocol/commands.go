package protocol

// --------------------------------------------------------------------------
// Command Interfaces
// --------------------------------------------------------------------------

// Command is implemented by every protocol message. The set of variants is closed:
// only types of this package can implement it.
type Command interface {
	// Key returns the command key (without the response flag)
	Key() uint16
	// Version returns the command version
	Version() uint16
	// SizeNeeded returns the number of payload bytes following key and version
	SizeNeeded() int
	// write appends the payload to the writer
	write(w *wireWriter)
}

// Request is a command that expects a correlated response
type Request interface {
	Command
	// WithCorrelationID returns a copy of the request carrying the given correlation id
	WithCorrelationID(id uint32) Request
	// GetCorrelationID returns the correlation id of the request
	GetCorrelationID() uint32
}

// Response is a command answering a Request
type Response interface {
	Command
	GetCorrelationID() uint32
	GetResponseCode() ResponseCode
}

// --------------------------------------------------------------------------
// Publisher Commands
// --------------------------------------------------------------------------

// DeclarePublisherRequest registers a publisher id for a stream on the connection
type DeclarePublisherRequest struct {
	CorrelationID uint32
	PublisherID   uint8
	Reference     string
	Stream        string
}

func (c DeclarePublisherRequest) Key() uint16              { return KeyDeclarePublisher }
func (c DeclarePublisherRequest) Version() uint16          { return Version }
func (c DeclarePublisherRequest) GetCorrelationID() uint32 { return c.CorrelationID }
func (c DeclarePublisherRequest) WithCorrelationID(id uint32) Request {
	c.CorrelationID = id
	return c
}
func (c DeclarePublisherRequest) SizeNeeded() int {
	return 4 + 1 + sizeString(c.Reference) + sizeString(c.Stream)
}
func (c DeclarePublisherRequest) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.uint8(c.PublisherID)
	w.string(c.Reference)
	w.string(c.Stream)
}

func readDeclarePublisherRequest(r *wireReader) Command {
	return DeclarePublisherRequest{
		CorrelationID: r.uint32("correlation id"),
		PublisherID:   r.uint8("publisher id"),
		Reference:     r.string("reference"),
		Stream:        r.string("stream"),
	}
}

// SubEntryBatch marks a published entry as a compressed batch of several records
type SubEntryBatch struct {
	Compression      CompressionType
	NumRecords       uint16
	UncompressedSize uint32
}

// subEntryFlag is set in the first byte of a sub-batch entry
const subEntryFlag uint8 = 0x80

// PublishedMessage is a single entry of a Publish command.
// For sub-entry batches Data holds the (compressed) record blob.
type PublishedMessage struct {
	PublishingID uint64
	Data         []byte
	SubEntry     *SubEntryBatch
}

func (m PublishedMessage) size() int {
	if m.SubEntry != nil {
		return 8 + 1 + 2 + 4 + 4 + len(m.Data)
	}
	return 8 + sizeBlob(m.Data)
}

// Publish sends one or more entries for a declared publisher
type Publish struct {
	PublisherID uint8
	Messages    []PublishedMessage
}

func (c Publish) Key() uint16     { return KeyPublish }
func (c Publish) Version() uint16 { return Version }
func (c Publish) SizeNeeded() int {
	size := 1 + 4
	for _, m := range c.Messages {
		size += m.size()
	}
	return size
}
func (c Publish) write(w *wireWriter) {
	w.uint8(c.PublisherID)
	w.uint32(uint32(len(c.Messages)))
	for _, m := range c.Messages {
		w.uint64(m.PublishingID)
		if m.SubEntry == nil {
			w.blob(m.Data)
			continue
		}
		w.uint8(subEntryFlag | uint8(m.SubEntry.Compression)<<4)
		w.uint16(m.SubEntry.NumRecords)
		w.uint32(m.SubEntry.UncompressedSize)
		w.uint32(uint32(len(m.Data)))
		w.raw(m.Data)
	}
}

func readPublish(r *wireReader) Command {
	c := Publish{PublisherID: r.uint8("publisher id")}
	n := r.uint32("message count")
	if r.err != nil || int(n) > r.remaining()/12 {
		r.need(int(n)*12, "messages")
		return c
	}
	c.Messages = make([]PublishedMessage, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		m := PublishedMessage{PublishingID: r.uint64("publishing id")}
		if !r.need(1, "entry type") {
			break
		}
		if r.data[r.pos]&subEntryFlag == 0 {
			m.Data = r.blob("message")
		} else {
			entryType := r.uint8("entry type")
			m.SubEntry = &SubEntryBatch{
				Compression:      CompressionType((entryType &^ subEntryFlag) >> 4),
				NumRecords:       r.uint16("sub-entry records"),
				UncompressedSize: r.uint32("uncompressed size"),
			}
			size := r.uint32("sub-entry size")
			if v := r.view(int(size), "sub-entry data"); v != nil {
				m.Data = append([]byte{}, v...)
			}
		}
		c.Messages = append(c.Messages, m)
	}
	return c
}

// PublishConfirm acknowledges publishing ids as durably stored
type PublishConfirm struct {
	PublisherID   uint8
	PublishingIDs []uint64
}

func (c PublishConfirm) Key() uint16     { return KeyPublishConfirm }
func (c PublishConfirm) Version() uint16 { return Version }
func (c PublishConfirm) SizeNeeded() int { return 1 + 4 + 8*len(c.PublishingIDs) }
func (c PublishConfirm) write(w *wireWriter) {
	w.uint8(c.PublisherID)
	w.uint32(uint32(len(c.PublishingIDs)))
	for _, id := range c.PublishingIDs {
		w.uint64(id)
	}
}

func readPublishConfirm(r *wireReader) Command {
	c := PublishConfirm{PublisherID: r.uint8("publisher id")}
	n := r.uint32("confirm count")
	if !r.need(int(n)*8, "publishing ids") {
		return c
	}
	c.PublishingIDs = make([]uint64, n)
	for i := range c.PublishingIDs {
		c.PublishingIDs[i] = r.uint64("publishing id")
	}
	return c
}

// PublishingError names a rejected publishing id and the reason
type PublishingError struct {
	PublishingID uint64
	Code         ResponseCode
}

// PublishError reports publishing ids the broker refused to store
type PublishError struct {
	PublisherID uint8
	Errors      []PublishingError
}

func (c PublishError) Key() uint16     { return KeyPublishError }
func (c PublishError) Version() uint16 { return Version }
func (c PublishError) SizeNeeded() int { return 1 + 4 + 10*len(c.Errors) }
func (c PublishError) write(w *wireWriter) {
	w.uint8(c.PublisherID)
	w.uint32(uint32(len(c.Errors)))
	for _, e := range c.Errors {
		w.uint64(e.PublishingID)
		w.uint16(uint16(e.Code))
	}
}

func readPublishError(r *wireReader) Command {
	c := PublishError{PublisherID: r.uint8("publisher id")}
	n := r.uint32("error count")
	if !r.need(int(n)*10, "publishing errors") {
		return c
	}
	c.Errors = make([]PublishingError, n)
	for i := range c.Errors {
		c.Errors[i] = PublishingError{
			PublishingID: r.uint64("publishing id"),
			Code:         ResponseCode(r.uint16("error code")),
		}
	}
	return c
}

// QueryPublisherSequenceRequest asks for the last publishing id stored for a reference
type QueryPublisherSequenceRequest struct {
	CorrelationID uint32
	Reference     string
	Stream        string
}

func (c QueryPublisherSequenceRequest) Key() uint16              { return KeyQueryPublisherSequence }
func (c QueryPublisherSequenceRequest) Version() uint16          { return Version }
func (c QueryPublisherSequenceRequest) GetCorrelationID() uint32 { return c.CorrelationID }
func (c QueryPublisherSequenceRequest) WithCorrelationID(id uint32) Request {
	c.CorrelationID = id
	return c
}
func (c QueryPublisherSequenceRequest) SizeNeeded() int {
	return 4 + sizeString(c.Reference) + sizeString(c.Stream)
}
func (c QueryPublisherSequenceRequest) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.string(c.Reference)
	w.string(c.Stream)
}

func readQueryPublisherSequenceRequest(r *wireReader) Command {
	return QueryPublisherSequenceRequest{
		CorrelationID: r.uint32("correlation id"),
		Reference:     r.string("reference"),
		Stream:        r.string("stream"),
	}
}

// QueryPublisherSequenceResponse carries the last stored publishing id
type QueryPublisherSequenceResponse struct {
	CorrelationID uint32
	ResponseCode  ResponseCode
	Sequence      uint64
}

func (c QueryPublisherSequenceResponse) Key() uint16                   { return KeyQueryPublisherSequence }
func (c QueryPublisherSequenceResponse) Version() uint16               { return Version }
func (c QueryPublisherSequenceResponse) GetCorrelationID() uint32      { return c.CorrelationID }
func (c QueryPublisherSequenceResponse) GetResponseCode() ResponseCode { return c.ResponseCode }
func (c QueryPublisherSequenceResponse) SizeNeeded() int               { return 4 + 2 + 8 }
func (c QueryPublisherSequenceResponse) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.uint16(uint16(c.ResponseCode))
	w.uint64(c.Sequence)
}

func readQueryPublisherSequenceResponse(r *wireReader) Command {
	return QueryPublisherSequenceResponse{
		CorrelationID: r.uint32("correlation id"),
		ResponseCode:  ResponseCode(r.uint16("response code")),
		Sequence:      r.uint64("sequence"),
	}
}

// DeletePublisherRequest releases a publisher id
type DeletePublisherRequest struct {
	CorrelationID uint32
	PublisherID   uint8
}

func (c DeletePublisherRequest) Key() uint16              { return KeyDeletePublisher }
func (c DeletePublisherRequest) Version() uint16          { return Version }
func (c DeletePublisherRequest) GetCorrelationID() uint32 { return c.CorrelationID }
func (c DeletePublisherRequest) WithCorrelationID(id uint32) Request {
	c.CorrelationID = id
	return c
}
func (c DeletePublisherRequest) SizeNeeded() int { return 4 + 1 }
func (c DeletePublisherRequest) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.uint8(c.PublisherID)
}

func readDeletePublisherRequest(r *wireReader) Command {
	return DeletePublisherRequest{
		CorrelationID: r.uint32("correlation id"),
		PublisherID:   r.uint8("publisher id"),
	}
}

// --------------------------------------------------------------------------
// Consumer Commands
// --------------------------------------------------------------------------

// SubscribeRequest registers a subscription id for a stream starting at an offset
type SubscribeRequest struct {
	CorrelationID  uint32
	SubscriptionID uint8
	Stream         string
	Offset         OffsetSpec
	Credit         uint16
	Properties     map[string]string
}

func (c SubscribeRequest) Key() uint16              { return KeySubscribe }
func (c SubscribeRequest) Version() uint16          { return Version }
func (c SubscribeRequest) GetCorrelationID() uint32 { return c.CorrelationID }
func (c SubscribeRequest) WithCorrelationID(id uint32) Request {
	c.CorrelationID = id
	return c
}
func (c SubscribeRequest) SizeNeeded() int {
	size := 4 + 1 + sizeString(c.Stream) + 2 + 2 + sizeStringMap(c.Properties)
	if c.Offset.Type == OffsetTypeOffset || c.Offset.Type == OffsetTypeTimestamp {
		size += 8
	}
	return size
}
func (c SubscribeRequest) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.uint8(c.SubscriptionID)
	w.string(c.Stream)
	w.uint16(uint16(c.Offset.Type))
	switch c.Offset.Type {
	case OffsetTypeOffset:
		w.uint64(c.Offset.Offset)
	case OffsetTypeTimestamp:
		w.int64(c.Offset.Timestamp)
	}
	w.uint16(c.Credit)
	w.stringMap(c.Properties)
}

func readSubscribeRequest(r *wireReader) Command {
	c := SubscribeRequest{
		CorrelationID:  r.uint32("correlation id"),
		SubscriptionID: r.uint8("subscription id"),
		Stream:         r.string("stream"),
	}
	c.Offset.Type = OffsetType(r.uint16("offset type"))
	switch c.Offset.Type {
	case OffsetTypeOffset:
		c.Offset.Offset = r.uint64("offset")
	case OffsetTypeTimestamp:
		c.Offset.Timestamp = r.int64("timestamp")
	}
	c.Credit = r.uint16("credit")
	c.Properties = r.stringMap("properties")
	return c
}

// Deliver carries one chunk for a subscription
type Deliver struct {
	SubscriptionID uint8
	Chunk          Chunk
}

func (c Deliver) Key() uint16     { return KeyDeliver }
func (c Deliver) Version() uint16 { return Version }
func (c Deliver) SizeNeeded() int { return 1 + c.Chunk.size() }
func (c Deliver) write(w *wireWriter) {
	w.uint8(c.SubscriptionID)
	c.Chunk.write(w)
}

func readDeliver(r *wireReader) Command {
	return Deliver{
		SubscriptionID: r.uint8("subscription id"),
		Chunk:          readChunk(r),
	}
}

// Credit grants the broker permission to send more chunks for a subscription
type Credit struct {
	SubscriptionID uint8
	Credit         uint16
}

func (c Credit) Key() uint16     { return KeyCredit }
func (c Credit) Version() uint16 { return Version }
func (c Credit) SizeNeeded() int { return 1 + 2 }
func (c Credit) write(w *wireWriter) {
	w.uint8(c.SubscriptionID)
	w.uint16(c.Credit)
}

func readCredit(r *wireReader) Command {
	return Credit{
		SubscriptionID: r.uint8("subscription id"),
		Credit:         r.uint16("credit"),
	}
}

// StoreOffset persists a consumer offset on the broker. It has no response.
type StoreOffset struct {
	Reference string
	Stream    string
	Offset    uint64
}

func (c StoreOffset) Key() uint16     { return KeyStoreOffset }
func (c StoreOffset) Version() uint16 { return Version }
func (c StoreOffset) SizeNeeded() int { return sizeString(c.Reference) + sizeString(c.Stream) + 8 }
func (c StoreOffset) write(w *wireWriter) {
	w.string(c.Reference)
	w.string(c.Stream)
	w.uint64(c.Offset)
}

func readStoreOffset(r *wireReader) Command {
	return StoreOffset{
		Reference: r.string("reference"),
		Stream:    r.string("stream"),
		Offset:    r.uint64("offset"),
	}
}

// QueryOffsetRequest asks for the offset stored for a consumer reference
type QueryOffsetRequest struct {
	CorrelationID uint32
	Reference     string
	Stream        string
}

func (c QueryOffsetRequest) Key() uint16              { return KeyQueryOffset }
func (c QueryOffsetRequest) Version() uint16          { return Version }
func (c QueryOffsetRequest) GetCorrelationID() uint32 { return c.CorrelationID }
func (c QueryOffsetRequest) WithCorrelationID(id uint32) Request {
	c.CorrelationID = id
	return c
}
func (c QueryOffsetRequest) SizeNeeded() int {
	return 4 + sizeString(c.Reference) + sizeString(c.Stream)
}
func (c QueryOffsetRequest) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.string(c.Reference)
	w.string(c.Stream)
}

func readQueryOffsetRequest(r *wireReader) Command {
	return QueryOffsetRequest{
		CorrelationID: r.uint32("correlation id"),
		Reference:     r.string("reference"),
		Stream:        r.string("stream"),
	}
}

// QueryOffsetResponse carries a stored consumer offset
type QueryOffsetResponse struct {
	CorrelationID uint32
	ResponseCode  ResponseCode
	Offset        uint64
}

func (c QueryOffsetResponse) Key() uint16                   { return KeyQueryOffset }
func (c QueryOffsetResponse) Version() uint16               { return Version }
func (c QueryOffsetResponse) GetCorrelationID() uint32      { return c.CorrelationID }
func (c QueryOffsetResponse) GetResponseCode() ResponseCode { return c.ResponseCode }
func (c QueryOffsetResponse) SizeNeeded() int               { return 4 + 2 + 8 }
func (c QueryOffsetResponse) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.uint16(uint16(c.ResponseCode))
	w.uint64(c.Offset)
}

func readQueryOffsetResponse(r *wireReader) Command {
	return QueryOffsetResponse{
		CorrelationID: r.uint32("correlation id"),
		ResponseCode:  ResponseCode(r.uint16("response code")),
		Offset:        r.uint64("offset"),
	}
}

// UnsubscribeRequest releases a subscription id
type UnsubscribeRequest struct {
	CorrelationID  uint32
	SubscriptionID uint8
}

func (c UnsubscribeRequest) Key() uint16              { return KeyUnsubscribe }
func (c UnsubscribeRequest) Version() uint16          { return Version }
func (c UnsubscribeRequest) GetCorrelationID() uint32 { return c.CorrelationID }
func (c UnsubscribeRequest) WithCorrelationID(id uint32) Request {
	c.CorrelationID = id
	return c
}
func (c UnsubscribeRequest) SizeNeeded() int { return 4 + 1 }
func (c UnsubscribeRequest) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.uint8(c.SubscriptionID)
}

func readUnsubscribeRequest(r *wireReader) Command {
	return UnsubscribeRequest{
		CorrelationID:  r.uint32("correlation id"),
		SubscriptionID: r.uint8("subscription id"),
	}
}

// --------------------------------------------------------------------------
// Stream Management Commands
// --------------------------------------------------------------------------

// CreateRequest creates a stream with optional arguments (e.g. max-length-bytes)
type CreateRequest struct {
	CorrelationID uint32
	Stream        string
	Arguments     map[string]string
}

func (c CreateRequest) Key() uint16              { return KeyCreate }
func (c CreateRequest) Version() uint16          { return Version }
func (c CreateRequest) GetCorrelationID() uint32 { return c.CorrelationID }
func (c CreateRequest) WithCorrelationID(id uint32) Request {
	c.CorrelationID = id
	return c
}
func (c CreateRequest) SizeNeeded() int {
	return 4 + sizeString(c.Stream) + sizeStringMap(c.Arguments)
}
func (c CreateRequest) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.string(c.Stream)
	w.stringMap(c.Arguments)
}

func readCreateRequest(r *wireReader) Command {
	return CreateRequest{
		CorrelationID: r.uint32("correlation id"),
		Stream:        r.string("stream"),
		Arguments:     r.stringMap("arguments"),
	}
}

// DeleteRequest deletes a stream
type DeleteRequest struct {
	CorrelationID uint32
	Stream        string
}

func (c DeleteRequest) Key() uint16              { return KeyDelete }
func (c DeleteRequest) Version() uint16          { return Version }
func (c DeleteRequest) GetCorrelationID() uint32 { return c.CorrelationID }
func (c DeleteRequest) WithCorrelationID(id uint32) Request {
	c.CorrelationID = id
	return c
}
func (c DeleteRequest) SizeNeeded() int { return 4 + sizeString(c.Stream) }
func (c DeleteRequest) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.string(c.Stream)
}

func readDeleteRequest(r *wireReader) Command {
	return DeleteRequest{
		CorrelationID: r.uint32("correlation id"),
		Stream:        r.string("stream"),
	}
}

// MetadataUpdate notifies the client that a stream changed (e.g. was deleted)
type MetadataUpdate struct {
	Code   ResponseCode
	Stream string
}

func (c MetadataUpdate) Key() uint16     { return KeyMetadataUpdate }
func (c MetadataUpdate) Version() uint16 { return Version }
func (c MetadataUpdate) SizeNeeded() int { return 2 + sizeString(c.Stream) }
func (c MetadataUpdate) write(w *wireWriter) {
	w.uint16(uint16(c.Code))
	w.string(c.Stream)
}

func readMetadataUpdate(r *wireReader) Command {
	return MetadataUpdate{
		Code:   ResponseCode(r.uint16("code")),
		Stream: r.string("stream"),
	}
}

// --------------------------------------------------------------------------
// Connection Commands
// --------------------------------------------------------------------------

// PeerPropertiesRequest exchanges client properties during the handshake
type PeerPropertiesRequest struct {
	CorrelationID uint32
	Properties    map[string]string
}

func (c PeerPropertiesRequest) Key() uint16              { return KeyPeerProperties }
func (c PeerPropertiesRequest) Version() uint16          { return Version }
func (c PeerPropertiesRequest) GetCorrelationID() uint32 { return c.CorrelationID }
func (c PeerPropertiesRequest) WithCorrelationID(id uint32) Request {
	c.CorrelationID = id
	return c
}
func (c PeerPropertiesRequest) SizeNeeded() int { return 4 + sizeStringMap(c.Properties) }
func (c PeerPropertiesRequest) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.stringMap(c.Properties)
}

func readPeerPropertiesRequest(r *wireReader) Command {
	return PeerPropertiesRequest{
		CorrelationID: r.uint32("correlation id"),
		Properties:    r.stringMap("properties"),
	}
}

// PeerPropertiesResponse carries the server properties
type PeerPropertiesResponse struct {
	CorrelationID uint32
	ResponseCode  ResponseCode
	Properties    map[string]string
}

func (c PeerPropertiesResponse) Key() uint16                   { return KeyPeerProperties }
func (c PeerPropertiesResponse) Version() uint16               { return Version }
func (c PeerPropertiesResponse) GetCorrelationID() uint32      { return c.CorrelationID }
func (c PeerPropertiesResponse) GetResponseCode() ResponseCode { return c.ResponseCode }
func (c PeerPropertiesResponse) SizeNeeded() int               { return 4 + 2 + sizeStringMap(c.Properties) }
func (c PeerPropertiesResponse) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.uint16(uint16(c.ResponseCode))
	w.stringMap(c.Properties)
}

func readPeerPropertiesResponse(r *wireReader) Command {
	return PeerPropertiesResponse{
		CorrelationID: r.uint32("correlation id"),
		ResponseCode:  ResponseCode(r.uint16("response code")),
		Properties:    r.stringMap("properties"),
	}
}

// SaslHandshakeRequest asks the server for its SASL mechanisms
type SaslHandshakeRequest struct {
	CorrelationID uint32
}

func (c SaslHandshakeRequest) Key() uint16              { return KeySaslHandshake }
func (c SaslHandshakeRequest) Version() uint16          { return Version }
func (c SaslHandshakeRequest) GetCorrelationID() uint32 { return c.CorrelationID }
func (c SaslHandshakeRequest) WithCorrelationID(id uint32) Request {
	c.CorrelationID = id
	return c
}
func (c SaslHandshakeRequest) SizeNeeded() int { return 4 }
func (c SaslHandshakeRequest) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
}

func readSaslHandshakeRequest(r *wireReader) Command {
	return SaslHandshakeRequest{CorrelationID: r.uint32("correlation id")}
}

// SaslHandshakeResponse lists the mechanisms supported by the server
type SaslHandshakeResponse struct {
	CorrelationID uint32
	ResponseCode  ResponseCode
	Mechanisms    []string
}

func (c SaslHandshakeResponse) Key() uint16                   { return KeySaslHandshake }
func (c SaslHandshakeResponse) Version() uint16               { return Version }
func (c SaslHandshakeResponse) GetCorrelationID() uint32      { return c.CorrelationID }
func (c SaslHandshakeResponse) GetResponseCode() ResponseCode { return c.ResponseCode }
func (c SaslHandshakeResponse) SizeNeeded() int {
	size := 4 + 2 + 4
	for _, m := range c.Mechanisms {
		size += sizeString(m)
	}
	return size
}
func (c SaslHandshakeResponse) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.uint16(uint16(c.ResponseCode))
	w.uint32(uint32(len(c.Mechanisms)))
	for _, m := range c.Mechanisms {
		w.string(m)
	}
}

func readSaslHandshakeResponse(r *wireReader) Command {
	c := SaslHandshakeResponse{
		CorrelationID: r.uint32("correlation id"),
		ResponseCode:  ResponseCode(r.uint16("response code")),
	}
	n := r.uint32("mechanism count")
	if !r.need(int(n)*2, "mechanisms") {
		return c
	}
	c.Mechanisms = make([]string, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		c.Mechanisms = append(c.Mechanisms, r.string("mechanism"))
	}
	return c
}

// SaslAuthenticateRequest authenticates with the chosen mechanism
type SaslAuthenticateRequest struct {
	CorrelationID uint32
	Mechanism     string
	Data          []byte
}

func (c SaslAuthenticateRequest) Key() uint16              { return KeySaslAuthenticate }
func (c SaslAuthenticateRequest) Version() uint16          { return Version }
func (c SaslAuthenticateRequest) GetCorrelationID() uint32 { return c.CorrelationID }
func (c SaslAuthenticateRequest) WithCorrelationID(id uint32) Request {
	c.CorrelationID = id
	return c
}
func (c SaslAuthenticateRequest) SizeNeeded() int {
	return 4 + sizeString(c.Mechanism) + sizeBlob(c.Data)
}
func (c SaslAuthenticateRequest) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.string(c.Mechanism)
	w.blob(c.Data)
}

func readSaslAuthenticateRequest(r *wireReader) Command {
	return SaslAuthenticateRequest{
		CorrelationID: r.uint32("correlation id"),
		Mechanism:     r.string("mechanism"),
		Data:          r.blob("sasl data"),
	}
}

// SaslAuthenticateResponse reports the authentication result. Data is only
// present for challenge responses.
type SaslAuthenticateResponse struct {
	CorrelationID uint32
	ResponseCode  ResponseCode
	Data          []byte
}

func (c SaslAuthenticateResponse) Key() uint16                   { return KeySaslAuthenticate }
func (c SaslAuthenticateResponse) Version() uint16               { return Version }
func (c SaslAuthenticateResponse) GetCorrelationID() uint32      { return c.CorrelationID }
func (c SaslAuthenticateResponse) GetResponseCode() ResponseCode { return c.ResponseCode }
func (c SaslAuthenticateResponse) SizeNeeded() int {
	if c.Data == nil {
		return 4 + 2
	}
	return 4 + 2 + sizeBlob(c.Data)
}
func (c SaslAuthenticateResponse) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.uint16(uint16(c.ResponseCode))
	if c.Data != nil {
		w.blob(c.Data)
	}
}

func readSaslAuthenticateResponse(r *wireReader) Command {
	c := SaslAuthenticateResponse{
		CorrelationID: r.uint32("correlation id"),
		ResponseCode:  ResponseCode(r.uint16("response code")),
	}
	if r.err == nil && r.remaining() > 0 {
		c.Data = r.blob("sasl data")
	}
	return c
}

// Tune negotiates the maximum frame size and heartbeat interval (seconds).
// It is sent by the server and echoed by the client with the agreed values.
type Tune struct {
	FrameMax  uint32
	Heartbeat uint32
}

func (c Tune) Key() uint16     { return KeyTune }
func (c Tune) Version() uint16 { return Version }
func (c Tune) SizeNeeded() int { return 4 + 4 }
func (c Tune) write(w *wireWriter) {
	w.uint32(c.FrameMax)
	w.uint32(c.Heartbeat)
}

func readTune(r *wireReader) Command {
	return Tune{
		FrameMax:  r.uint32("frame max"),
		Heartbeat: r.uint32("heartbeat"),
	}
}

// OpenRequest opens a virtual host
type OpenRequest struct {
	CorrelationID uint32
	VirtualHost   string
}

func (c OpenRequest) Key() uint16              { return KeyOpen }
func (c OpenRequest) Version() uint16          { return Version }
func (c OpenRequest) GetCorrelationID() uint32 { return c.CorrelationID }
func (c OpenRequest) WithCorrelationID(id uint32) Request {
	c.CorrelationID = id
	return c
}
func (c OpenRequest) SizeNeeded() int { return 4 + sizeString(c.VirtualHost) }
func (c OpenRequest) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.string(c.VirtualHost)
}

func readOpenRequest(r *wireReader) Command {
	return OpenRequest{
		CorrelationID: r.uint32("correlation id"),
		VirtualHost:   r.string("virtual host"),
	}
}

// OpenResponse carries connection properties (e.g. advertised host)
type OpenResponse struct {
	CorrelationID uint32
	ResponseCode  ResponseCode
	Properties    map[string]string
}

func (c OpenResponse) Key() uint16                   { return KeyOpen }
func (c OpenResponse) Version() uint16               { return Version }
func (c OpenResponse) GetCorrelationID() uint32      { return c.CorrelationID }
func (c OpenResponse) GetResponseCode() ResponseCode { return c.ResponseCode }
func (c OpenResponse) SizeNeeded() int {
	if c.Properties == nil {
		return 4 + 2
	}
	return 4 + 2 + sizeStringMap(c.Properties)
}
func (c OpenResponse) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.uint16(uint16(c.ResponseCode))
	if c.Properties != nil {
		w.stringMap(c.Properties)
	}
}

func readOpenResponse(r *wireReader) Command {
	c := OpenResponse{
		CorrelationID: r.uint32("correlation id"),
		ResponseCode:  ResponseCode(r.uint16("response code")),
	}
	if r.err == nil && r.remaining() > 0 {
		c.Properties = r.stringMap("properties")
	}
	return c
}

// CloseRequest closes the connection. Either peer may send it.
type CloseRequest struct {
	CorrelationID uint32
	ClosingCode   ResponseCode
	Reason        string
}

func (c CloseRequest) Key() uint16              { return KeyClose }
func (c CloseRequest) Version() uint16          { return Version }
func (c CloseRequest) GetCorrelationID() uint32 { return c.CorrelationID }
func (c CloseRequest) WithCorrelationID(id uint32) Request {
	c.CorrelationID = id
	return c
}
func (c CloseRequest) SizeNeeded() int { return 4 + 2 + sizeString(c.Reason) }
func (c CloseRequest) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.uint16(uint16(c.ClosingCode))
	w.string(c.Reason)
}

func readCloseRequest(r *wireReader) Command {
	return CloseRequest{
		CorrelationID: r.uint32("correlation id"),
		ClosingCode:   ResponseCode(r.uint16("closing code")),
		Reason:        r.string("reason"),
	}
}

// CloseResponse acknowledges a CloseRequest
type CloseResponse struct {
	CorrelationID uint32
	ResponseCode  ResponseCode
}

func (c CloseResponse) Key() uint16                   { return KeyClose }
func (c CloseResponse) Version() uint16               { return Version }
func (c CloseResponse) GetCorrelationID() uint32      { return c.CorrelationID }
func (c CloseResponse) GetResponseCode() ResponseCode { return c.ResponseCode }
func (c CloseResponse) SizeNeeded() int               { return 4 + 2 }
func (c CloseResponse) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.uint16(uint16(c.ResponseCode))
}

func readCloseResponse(r *wireReader) Command {
	return CloseResponse{
		CorrelationID: r.uint32("correlation id"),
		ResponseCode:  ResponseCode(r.uint16("response code")),
	}
}

// Heartbeat keeps an idle connection alive
type Heartbeat struct{}

func (c Heartbeat) Key() uint16       { return KeyHeartbeat }
func (c Heartbeat) Version() uint16   { return Version }
func (c Heartbeat) SizeNeeded() int   { return 0 }
func (c Heartbeat) write(*wireWriter) {}

func readHeartbeat(*wireReader) Command {
	return Heartbeat{}
}

// --------------------------------------------------------------------------
// Generic Response
// --------------------------------------------------------------------------

// SimpleResponse is the response of every request that only reports a status
// (DeclarePublisher, DeletePublisher, Subscribe, Unsubscribe, Create, Delete)
type SimpleResponse struct {
	CommandKey    uint16
	CorrelationID uint32
	ResponseCode  ResponseCode
}

func (c SimpleResponse) Key() uint16                   { return c.CommandKey }
func (c SimpleResponse) Version() uint16               { return Version }
func (c SimpleResponse) GetCorrelationID() uint32      { return c.CorrelationID }
func (c SimpleResponse) GetResponseCode() ResponseCode { return c.ResponseCode }
func (c SimpleResponse) SizeNeeded() int               { return 4 + 2 }
func (c SimpleResponse) write(w *wireWriter) {
	w.uint32(c.CorrelationID)
	w.uint16(uint16(c.ResponseCode))
}

// readSimpleResponse returns a decoder for the simple response of the given command key
func readSimpleResponse(key uint16) decodeFunc {
	return func(r *wireReader) Command {
		return SimpleResponse{
			CommandKey:    key,
			CorrelationID: r.uint32("correlation id"),
			ResponseCode:  ResponseCode(r.uint16("response code")),
		}
	}
}
