package catchup

import (
	"github.com/braidb/braid/src/store"
)

// MessageType is the wire discriminator of a catch-up protocol message.
type MessageType uint8

const (
	MsgStoreIdRequest MessageType = iota + 1
	MsgStoreIdResponse
	MsgSnapshotRequest
	MsgSnapshotResponse
	MsgStoreFileRequest
	MsgFileChunk
	MsgTxStreamRequest
	MsgTxChunk
	MsgStreamEnd
	MsgError
)

func (t MessageType) String() string {
	switch t {
	case MsgStoreIdRequest:
		return "StoreIdRequest"
	case MsgStoreIdResponse:
		return "StoreIdResponse"
	case MsgSnapshotRequest:
		return "SnapshotRequest"
	case MsgSnapshotResponse:
		return "SnapshotResponse"
	case MsgStoreFileRequest:
		return "StoreFileRequest"
	case MsgFileChunk:
		return "FileChunk"
	case MsgTxStreamRequest:
		return "TxStreamRequest"
	case MsgTxChunk:
		return "TxChunk"
	case MsgStreamEnd:
		return "StreamEnd"
	case MsgError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ErrorCode qualifies an ErrorResponse.
type ErrorCode uint8

const (
	ECodeVersionMismatch ErrorCode = iota + 1
	ECodeStoreIdMismatch
	ECodeInvalidRequest
	ECodeServerError
)

// Message is implemented by every catch-up protocol message. The embedded
// version tag is checked by the version gate before any payload is acted on.
type Message interface {
	MessageType() MessageType
	MessageVersion() uint8
}

// GetStoreIdRequest asks a server for the identity of its store.
type GetStoreIdRequest struct {
	Version uint8
}

// GetStoreIdResponse carries the server's store identity.
type GetStoreIdResponse struct {
	Version uint8
	StoreId store.StoreId
}

// GetSnapshotRequest asks a server for a consensus snapshot.
type GetSnapshotRequest struct {
	Version uint8
}

// GetSnapshotResponse carries a consensus snapshot.
type GetSnapshotResponse struct {
	Version  uint8
	Snapshot *store.ConsensusSnapshot
}

// GetStoreFileRequest asks a server to stream its store files. The server
// refuses if its store identity differs from DesiredStoreId.
type GetStoreFileRequest struct {
	Version        uint8
	DesiredStoreId store.StoreId
}

// FileChunk is one chunk of one store file.
type FileChunk struct {
	Version uint8
	Name    string
	Data    []byte
}

// GetTxStreamRequest asks a server to stream closed transactions with
// id > FromTxId.
type GetTxStreamRequest struct {
	Version  uint8
	FromTxId uint64
}

// TxChunk is a batch of closed transactions.
type TxChunk struct {
	Version uint8
	Txs     []store.TxEntry
}

// StreamEnd marks the end of a chunked transfer.
type StreamEnd struct {
	Version uint8
}

// ErrorResponse is sent by a server when a request cannot be served.
type ErrorResponse struct {
	Version uint8
	Code    ErrorCode
	Message string
}

// RawChunk is the opaque pass-through form of a frame whose type does not
// match the connection's current expectation. The payload is forwarded
// unexamined.
type RawChunk struct {
	Version uint8
	Type    MessageType
	Payload []byte
}

func (m *GetStoreIdRequest) MessageType() MessageType  { return MsgStoreIdRequest }
func (m *GetStoreIdResponse) MessageType() MessageType { return MsgStoreIdResponse }
func (m *GetSnapshotRequest) MessageType() MessageType { return MsgSnapshotRequest }
func (m *GetSnapshotResponse) MessageType() MessageType {
	return MsgSnapshotResponse
}
func (m *GetStoreFileRequest) MessageType() MessageType { return MsgStoreFileRequest }
func (m *FileChunk) MessageType() MessageType           { return MsgFileChunk }
func (m *GetTxStreamRequest) MessageType() MessageType  { return MsgTxStreamRequest }
func (m *TxChunk) MessageType() MessageType             { return MsgTxChunk }
func (m *StreamEnd) MessageType() MessageType           { return MsgStreamEnd }
func (m *ErrorResponse) MessageType() MessageType       { return MsgError }
func (m *RawChunk) MessageType() MessageType            { return m.Type }

func (m *GetStoreIdRequest) MessageVersion() uint8   { return m.Version }
func (m *GetStoreIdResponse) MessageVersion() uint8  { return m.Version }
func (m *GetSnapshotRequest) MessageVersion() uint8  { return m.Version }
func (m *GetSnapshotResponse) MessageVersion() uint8 { return m.Version }
func (m *GetStoreFileRequest) MessageVersion() uint8 { return m.Version }
func (m *FileChunk) MessageVersion() uint8           { return m.Version }
func (m *GetTxStreamRequest) MessageVersion() uint8  { return m.Version }
func (m *TxChunk) MessageVersion() uint8             { return m.Version }
func (m *StreamEnd) MessageVersion() uint8           { return m.Version }
func (m *ErrorResponse) MessageVersion() uint8       { return m.Version }
func (m *RawChunk) MessageVersion() uint8            { return m.Version }
