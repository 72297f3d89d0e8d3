package catchup

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/braidb/braid/src/store"
)

// maxBlobSize caps length-prefixed payloads so that a corrupted frame cannot
// trigger an unbounded allocation.
const maxBlobSize = 1 << 26

// bufSize is the size of the read and write buffers wrapping a connection.
const bufSize = 1 << 16

// Frame layout: a version byte, a type byte, then the type-specific payload.
// StoreId payloads are fixed-size; snapshot, chunk and error payloads are
// length-prefixed opaque blobs, so that a decoder can always skip over a
// payload it is not expecting without interpreting it.

// Encoder writes catch-up protocol messages to a byte stream, one message per
// frame, flushing after each message.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriterSize(w, bufSize)}
}

// Encode writes a single message frame and flushes it.
func (e *Encoder) Encode(msg Message) error {
	if err := e.w.WriteByte(msg.MessageVersion()); err != nil {
		return err
	}
	if err := e.w.WriteByte(byte(msg.MessageType())); err != nil {
		return err
	}

	payload, err := encodePayload(msg)
	if err != nil {
		return err
	}

	switch framingOf(msg.MessageType()) {
	case frameEmpty:
		// nothing to write
	case frameFixed32, frameFixed8:
		if _, err := e.w.Write(payload); err != nil {
			return err
		}
	case frameBlob:
		var scratch [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(scratch[:], uint64(len(payload)))
		if _, err := e.w.Write(scratch[:n]); err != nil {
			return err
		}
		if _, err := e.w.Write(payload); err != nil {
			return err
		}
	default:
		return decodeErrorf("cannot encode unknown message type %d", msg.MessageType())
	}

	return e.w.Flush()
}

type framing uint8

const (
	frameUnknown framing = iota
	frameEmpty
	frameFixed32
	frameFixed8
	frameBlob
)

func framingOf(t MessageType) framing {
	switch t {
	case MsgStoreIdRequest, MsgSnapshotRequest, MsgStreamEnd:
		return frameEmpty
	case MsgStoreIdResponse, MsgStoreFileRequest:
		return frameFixed32
	case MsgTxStreamRequest:
		return frameFixed8
	case MsgSnapshotResponse, MsgFileChunk, MsgTxChunk, MsgError:
		return frameBlob
	default:
		return frameUnknown
	}
}

// encodePayload produces the type-specific payload bytes, without the outer
// length prefix.
func encodePayload(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *GetStoreIdRequest, *GetSnapshotRequest, *StreamEnd:
		return nil, nil
	case *GetStoreIdResponse:
		return m.StoreId.Bytes(), nil
	case *GetStoreFileRequest:
		return m.DesiredStoreId.Bytes(), nil
	case *GetTxStreamRequest:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, m.FromTxId)
		return b, nil
	case *GetSnapshotResponse:
		return m.Snapshot.Marshal()
	case *FileChunk:
		b := new(bytes.Buffer)
		writeUvarint(b, uint64(len(m.Name)))
		b.WriteString(m.Name)
		writeUvarint(b, uint64(len(m.Data)))
		b.Write(m.Data)
		return b.Bytes(), nil
	case *TxChunk:
		b := new(bytes.Buffer)
		writeUvarint(b, uint64(len(m.Txs)))
		for _, tx := range m.Txs {
			var id [8]byte
			binary.BigEndian.PutUint64(id[:], tx.Id)
			b.Write(id[:])
			writeUvarint(b, uint64(len(tx.Payload)))
			b.Write(tx.Payload)
		}
		return b.Bytes(), nil
	case *ErrorResponse:
		b := new(bytes.Buffer)
		b.WriteByte(byte(m.Code))
		b.WriteString(m.Message)
		return b.Bytes(), nil
	case *RawChunk:
		return m.Payload, nil
	default:
		return nil, decodeErrorf("cannot encode message %T", msg)
	}
}

func writeUvarint(b *bytes.Buffer, v uint64) {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], v)
	b.Write(scratch[:n])
}

// Decoder reads catch-up protocol messages from a byte stream. Decoding is
// context-dependent: a frame is only parsed into its structured form when the
// owning connection's protocol state currently expects that message kind;
// otherwise the payload is passed through unexamined as a RawChunk. A nil
// protocol disables gating and every known frame is parsed.
type Decoder struct {
	r     *bufio.Reader
	proto interface {
		IsExpecting(NextMessage) bool
	}
}

// NewDecoder returns a Decoder reading from r, gated by proto.
func NewDecoder(r io.Reader, proto interface {
	IsExpecting(NextMessage) bool
}) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, bufSize), proto: proto}
}

// Decode reads a single frame. It returns io.EOF on a clean connection close
// before any header byte; any other failure is a DecodeError and the
// connection must be torn down.
func (d *Decoder) Decode() (Message, error) {
	ver, err := d.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, decodeErrorf("reading version tag: %v", err)
	}

	typeByte, err := d.r.ReadByte()
	if err != nil {
		return nil, decodeErrorf("reading message type: %v", err)
	}
	msgType := MessageType(typeByte)

	payload, err := d.readPayload(msgType)
	if err != nil {
		return nil, err
	}

	if !d.expected(msgType) {
		return &RawChunk{Version: ver, Type: msgType, Payload: payload}, nil
	}

	return parsePayload(ver, msgType, payload)
}

// readPayload reads the payload bytes of a frame according to the type's
// framing, without interpreting them.
func (d *Decoder) readPayload(t MessageType) ([]byte, error) {
	switch framingOf(t) {
	case frameEmpty:
		return nil, nil
	case frameFixed32:
		return d.readFull(store.StoreIdLength)
	case frameFixed8:
		return d.readFull(8)
	case frameBlob:
		size, err := binary.ReadUvarint(d.r)
		if err != nil {
			return nil, decodeErrorf("reading payload length for %s: %v", t, err)
		}
		if size > maxBlobSize {
			return nil, decodeErrorf("payload of %d bytes for %s exceeds limit", size, t)
		}
		return d.readFull(int(size))
	default:
		return nil, decodeErrorf("unknown message type %d", t)
	}
}

func (d *Decoder) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, decodeErrorf("truncated frame: %v", err)
	}
	return buf, nil
}

// expected reports whether the active protocol state entitles us to parse a
// frame of the given type. Error frames are the control channel and are
// always parsed.
func (d *Decoder) expected(t MessageType) bool {
	if d.proto == nil {
		return framingOf(t) != frameUnknown
	}

	switch t {
	case MsgError:
		return true
	case MsgStoreIdRequest, MsgSnapshotRequest, MsgStoreFileRequest, MsgTxStreamRequest:
		return d.proto.IsExpecting(ExpectMessageType)
	case MsgStoreIdResponse:
		return d.proto.IsExpecting(ExpectStoreId)
	case MsgSnapshotResponse:
		return d.proto.IsExpecting(ExpectSnapshot)
	case MsgFileChunk:
		return d.proto.IsExpecting(ExpectFileChunks)
	case MsgTxChunk:
		return d.proto.IsExpecting(ExpectTxChunks)
	case MsgStreamEnd:
		return d.proto.IsExpecting(ExpectFileChunks) || d.proto.IsExpecting(ExpectTxChunks)
	default:
		return false
	}
}

// parsePayload interprets payload bytes as the structured message of the given
// type.
func parsePayload(ver uint8, t MessageType, payload []byte) (Message, error) {
	switch t {
	case MsgStoreIdRequest:
		return &GetStoreIdRequest{Version: ver}, nil
	case MsgSnapshotRequest:
		return &GetSnapshotRequest{Version: ver}, nil
	case MsgStreamEnd:
		return &StreamEnd{Version: ver}, nil
	case MsgStoreIdResponse:
		id, err := store.StoreIdFromBytes(payload)
		if err != nil {
			return nil, decodeErrorf("parsing store id: %v", err)
		}
		return &GetStoreIdResponse{Version: ver, StoreId: id}, nil
	case MsgStoreFileRequest:
		id, err := store.StoreIdFromBytes(payload)
		if err != nil {
			return nil, decodeErrorf("parsing desired store id: %v", err)
		}
		return &GetStoreFileRequest{Version: ver, DesiredStoreId: id}, nil
	case MsgTxStreamRequest:
		return &GetTxStreamRequest{Version: ver, FromTxId: binary.BigEndian.Uint64(payload)}, nil
	case MsgSnapshotResponse:
		snapshot, err := store.UnmarshalConsensusSnapshot(payload)
		if err != nil {
			return nil, decodeErrorf("parsing snapshot: %v", err)
		}
		return &GetSnapshotResponse{Version: ver, Snapshot: snapshot}, nil
	case MsgFileChunk:
		r := bytes.NewReader(payload)
		name, err := readLengthPrefixed(r)
		if err != nil {
			return nil, decodeErrorf("parsing file chunk name: %v", err)
		}
		data, err := readLengthPrefixed(r)
		if err != nil {
			return nil, decodeErrorf("parsing file chunk data: %v", err)
		}
		return &FileChunk{Version: ver, Name: string(name), Data: data}, nil
	case MsgTxChunk:
		r := bytes.NewReader(payload)
		count, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, decodeErrorf("parsing tx chunk count: %v", err)
		}
		if count > maxBlobSize/9 {
			return nil, decodeErrorf("tx chunk count %d exceeds limit", count)
		}
		txs := make([]store.TxEntry, 0, count)
		for i := uint64(0); i < count; i++ {
			var id [8]byte
			if _, err := io.ReadFull(r, id[:]); err != nil {
				return nil, decodeErrorf("parsing tx id: %v", err)
			}
			data, err := readLengthPrefixed(r)
			if err != nil {
				return nil, decodeErrorf("parsing tx payload: %v", err)
			}
			txs = append(txs, store.TxEntry{Id: binary.BigEndian.Uint64(id[:]), Payload: data})
		}
		return &TxChunk{Version: ver, Txs: txs}, nil
	case MsgError:
		if len(payload) < 1 {
			return nil, decodeErrorf("empty error payload")
		}
		return &ErrorResponse{
			Version: ver,
			Code:    ErrorCode(payload[0]),
			Message: string(payload[1:]),
		}, nil
	default:
		return nil, decodeErrorf("unknown message type %d", t)
	}
}

func readLengthPrefixed(r *bytes.Reader) ([]byte, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if size > maxBlobSize {
		return nil, decodeErrorf("length %d exceeds limit", size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
