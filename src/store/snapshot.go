package store

import (
	"bytes"
	"reflect"

	"github.com/ugorji/go/codec"
)

// MemberInfo describes one cluster participant as recorded in a consensus
// snapshot.
type MemberInfo struct {
	ID      int
	NetAddr string
	Voting  bool
}

// ConsensusSnapshot is the in-memory state of the replication layer at a point
// in time: membership, term/index markers, the id of the last transaction
// covered by the snapshot, and the opaque state-machine state. It is immutable
// once produced.
type ConsensusSnapshot struct {
	Members      []*MemberInfo
	Term         uint64
	Index        uint64
	SnapshotTxId uint64
	PrevState    []byte
}

// Marshal serializes the snapshot in canonical form.
func (s *ConsensusSnapshot) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(s); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// UnmarshalConsensusSnapshot deserializes a snapshot produced by Marshal.
func UnmarshalConsensusSnapshot(data []byte) (*ConsensusSnapshot, error) {
	s := new(ConsensusSnapshot)

	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	if err := dec.Decode(s); err != nil {
		return nil, err
	}

	return s, nil
}

// Equals reports semantic equality. Two snapshots taken from an unchanged
// leader are Equals even though they are distinct instances.
func (s *ConsensusSnapshot) Equals(other *ConsensusSnapshot) bool {
	return reflect.DeepEqual(s, other)
}
