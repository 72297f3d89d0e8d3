package store

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"
)

// StoreIdLength is the size of a marshalled StoreId on the wire.
const StoreIdLength = 32

// StoreId identifies a specific store instance. Two stores that do not share
// the same StoreId belong to different store families and must never be
// merged.
type StoreId struct {
	CreationTime uint64
	RandomId     uint64
	UpgradeTime  uint64
	UpgradeId    uint64
}

// NewStoreId returns a fresh StoreId for a newly created store.
func NewStoreId() StoreId {
	now := uint64(time.Now().UnixNano())
	return StoreId{
		CreationTime: now,
		RandomId:     rand.Uint64(),
		UpgradeTime:  now,
		UpgradeId:    1,
	}
}

// IsZero reports whether the StoreId is unset.
func (s StoreId) IsZero() bool {
	return s == StoreId{}
}

// Equals reports whether two StoreIds identify the same store instance.
func (s StoreId) Equals(other StoreId) bool {
	return s == other
}

// Bytes marshals the StoreId to its fixed-size wire form.
func (s StoreId) Bytes() []byte {
	b := make([]byte, StoreIdLength)
	binary.BigEndian.PutUint64(b[0:8], s.CreationTime)
	binary.BigEndian.PutUint64(b[8:16], s.RandomId)
	binary.BigEndian.PutUint64(b[16:24], s.UpgradeTime)
	binary.BigEndian.PutUint64(b[24:32], s.UpgradeId)
	return b
}

func (s StoreId) String() string {
	return fmt.Sprintf("%016X-%016X", s.CreationTime, s.RandomId)
}

// StoreIdFromBytes unmarshals a StoreId from its fixed-size wire form.
func StoreIdFromBytes(b []byte) (StoreId, error) {
	if len(b) != StoreIdLength {
		return StoreId{}, fmt.Errorf("store id must be %d bytes, got %d", StoreIdLength, len(b))
	}
	return StoreId{
		CreationTime: binary.BigEndian.Uint64(b[0:8]),
		RandomId:     binary.BigEndian.Uint64(b[8:16]),
		UpgradeTime:  binary.BigEndian.Uint64(b[16:24]),
		UpgradeId:    binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
