package catchup

import (
	"github.com/sirupsen/logrus"

	"github.com/braidb/braid/src/store"
)

// Replicate drives the full catch-up sequence against the server at target:
// fetch the remote store id, copy the store if the local one is blank, verify
// identity otherwise, install a consensus snapshot, then tail the transaction
// log from the snapshot's mark. dest ends up at a verifiably consistent
// point; any failure leaves it either untouched or discarded, never partially
// populated.
func (c *Client) Replicate(target string, dest store.WritableStore) error {
	remoteId, err := c.FetchStoreId(target)
	if err != nil {
		return err
	}

	localId := dest.StoreId()

	switch {
	case localId.IsZero():
		if err := c.CopyStore(target, remoteId, dest); err != nil {
			return err
		}
	case !localId.Equals(remoteId):
		return &StoreIdMismatchError{Expected: localId, Actual: remoteId}
	}

	snapshot, err := c.FetchSnapshot(target)
	if err != nil {
		return err
	}

	if err := dest.ApplySnapshot(snapshot); err != nil {
		return err
	}

	applied, err := c.PullTransactions(target, snapshot.SnapshotTxId, dest)
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"target":         target,
		"store_id":       remoteId.String(),
		"snapshot_tx_id": snapshot.SnapshotTxId,
		"applied":        applied,
	}).Debug("Replicate complete")

	return nil
}
