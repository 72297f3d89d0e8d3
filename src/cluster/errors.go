package cluster

import (
	"fmt"
	"time"
)

// LeaderUnavailableError is returned when no leader was elected within the
// wait window.
type LeaderUnavailableError struct {
	Timeout time.Duration
}

func (e LeaderUnavailableError) Error() string {
	return fmt.Sprintf("no leader available after %v", e.Timeout)
}

// IsLeaderUnavailable reports whether err is a LeaderUnavailableError.
func IsLeaderUnavailable(err error) bool {
	_, ok := err.(LeaderUnavailableError)
	return ok
}

// CatchUpTimeoutError is returned when a replica did not reach the target
// transaction id within the catch-up window.
type CatchUpTimeoutError struct {
	MemberID int
	WantTxId uint64
	GotTxId  uint64
	Timeout  time.Duration
}

func (e CatchUpTimeoutError) Error() string {
	return fmt.Sprintf("member %d did not catch up to tx %d within %v (reached %d)",
		e.MemberID, e.WantTxId, e.Timeout, e.GotTxId)
}

// IsCatchUpTimeout reports whether err is a CatchUpTimeoutError.
func IsCatchUpTimeout(err error) bool {
	_, ok := err.(CatchUpTimeoutError)
	return ok
}
