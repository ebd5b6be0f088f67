package domain

import "time"

// UserWork is the denormalized per-(job,service) ledger row that the fair
// scheduler reads instead of scanning WorkItems directly (spec §3, §4.2).
// It is pure derived state: always reconstructible from WorkItem rows via
// RebuildUserWork.
type UserWork struct {
	JobID        string
	ServiceID    string
	Username     string
	ReadyCount   int
	RunningCount int
	LastWorked   time.Time
	IsAsync      bool
}

// Empty reports whether both counters have reached zero, in which case the
// row should be deleted (spec §3).
func (u *UserWork) Empty() bool {
	return u.ReadyCount <= 0 && u.RunningCount <= 0
}

// OnDispatch applies the ledger delta for a READY->RUNNING transition
// (spec §4.1: "Atomic with UserWork readyCount--, runningCount++,
// lastWorked=now").
func (u *UserWork) OnDispatch(now time.Time) {
	u.ReadyCount--
	u.RunningCount++
	u.LastWorked = now
}

// OnRetry applies the ledger delta for a RUNNING->READY retry transition.
func (u *UserWork) OnRetry() {
	u.RunningCount--
	u.ReadyCount++
}

// OnReady applies the ledger delta for a newly-created READY item.
func (u *UserWork) OnReady(n int) {
	u.ReadyCount += n
}

// OnCompleted applies the ledger delta for a RUNNING item reaching any
// completed status (SUCCESSFUL, FAILED terminal, or CANCELED).
func (u *UserWork) OnCompleted() {
	u.RunningCount--
}
