package domain

// JobStatus is the lifecycle status of a Job.
type JobStatus string

const (
	JobAccepted            JobStatus = "ACCEPTED"
	JobPreviewing          JobStatus = "PREVIEWING"
	JobRunning             JobStatus = "RUNNING"
	JobRunningWithErrors   JobStatus = "RUNNING_WITH_ERRORS"
	JobPaused              JobStatus = "PAUSED"
	JobSuccessful          JobStatus = "SUCCESSFUL"
	JobCompleteWithErrors  JobStatus = "COMPLETE_WITH_ERRORS"
	JobFailed              JobStatus = "FAILED"
	JobCanceled            JobStatus = "CANCELED"
)

// Terminal reports whether no further transitions are permitted from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSuccessful, JobCompleteWithErrors, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// WorkItemStatus is the lifecycle status of a WorkItem.
type WorkItemStatus string

const (
	ItemReady      WorkItemStatus = "READY"
	ItemRunning    WorkItemStatus = "RUNNING"
	ItemSuccessful WorkItemStatus = "SUCCESSFUL"
	ItemFailed     WorkItemStatus = "FAILED"
	ItemCanceled   WorkItemStatus = "CANCELED"
)

// Completed reports whether no further transitions are permitted from s,
// except an explicit retry which resets a FAILED item back to READY.
func (s WorkItemStatus) Completed() bool {
	switch s {
	case ItemSuccessful, ItemFailed, ItemCanceled:
		return true
	default:
		return false
	}
}
