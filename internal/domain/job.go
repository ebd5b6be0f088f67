package domain

import "time"

// Job is the aggregate root for one user-submitted pipeline run.
//
// Once Status reaches a terminal value it never transitions again; callers
// must check Status.Terminal() before attempting any mutation.
type Job struct {
	ID               string
	Username         string
	Status           JobStatus
	NumInputGranules int
	Progress         int // 0-100
	Message          string
	IgnoreErrors     bool
	IsAsync          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// CompletedBatches/ExpectedBatches back the progress computation in
	// CompleteBatch (spec §4.6): every leaf-item completion increments
	// CompletedBatches by one. ExpectedBatches tracks the leaf step's own
	// WorkItemCount (the total number of leaf items the job will
	// eventually produce), so progress is CompletedBatches/ExpectedBatches.
	CompletedBatches int
	ExpectedBatches  int
}

// ShrinkGranules applies a reduced `hits` count reported by the paginator,
// per spec §4.5: shrinking is accepted, growing is ignored (the budget was
// fixed at submission).
func (j *Job) ShrinkGranules(hits int) bool {
	if hits < j.NumInputGranules {
		j.NumInputGranules = hits
		return true
	}
	return false
}

// CompleteBatch advances the job's progress counter by one leaf-item
// completion, against a denominator of stepWorkItemCount (the completing
// item's own WorkflowStep.WorkItemCount), per spec §4.6.
func (j *Job) CompleteBatch(stepWorkItemCount int) {
	j.CompletedBatches++
	if stepWorkItemCount > j.ExpectedBatches {
		j.ExpectedBatches = stepWorkItemCount
	}
	if j.ExpectedBatches <= 0 {
		j.Progress = 0
		return
	}
	pct := (j.CompletedBatches * 100) / j.ExpectedBatches
	if pct > 100 {
		pct = 100
	}
	j.Progress = pct
}

// Finalize transitions the job to a terminal status based on whether any
// JobError or JobLink exists, per spec §4.6.
func (j *Job) Finalize(hasError, hasLink bool) {
	switch {
	case hasError && hasLink:
		j.Status = JobCompleteWithErrors
	case hasError && !hasLink:
		j.Status = JobFailed
	default:
		j.Status = JobSuccessful
	}
	j.Progress = 100
}

// PauseForPreview transitions a PREVIEWING job to PAUSED on the first leaf
// completion, the "preview checkpoint" of spec §4.6.
func (j *Job) PauseForPreview() bool {
	if j.Status != JobPreviewing {
		return false
	}
	j.Status = JobPaused
	return true
}

// Fail transitions the job directly to FAILED with the given message. Used
// for error-count breaches, paginator failures, and internal failures -
// all unconditionally terminal regardless of IgnoreErrors (spec §7).
func (j *Job) Fail(message string) {
	j.Status = JobFailed
	j.Message = message
}

// Cancel transitions the job to CANCELED. Idempotent: a job already
// terminal is left unchanged by the caller (checked before invocation).
func (j *Job) Cancel() {
	j.Status = JobCanceled
}
