package domain

import "time"

// UpdateKind discriminates the tagged Update variant below. This replaces
// the loosely-typed update payload the worker wire protocol would
// otherwise pass straight through to the state machine (spec §9, design
// note "dynamic typing of update payloads").
type UpdateKind int

const (
	UpdateSuccess UpdateKind = iota
	UpdateFailure
	UpdateCancel
)

// Update is the tagged variant `Success{results,sizes,duration} |
// Failure{message} | Cancel` from spec §9. Only the fields relevant to
// Kind are populated; callers must switch on Kind rather than inspect
// fields directly.
type Update struct {
	Kind UpdateKind

	// Success fields.
	Results         []string // output catalog URLs
	OutputItemSizes []int64
	TotalItemsSize  int64
	Duration        time.Duration

	// Hits/ScrollToken belong to the Success variant of paginator items
	// only (spec §9).
	Hits        *int
	ScrollToken string

	// Failure fields.
	Message string
}

// NewSuccessUpdate builds a Success-variant Update.
func NewSuccessUpdate(results []string, sizes []int64, totalSize int64, duration time.Duration) Update {
	return Update{
		Kind:            UpdateSuccess,
		Results:         results,
		OutputItemSizes: sizes,
		TotalItemsSize:  totalSize,
		Duration:        duration,
	}
}

// WithPaginatorFields attaches the paginator-only hits/scrollToken fields
// to a Success-variant Update.
func (u Update) WithPaginatorFields(hits int, scrollToken string) Update {
	u.Hits = &hits
	u.ScrollToken = scrollToken
	return u
}

// NewFailureUpdate builds a Failure-variant Update.
func NewFailureUpdate(message string) Update {
	return Update{Kind: UpdateFailure, Message: message}
}

// NewCancelUpdate builds a Cancel-variant Update.
func NewCancelUpdate() Update {
	return Update{Kind: UpdateCancel}
}

// RoutesToLargeQueue reports whether this update should be delivered via
// the large-update queue rather than the small one, per spec §6:
// "results.length > 1 routes to the large-update queue".
func (u Update) RoutesToLargeQueue() bool {
	return len(u.Results) > 1
}
