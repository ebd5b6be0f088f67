package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rezkam/mono/internal/domain"
)

// Envelope is the wire body of an update message, matching the
// updateWorkItem request shape of spec §6:
// { status, hits?, results[]?, scrollID?, errorMessage?, duration?,
// totalItemsSize?, outputItemSizes[]? }, plus the item identity the HTTP
// layer would otherwise carry in the URL path.
type Envelope struct {
	WorkItemID      string   `json:"workItemId"`
	Status          string   `json:"status"`
	Hits            *int     `json:"hits,omitempty"`
	Results         []string `json:"results,omitempty"`
	ScrollID        string   `json:"scrollID,omitempty"`
	ErrorMessage    string   `json:"errorMessage,omitempty"`
	DurationMillis  int64    `json:"durationMs,omitempty"`
	TotalItemsSize  int64    `json:"totalItemsSize,omitempty"`
	OutputItemSizes []int64  `json:"outputItemSizes,omitempty"`
}

// EncodeSuccess builds the wire body for a successful update.
func EncodeSuccess(workItemID string, results []string, sizes []int64, totalSize int64, duration time.Duration, hits *int, scrollID string) ([]byte, error) {
	env := Envelope{
		WorkItemID:      workItemID,
		Status:          "SUCCESSFUL",
		Results:         results,
		OutputItemSizes: sizes,
		TotalItemsSize:  totalSize,
		DurationMillis:  duration.Milliseconds(),
		Hits:            hits,
		ScrollID:        scrollID,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode success update for %s: %w", workItemID, err)
	}
	return data, nil
}

// EncodeFailure builds the wire body for a failed update.
func EncodeFailure(workItemID, message string) ([]byte, error) {
	env := Envelope{WorkItemID: workItemID, Status: "FAILED", ErrorMessage: message}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode failure update for %s: %w", workItemID, err)
	}
	return data, nil
}

// EncodeCancel builds the wire body for a cancel update.
func EncodeCancel(workItemID string) ([]byte, error) {
	env := Envelope{WorkItemID: workItemID, Status: "CANCELED"}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cancel update for %s: %w", workItemID, err)
	}
	return data, nil
}

// Decode parses a queue message body into an Envelope.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode update envelope: %w", err)
	}
	return env, nil
}

// toUpdate converts the wire envelope into the tagged domain.Update variant
// (spec §9's "dynamic typing of update payloads" redesign).
func (e Envelope) toUpdate() domain.Update {
	switch e.Status {
	case "FAILED":
		return domain.NewFailureUpdate(e.ErrorMessage)
	case "CANCELED":
		return domain.NewCancelUpdate()
	default:
		u := domain.NewSuccessUpdate(e.Results, e.OutputItemSizes, e.TotalItemsSize, time.Duration(e.DurationMillis)*time.Millisecond)
		if e.Hits != nil {
			u = u.WithPaginatorFields(*e.Hits, e.ScrollID)
		}
		return u
	}
}
