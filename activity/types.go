// Package activity implements Turnkey's asynchronous activity protocol.
//
// Every mutating Turnkey operation is an activity: the service either
// resolves it immediately, leaves it pending (possibly waiting on consensus),
// or moves it to a failed terminal state. The package provides:
//   - the request envelope codec (BuildRequest, ExtractResult)
//   - a bounded poller that turns a submission into one awaited result
//   - a decision helper for approve/reject operations
//   - a method table describing operation paths and kinds
//
// # Usage
//
// Submit a command and wait for its result:
//
//	poller := activity.NewPoller(client, activity.Config{NumRetries: 10})
//	req, err := activity.BuildRequest(orgID, "signRawPayload", params, time.Now())
//	if err != nil {
//		log.Fatal(err)
//	}
//	result, err := poller.Submit(ctx, "/public/v1/submit/sign_raw_payload", req, "signRawPayloadResult")
//
// Distinguish a rejected activity from an exhausted retry budget:
//
//	switch {
//	case errors.Is(err, activity.ErrActivityTerminal):
//		// rejected or failed
//	case errors.Is(err, activity.ErrActivityTimeout):
//		// still pending
//	}
package activity

import (
	"context"
	"encoding/json"
)

// Status is the service-defined state of an activity.
type Status string

const (
	StatusCreated         Status = "ACTIVITY_STATUS_CREATED"
	StatusPending         Status = "ACTIVITY_STATUS_PENDING"
	StatusCompleted       Status = "ACTIVITY_STATUS_COMPLETED"
	StatusFailed          Status = "ACTIVITY_STATUS_FAILED"
	StatusConsensusNeeded Status = "ACTIVITY_STATUS_CONSENSUS_NEEDED"
	StatusRejected        Status = "ACTIVITY_STATUS_REJECTED"
)

// Request is the envelope sent for every activity submission.
type Request struct {
	Type           string          `json:"type"`
	OrganizationID string          `json:"organizationId"`
	TimestampMs    string          `json:"timestampMs"`
	Parameters     json.RawMessage `json:"parameters"`
}

// Activity is one snapshot of an activity as returned by the service.
type Activity struct {
	ID             string                     `json:"id"`
	OrganizationID string                     `json:"organizationId"`
	Type           string                     `json:"type"`
	Status         Status                     `json:"status"`
	Fingerprint    string                     `json:"fingerprint,omitempty"`
	Intent         json.RawMessage            `json:"intent,omitempty"`
	Result         map[string]json.RawMessage `json:"result,omitempty"`
	Failure        *Failure                   `json:"failure,omitempty"`
	Votes          []json.RawMessage          `json:"votes,omitempty"`
}

// Failure describes why an activity failed.
type Failure struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is the envelope returned by submissions and get_activity.
type Response struct {
	Activity *Activity `json:"activity"`
}

// GetActivityRequest is the body of the get_activity query.
type GetActivityRequest struct {
	OrganizationID string `json:"organizationId"`
	ActivityID     string `json:"activityId"`
}

// Transport posts a JSON body to a path relative to the API base URL and
// decodes the JSON response into out.
type Transport interface {
	Post(ctx context.Context, path string, body any, out any) error
}

// StatusPolicy classifies statuses. Statuses in neither list are terminal
// failures.
type StatusPolicy struct {
	Pending []Status
	Success []Status
}

// DefaultStatusPolicy treats CREATED, PENDING and CONSENSUS_NEEDED as
// pending and COMPLETED as success.
func DefaultStatusPolicy() StatusPolicy {
	return StatusPolicy{
		Pending: []Status{StatusCreated, StatusPending, StatusConsensusNeeded},
		Success: []Status{StatusCompleted},
	}
}

// IsPending reports whether s keeps the poller waiting.
func (p StatusPolicy) IsPending(s Status) bool {
	return contains(p.Pending, s)
}

// IsSuccess reports whether s resolves with a result.
func (p StatusPolicy) IsSuccess(s Status) bool {
	return contains(p.Success, s)
}

func (p StatusPolicy) isZero() bool {
	return len(p.Pending) == 0 && len(p.Success) == 0
}

func contains(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
