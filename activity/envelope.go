package activity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// BuildRequest wraps parameters in an activity envelope for operationName.
func BuildRequest(organizationID, operationName string, parameters any, now time.Time) (*Request, error) {
	return buildRequest(organizationID, ActivityType(operationName), parameters, now)
}

// BuildRequest wraps parameters in an activity envelope for the method.
func (m Method) BuildRequest(organizationID string, parameters any, now time.Time) (*Request, error) {
	return buildRequest(organizationID, m.Type(), parameters, now)
}

func buildRequest(organizationID, activityType string, parameters any, now time.Time) (*Request, error) {
	var params json.RawMessage
	switch p := parameters.(type) {
	case nil:
		params = json.RawMessage("{}")
	case json.RawMessage:
		params = p
	default:
		raw, err := json.Marshal(parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s parameters: %w", activityType, err)
		}
		params = raw
	}

	return &Request{
		Type:           activityType,
		OrganizationID: organizationID,
		TimestampMs:    strconv.FormatInt(now.UnixMilli(), 10),
		Parameters:     params,
	}, nil
}

// ExtractResult classifies a response. A success status yields the raw
// result under resultField. A pending status yields pending=true. Any other
// status yields a *TerminalError carrying the activity.
func ExtractResult(resp *Response, resultField string, policy StatusPolicy) (result json.RawMessage, pending bool, err error) {
	if resp == nil || resp.Activity == nil {
		return nil, false, fmt.Errorf("%w: missing activity", ErrMalformedResponse)
	}

	act := resp.Activity
	switch {
	case policy.IsSuccess(act.Status):
		raw, ok := act.Result[resultField]
		if !ok {
			return nil, false, fmt.Errorf("%w: activity %s has no %s", ErrMalformedResponse, act.ID, resultField)
		}
		return raw, false, nil
	case policy.IsPending(act.Status):
		return nil, true, nil
	default:
		return nil, false, &TerminalError{Activity: act}
	}
}
