package activity

import (
	"context"
	"encoding/json"
	"fmt"
)

// Decide posts an approve or reject request and returns the activity result
// as sent by the service. Decisions are never polled.
func Decide(ctx context.Context, transport Transport, path string, req *Request) (json.RawMessage, error) {
	var resp Response
	if err := transport.Post(ctx, path, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to submit %s: %w", req.Type, err)
	}
	if resp.Activity == nil {
		return nil, fmt.Errorf("%w: missing activity", ErrMalformedResponse)
	}

	raw, err := json.Marshal(resp.Activity.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decision result: %w", err)
	}
	return raw, nil
}
