package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultIntervalMs = 1000
	DefaultNumRetries = 3

	// DefaultGetActivityPath is the query used to refresh a pending activity.
	DefaultGetActivityPath = "/public/v1/query/get_activity"
)

// Config controls polling of pending activities.
type Config struct {
	// IntervalMs is the delay before each poll. Defaults to 1000.
	IntervalMs int

	// NumRetries is the maximum number of polls. Defaults to 3.
	NumRetries int

	// Backoff, when set, supplies the delay policy instead of a constant
	// IntervalMs. A policy returning backoff.Stop ends polling early with a
	// TimeoutError. An *backoff.ExponentialBackOff measures MaxElapsedTime
	// with Clock.
	Backoff func() backoff.BackOff

	// StatusPolicy classifies statuses. Defaults to DefaultStatusPolicy().
	StatusPolicy StatusPolicy

	GetActivityPath string
	Clock           clock.Clock
	Logger          *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.IntervalMs <= 0 {
		c.IntervalMs = DefaultIntervalMs
	}
	if c.NumRetries <= 0 {
		c.NumRetries = DefaultNumRetries
	}
	if c.StatusPolicy.isZero() {
		c.StatusPolicy = DefaultStatusPolicy()
	}
	if c.GetActivityPath == "" {
		c.GetActivityPath = DefaultGetActivityPath
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Poller submits activities and polls pending ones to a terminal status.
// A Poller holds no per-activity state and may be shared by goroutines.
type Poller struct {
	transport Transport
	cfg       Config
}

// NewPoller creates a poller over transport.
func NewPoller(transport Transport, cfg Config) *Poller {
	return &Poller{transport: transport, cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (p *Poller) Config() Config {
	return p.cfg
}

// Submit posts req to path and resolves the activity. If the first response
// is not pending it resolves without further calls. Otherwise it polls up to
// NumRetries times, waiting before each poll.
func (p *Poller) Submit(ctx context.Context, path string, req *Request, resultField string) (json.RawMessage, error) {
	var resp Response
	if err := p.transport.Post(ctx, path, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to submit %s: %w", req.Type, err)
	}

	result, pending, err := ExtractResult(&resp, resultField, p.cfg.StatusPolicy)
	if err != nil || !pending {
		return result, err
	}

	orgID := resp.Activity.OrganizationID
	if orgID == "" {
		orgID = req.OrganizationID
	}
	return p.poll(ctx, orgID, resp.Activity, resultField)
}

func (p *Poller) poll(ctx context.Context, organizationID string, act *Activity, resultField string) (json.RawMessage, error) {
	policy := p.newBackOff()
	last := act
	attempts := 0

	for attempts < p.cfg.NumRetries {
		interval := policy.NextBackOff()
		if interval == backoff.Stop {
			break
		}
		if err := p.wait(ctx, interval); err != nil {
			return nil, err
		}

		attempts++
		snapshot, err := p.GetActivity(ctx, organizationID, act.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll activity %s: %w", act.ID, err)
		}

		result, pending, err := ExtractResult(&Response{Activity: snapshot}, resultField, p.cfg.StatusPolicy)
		if err != nil || !pending {
			return result, err
		}

		last = snapshot
		p.cfg.Logger.Debug("activity still pending",
			zap.String("activity_id", act.ID),
			zap.String("status", string(snapshot.Status)),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", p.cfg.NumRetries),
		)
	}

	return nil, &TimeoutError{ActivityID: act.ID, Attempts: attempts, Activity: last}
}

// GetActivity fetches a fresh snapshot of an activity.
func (p *Poller) GetActivity(ctx context.Context, organizationID, activityID string) (*Activity, error) {
	var resp Response
	req := GetActivityRequest{OrganizationID: organizationID, ActivityID: activityID}
	if err := p.transport.Post(ctx, p.cfg.GetActivityPath, req, &resp); err != nil {
		return nil, err
	}
	if resp.Activity == nil {
		return nil, fmt.Errorf("%w: missing activity", ErrMalformedResponse)
	}
	return resp.Activity, nil
}

func (p *Poller) newBackOff() backoff.BackOff {
	if p.cfg.Backoff != nil {
		b := p.cfg.Backoff()
		if exp, ok := b.(*backoff.ExponentialBackOff); ok {
			exp.Clock = p.cfg.Clock
		}
		b.Reset()
		return b
	}
	return backoff.NewConstantBackOff(time.Duration(p.cfg.IntervalMs) * time.Millisecond)
}

func (p *Poller) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.cfg.Clock.After(d):
		return nil
	}
}
