package activity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type postCall struct {
	Path string
	Body json.RawMessage
}

// scriptedTransport replays canned responses in order. An error entry is
// returned instead of a response.
type scriptedTransport struct {
	mu        sync.Mutex
	responses []any
	calls     []postCall
}

func (s *scriptedTransport) Post(_ context.Context, path string, body any, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	s.calls = append(s.calls, postCall{Path: path, Body: raw})

	if len(s.responses) == 0 {
		return errors.New("unexpected request")
	}
	next := s.responses[0]
	s.responses = s.responses[1:]

	if err, ok := next.(error); ok {
		return err
	}
	encoded, err := json.Marshal(next)
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, out)
}

func (s *scriptedTransport) paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c.Path)
	}
	return out
}

// stepClock advances the mock clock by the requested duration on every
// After call and fires immediately.
type stepClock struct {
	*clock.Mock
	mu    sync.Mutex
	waits []time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{Mock: clock.NewMock()}
}

func (c *stepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()

	c.Mock.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.Mock.Now()
	return ch
}

func activityResponse(id string, status Status, result map[string]any) *Response {
	act := &Activity{ID: id, OrganizationID: "org-1", Type: ActivityType("signRawPayload"), Status: status}
	if result != nil {
		act.Result = map[string]json.RawMessage{}
		for k, v := range result {
			raw, _ := json.Marshal(v)
			act.Result[k] = raw
		}
	}
	return &Response{Activity: act}
}

const (
	submitPath = "/public/v1/submit/sign_raw_payload"
	field      = "signRawPayloadResult"
)

func signRequest(t *testing.T) *Request {
	t.Helper()
	req, err := BuildRequest("org-1", "signRawPayload", map[string]string{"signWith": "0xabc"}, time.UnixMilli(1700000000000))
	require.NoError(t, err)
	return req
}

func TestPollerScenarioPendingThenCompleted(t *testing.T) {
	signature := map[string]string{"r": "aa", "s": "bb", "v": "00"}
	transport := &scriptedTransport{responses: []any{
		activityResponse("act-1", StatusPending, nil),
		activityResponse("act-1", StatusPending, nil),
		activityResponse("act-1", StatusCompleted, map[string]any{field: signature}),
	}}
	clk := newStepClock()
	start := clk.Now()

	poller := NewPoller(transport, Config{
		IntervalMs: 1000,
		NumRetries: 3,
		Clock:      clk,
		Logger:     zaptest.NewLogger(t),
	})

	result, err := poller.Submit(context.Background(), submitPath, signRequest(t), field)
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(result, &got))
	assert.Equal(t, signature, got)

	assert.Equal(t, []string{submitPath, DefaultGetActivityPath, DefaultGetActivityPath}, transport.paths())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clk.waits)
	assert.GreaterOrEqual(t, clk.Now().Sub(start), 2000*time.Millisecond)

	var pollBody GetActivityRequest
	require.NoError(t, json.Unmarshal(transport.calls[1].Body, &pollBody))
	assert.Equal(t, GetActivityRequest{OrganizationID: "org-1", ActivityID: "act-1"}, pollBody)
}

func TestPollerResolvesImmediately(t *testing.T) {
	tests := []struct {
		name    string
		status  Status
		wantErr error
	}{
		{"completed", StatusCompleted, nil},
		{"failed", StatusFailed, ErrActivityTerminal},
		{"rejected", StatusRejected, ErrActivityTerminal},
		{"unknown status", Status("ACTIVITY_STATUS_SOMETHING_NEW"), ErrActivityTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &scriptedTransport{responses: []any{
				activityResponse("act-1", tt.status, map[string]any{field: map[string]string{"r": "1"}}),
			}}
			clk := newStepClock()
			poller := NewPoller(transport, Config{Clock: clk})

			_, err := poller.Submit(context.Background(), submitPath, signRequest(t), field)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.NotErrorIs(t, err, ErrActivityTimeout)

				var terminal *TerminalError
				require.ErrorAs(t, err, &terminal)
				assert.Equal(t, tt.status, terminal.Activity.Status)
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, transport.calls, 1)
			assert.Empty(t, clk.waits)
		})
	}
}

func TestPollerPollCount(t *testing.T) {
	for k := 0; k < DefaultNumRetries; k++ {
		responses := []any{activityResponse("act-1", StatusPending, nil)}
		for i := 0; i < k; i++ {
			responses = append(responses, activityResponse("act-1", StatusConsensusNeeded, nil))
		}
		responses = append(responses, activityResponse("act-1", StatusCompleted, map[string]any{field: "ok"}))

		transport := &scriptedTransport{responses: responses}
		poller := NewPoller(transport, Config{Clock: newStepClock()})

		result, err := poller.Submit(context.Background(), submitPath, signRequest(t), field)
		require.NoError(t, err, "k=%d", k)
		assert.JSONEq(t, `"ok"`, string(result))
		assert.Len(t, transport.calls, 1+k+1, "k=%d", k)
	}
}

func TestPollerTimeout(t *testing.T) {
	responses := []any{activityResponse("act-1", StatusPending, nil)}
	for i := 0; i < 5; i++ {
		responses = append(responses, activityResponse("act-1", StatusPending, nil))
	}
	transport := &scriptedTransport{responses: responses}
	clk := newStepClock()
	poller := NewPoller(transport, Config{IntervalMs: 250, NumRetries: 3, Clock: clk})

	_, err := poller.Submit(context.Background(), submitPath, signRequest(t), field)
	require.ErrorIs(t, err, ErrActivityTimeout)
	assert.NotErrorIs(t, err, ErrActivityTerminal)

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "act-1", timeout.ActivityID)
	assert.Equal(t, 3, timeout.Attempts)
	assert.Equal(t, StatusPending, timeout.Activity.Status)
	assert.EqualError(t, err, "activity act-1 still pending after 3 attempts")

	assert.Len(t, transport.calls, 4)
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond}, clk.waits)
}

func TestPollerTerminalDuringPolling(t *testing.T) {
	failed := activityResponse("act-1", StatusFailed, nil)
	failed.Activity.Failure = &Failure{Code: 9, Message: "policy denied"}
	transport := &scriptedTransport{responses: []any{
		activityResponse("act-1", StatusPending, nil),
		failed,
	}}
	poller := NewPoller(transport, Config{Clock: newStepClock()})

	_, err := poller.Submit(context.Background(), submitPath, signRequest(t), field)
	require.ErrorIs(t, err, ErrActivityTerminal)
	assert.Contains(t, err.Error(), "policy denied")
	assert.Len(t, transport.calls, 2)
}

func TestPollerTransportErrors(t *testing.T) {
	t.Run("submit fails", func(t *testing.T) {
		transport := &scriptedTransport{responses: []any{errors.New("connection refused")}}
		poller := NewPoller(transport, Config{Clock: newStepClock()})

		_, err := poller.Submit(context.Background(), submitPath, signRequest(t), field)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("poll fails", func(t *testing.T) {
		transport := &scriptedTransport{responses: []any{
			activityResponse("act-1", StatusPending, nil),
			errors.New("boom"),
		}}
		poller := NewPoller(transport, Config{Clock: newStepClock()})

		_, err := poller.Submit(context.Background(), submitPath, signRequest(t), field)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to poll activity act-1")
		assert.Len(t, transport.calls, 2)
	})

	t.Run("missing activity", func(t *testing.T) {
		transport := &scriptedTransport{responses: []any{&Response{}}}
		poller := NewPoller(transport, Config{Clock: newStepClock()})

		_, err := poller.Submit(context.Background(), submitPath, signRequest(t), field)
		require.ErrorIs(t, err, ErrMalformedResponse)
	})
}

func TestPollerContextCancelled(t *testing.T) {
	transport := &scriptedTransport{responses: []any{activityResponse("act-1", StatusPending, nil)}}
	poller := NewPoller(transport, Config{Clock: clock.NewMock()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := poller.Submit(ctx, submitPath, signRequest(t), field)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, transport.calls, 1)
}

func TestPollerBackoffPolicy(t *testing.T) {
	t.Run("exponential", func(t *testing.T) {
		transport := &scriptedTransport{responses: []any{
			activityResponse("act-1", StatusPending, nil),
			activityResponse("act-1", StatusPending, nil),
			activityResponse("act-1", StatusPending, nil),
			activityResponse("act-1", StatusCompleted, map[string]any{field: "done"}),
		}}
		clk := newStepClock()
		poller := NewPoller(transport, Config{
			NumRetries: 5,
			Clock:      clk,
			Backoff: func() backoff.BackOff {
				return backoff.NewExponentialBackOff(
					backoff.WithInitialInterval(100*time.Millisecond),
					backoff.WithRandomizationFactor(0),
					backoff.WithMultiplier(2),
				)
			},
		})

		_, err := poller.Submit(context.Background(), submitPath, signRequest(t), field)
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, clk.waits)
	})

	t.Run("max elapsed time follows the injected clock", func(t *testing.T) {
		transport := &scriptedTransport{responses: []any{
			activityResponse("act-1", StatusPending, nil),
			activityResponse("act-1", StatusPending, nil),
			activityResponse("act-1", StatusPending, nil),
		}}
		clk := newStepClock()
		poller := NewPoller(transport, Config{
			NumRetries: 10,
			Clock:      clk,
			Backoff: func() backoff.BackOff {
				return backoff.NewExponentialBackOff(
					backoff.WithInitialInterval(400*time.Millisecond),
					backoff.WithRandomizationFactor(0),
					backoff.WithMultiplier(1),
					backoff.WithMaxElapsedTime(time.Second),
				)
			},
		})

		_, err := poller.Submit(context.Background(), submitPath, signRequest(t), field)
		var timeout *TimeoutError
		require.ErrorAs(t, err, &timeout)
		assert.Equal(t, 2, timeout.Attempts)
		assert.Equal(t, []time.Duration{400 * time.Millisecond, 400 * time.Millisecond}, clk.waits)
		assert.Len(t, transport.calls, 3)
	})

	t.Run("stop ends polling", func(t *testing.T) {
		transport := &scriptedTransport{responses: []any{activityResponse("act-1", StatusPending, nil)}}
		poller := NewPoller(transport, Config{
			Clock:   newStepClock(),
			Backoff: func() backoff.BackOff { return &backoff.StopBackOff{} },
		})

		_, err := poller.Submit(context.Background(), submitPath, signRequest(t), field)
		var timeout *TimeoutError
		require.ErrorAs(t, err, &timeout)
		assert.Equal(t, 0, timeout.Attempts)
		assert.Len(t, transport.calls, 1)
	})
}

func TestPollerCustomStatusPolicy(t *testing.T) {
	// CONSENSUS_NEEDED treated as terminal instead of pending.
	transport := &scriptedTransport{responses: []any{activityResponse("act-1", StatusConsensusNeeded, nil)}}
	poller := NewPoller(transport, Config{
		Clock: newStepClock(),
		StatusPolicy: StatusPolicy{
			Pending: []Status{StatusCreated, StatusPending},
			Success: []Status{StatusCompleted},
		},
	})

	_, err := poller.Submit(context.Background(), submitPath, signRequest(t), field)
	require.ErrorIs(t, err, ErrActivityTerminal)
	assert.Len(t, transport.calls, 1)
}

func TestPollerConcurrentActivities(t *testing.T) {
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	req := signRequest(t)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			transport := &scriptedTransport{responses: []any{
				activityResponse("act", StatusPending, nil),
				activityResponse("act", StatusCompleted, map[string]any{field: i}),
			}}
			poller := NewPoller(transport, Config{Clock: newStepClock()})
			_, errs[i] = poller.Submit(context.Background(), submitPath, req, field)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestNewPollerDefaults(t *testing.T) {
	poller := NewPoller(&scriptedTransport{}, Config{})
	cfg := poller.Config()

	assert.Equal(t, DefaultIntervalMs, cfg.IntervalMs)
	assert.Equal(t, DefaultNumRetries, cfg.NumRetries)
	assert.Equal(t, DefaultStatusPolicy(), cfg.StatusPolicy)
	assert.Equal(t, DefaultGetActivityPath, cfg.GetActivityPath)
	assert.NotNil(t, cfg.Clock)
	assert.NotNil(t, cfg.Logger)
}

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Post(ctx context.Context, path string, body any, out any) error {
	args := m.Called(ctx, path, body, out)
	return args.Error(0)
}

func TestDecide(t *testing.T) {
	req, err := BuildRequest("org-1", "approveActivity", map[string]string{"fingerprint": "fp"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "ACTIVITY_TYPE_APPROVE_ACTIVITY", req.Type)

	t.Run("returns result without polling", func(t *testing.T) {
		transport := &mockTransport{}
		transport.On("Post", mock.Anything, "/public/v1/submit/approve_activity", req, mock.Anything).
			Run(func(args mock.Arguments) {
				out := args.Get(3).(*Response)
				out.Activity = &Activity{
					ID:     "act-2",
					Status: StatusConsensusNeeded,
					Result: map[string]json.RawMessage{"approveActivityResult": json.RawMessage(`{}`)},
				}
			}).
			Return(nil).Once()

		result, err := Decide(context.Background(), transport, "/public/v1/submit/approve_activity", req)
		require.NoError(t, err)
		assert.JSONEq(t, `{"approveActivityResult":{}}`, string(result))
		transport.AssertExpectations(t)
	})

	t.Run("transport error", func(t *testing.T) {
		transport := &mockTransport{}
		transport.On("Post", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("400 Bad Request")).Once()

		_, err := Decide(context.Background(), transport, "/x", req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "400 Bad Request")
	})

	t.Run("malformed response", func(t *testing.T) {
		transport := &mockTransport{}
		transport.On("Post", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

		_, err := Decide(context.Background(), transport, "/x", req)
		require.ErrorIs(t, err, ErrMalformedResponse)
	})
}
