package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/anchorageoss/turnkey-sdk-go/activity"
	"github.com/anchorageoss/turnkey-sdk-go/stamper"
)

const (
	// Version is sent in the X-Client-Version header.
	Version = "turnkey-sdk-go@v0.1.0"

	ClientVersionHeader = "X-Client-Version"

	// DefaultBaseURL is the production API.
	DefaultBaseURL = "https://api.turnkey.com"

	defaultHTTPTimeout = 30 * time.Second
	defaultEnclaveType = "signer"
)

// HTTPClient interface for dependency injection
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	OrganizationID string
	Stamper        stamper.Stamper

	// HTTPClient defaults to an *http.Client with a 30s timeout.
	HTTPClient HTTPClient

	// ActivityPoller controls polling of pending activities.
	ActivityPoller activity.Config

	// Methods is merged over DefaultMethods().
	Methods activity.MethodTable

	Logger *zap.Logger
	Clock  clock.Clock
}

// Client implements the Turnkey API client
type Client struct {
	baseURL        string
	organizationID string
	stamper        stamper.Stamper
	httpClient     HTTPClient
	methods        activity.MethodTable
	poller         *activity.Poller
	log            *zap.Logger
	clock          clock.Clock
}

// NewClient creates a new Turnkey API client
func NewClient(cfg Config) (*Client, error) {
	if cfg.Stamper == nil {
		return nil, errors.New("stamper is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		organizationID: cfg.OrganizationID,
		stamper:        cfg.Stamper,
		httpClient:     cfg.HTTPClient,
		methods:        DefaultMethods().Merge(cfg.Methods),
		log:            cfg.Logger,
		clock:          cfg.Clock,
	}

	pollerCfg := cfg.ActivityPoller
	if pollerCfg.Clock == nil {
		pollerCfg.Clock = cfg.Clock
	}
	if pollerCfg.Logger == nil {
		pollerCfg.Logger = cfg.Logger
	}
	if pollerCfg.GetActivityPath == "" {
		if m, err := c.methods.Lookup("getActivity"); err == nil {
			pollerCfg.GetActivityPath = m.Path
		}
	}
	c.poller = activity.NewPoller(c, pollerCfg)

	return c, nil
}

// OrganizationID returns the organization requests default to.
func (c *Client) OrganizationID() string {
	return c.organizationID
}

// WithOrganizationID returns a copy of the client scoped to another
// organization, e.g. a sub-organization resolved by whoami.
func (c *Client) WithOrganizationID(organizationID string) *Client {
	cp := *c
	cp.organizationID = organizationID
	cp.poller = activity.NewPoller(&cp, c.poller.Config())
	return &cp
}

// PollerConfig returns the effective activity poller configuration.
func (c *Client) PollerConfig() activity.Config {
	return c.poller.Config()
}

// Methods returns the method table the client dispatches with.
func (c *Client) Methods() activity.MethodTable {
	return c.methods
}

// Post marshals body once, stamps those exact bytes, and POSTs them to path.
// Non-2xx responses are returned as *RequestError. When out is non-nil the
// response is decoded into it.
func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(ClientVersionHeader, Version)

	stamp, err := c.stamper.Stamp(reqJSON)
	if err != nil {
		return fmt.Errorf("failed to generate stamp: %w", err)
	}
	httpReq.Header.Set(stamp.HeaderName, stamp.HeaderValue)

	c.log.Debug("sending request", zap.String("path", path))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reqErr := NewRequestError(resp.StatusCode, bodyBytes)
		c.log.Debug("request failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", reqErr.Message),
		)
		return reqErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Query posts a read request for a query method.
func (c *Client) Query(ctx context.Context, name string, body any, out any) error {
	m, err := c.lookup(name, activity.KindQuery)
	if err != nil {
		return err
	}
	return c.Post(ctx, m.Path, body, out)
}

// Command submits an activity for a command method and waits for its result.
func (c *Client) Command(ctx context.Context, name string, parameters any) (json.RawMessage, error) {
	m, err := c.lookup(name, activity.KindCommand)
	if err != nil {
		return nil, err
	}

	req, err := m.BuildRequest(c.organizationID, parameters, c.clock.Now())
	if err != nil {
		return nil, err
	}
	return c.poller.Submit(ctx, m.Path, req, m.ResultField())
}

// Decide submits an approve or reject activity and returns its result
// without polling.
func (c *Client) Decide(ctx context.Context, name string, parameters any) (json.RawMessage, error) {
	m, err := c.lookup(name, activity.KindDecision)
	if err != nil {
		return nil, err
	}

	req, err := m.BuildRequest(c.organizationID, parameters, c.clock.Now())
	if err != nil {
		return nil, err
	}
	return activity.Decide(ctx, c, m.Path, req)
}

// Invoke dispatches a method by name with a JSON input. Query inputs are
// request bodies (organizationId defaults to the client's). Command and
// decision inputs are activity parameters.
func (c *Client) Invoke(ctx context.Context, name string, input json.RawMessage) (json.RawMessage, error) {
	m, err := c.methods.Lookup(name)
	if err != nil {
		return nil, err
	}
	if trimmed := bytes.TrimSpace(input); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		input = json.RawMessage("{}")
	}

	switch m.Kind {
	case activity.KindQuery:
		body := map[string]any{}
		if err := json.Unmarshal(input, &body); err != nil {
			return nil, fmt.Errorf("failed to decode %s input: %w", name, err)
		}
		if _, ok := body["organizationId"]; !ok {
			body["organizationId"] = c.organizationID
		}
		var out json.RawMessage
		if err := c.Post(ctx, m.Path, body, &out); err != nil {
			return nil, err
		}
		return out, nil
	case activity.KindCommand:
		return c.Command(ctx, name, input)
	case activity.KindDecision:
		return c.Decide(ctx, name, input)
	default:
		return nil, fmt.Errorf("method %s of kind %s cannot be invoked", name, m.Kind)
	}
}

func (c *Client) lookup(name string, kind activity.Kind) (activity.Method, error) {
	m, err := c.methods.Lookup(name)
	if err != nil {
		return activity.Method{}, err
	}
	if m.Kind != kind {
		return activity.Method{}, fmt.Errorf("method %s is a %s, not a %s", name, m.Kind, kind)
	}
	return m, nil
}

func (c *Client) org(organizationID string) string {
	if organizationID == "" {
		return c.organizationID
	}
	return organizationID
}

// GetWhoami returns the identity behind the client's stamper.
func (c *Client) GetWhoami(ctx context.Context, organizationID string) (*WhoamiResponse, error) {
	var out WhoamiResponse
	if err := c.Query(ctx, "getWhoami", OrganizationRequest{OrganizationID: c.org(organizationID)}, &out); err != nil {
		return nil, fmt.Errorf("failed to get whoami: %w", err)
	}
	return &out, nil
}

// GetWallets lists the wallets of an organization.
func (c *Client) GetWallets(ctx context.Context, organizationID string) (*GetWalletsResponse, error) {
	var out GetWalletsResponse
	if err := c.Query(ctx, "getWallets", OrganizationRequest{OrganizationID: c.org(organizationID)}, &out); err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return &out, nil
}

// GetWalletAccounts lists the accounts of one wallet.
func (c *Client) GetWalletAccounts(ctx context.Context, organizationID, walletID string) (*GetWalletAccountsResponse, error) {
	var out GetWalletAccountsResponse
	req := GetWalletAccountsRequest{OrganizationID: c.org(organizationID), WalletID: walletID}
	if err := c.Query(ctx, "getWalletAccounts", req, &out); err != nil {
		return nil, fmt.Errorf("failed to list accounts of wallet %s: %w", walletID, err)
	}
	return &out, nil
}

// GetUser returns one user of an organization.
func (c *Client) GetUser(ctx context.Context, organizationID, userID string) (*GetUserResponse, error) {
	var out GetUserResponse
	req := GetUserRequest{OrganizationID: c.org(organizationID), UserID: userID}
	if err := c.Query(ctx, "getUser", req, &out); err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return &out, nil
}

// GetActivity fetches a fresh snapshot of an activity.
func (c *Client) GetActivity(ctx context.Context, activityID string) (*activity.Activity, error) {
	act, err := c.poller.GetActivity(ctx, c.organizationID, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity %s: %w", activityID, err)
	}
	return act, nil
}

// GetBootAttestation retrieves boot attestation for a specific public key and enclave type
func (c *Client) GetBootAttestation(ctx context.Context, publicKey, enclaveType string) (string, error) {
	if enclaveType == "" {
		enclaveType = defaultEnclaveType
	}

	req := AttestationQueryRequest{
		OrganizationID: c.organizationID,
		EnclaveType:    enclaveType,
		PublicKey:      publicKey,
	}

	var out AttestationQueryResponse
	if err := c.Query(ctx, "getAttestation", req, &out); err != nil {
		return "", fmt.Errorf("failed to get attestation: %w", err)
	}
	return out.AttestationDocument, nil
}

// SignRawPayload signs a payload with a private key or wallet account.
func (c *Client) SignRawPayload(ctx context.Context, params SignRawPayloadParams) (*SignRawPayloadResult, error) {
	raw, err := c.Command(ctx, "signRawPayload", params)
	if err != nil {
		return nil, err
	}

	var out SignRawPayloadResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode sign result: %w", err)
	}
	return &out, nil
}

// CreateWallet creates a wallet with the given accounts.
func (c *Client) CreateWallet(ctx context.Context, params CreateWalletParams) (*CreateWalletResult, error) {
	raw, err := c.Command(ctx, "createWallet", params)
	if err != nil {
		return nil, err
	}

	var out CreateWalletResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode wallet result: %w", err)
	}
	return &out, nil
}

// ApproveActivity votes to approve the activity with the given fingerprint.
func (c *Client) ApproveActivity(ctx context.Context, fingerprint string) (json.RawMessage, error) {
	return c.Decide(ctx, "approveActivity", DecisionParams{Fingerprint: fingerprint})
}

// RejectActivity votes to reject the activity with the given fingerprint.
func (c *Client) RejectActivity(ctx context.Context, fingerprint string) (json.RawMessage, error) {
	return c.Decide(ctx, "rejectActivity", DecisionParams{Fingerprint: fingerprint})
}
