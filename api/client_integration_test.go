package api_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/anchorageoss/turnkey-sdk-go/activity"
	"github.com/anchorageoss/turnkey-sdk-go/api"
	"github.com/anchorageoss/turnkey-sdk-go/crypto"
	"github.com/anchorageoss/turnkey-sdk-go/stamper"
	"github.com/anchorageoss/turnkey-sdk-go/turnkeytest"
)

const (
	testOrg          = "org-123"
	signRawPayloadV2 = "ACTIVITY_TYPE_SIGN_RAW_PAYLOAD_V2"
)

// instantClock fires After immediately and advances the mock by d.
type instantClock struct {
	*clock.Mock
	mu    sync.Mutex
	waits []time.Duration
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	c.Mock.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.Mock.Now()
	return ch
}

func setup(t *testing.T) (*turnkeytest.Server, *api.Client, *instantClock) {
	t.Helper()
	server := turnkeytest.NewServer(t, testOrg)
	server.AddUser(turnkeytest.User{ID: "user-1", Name: "alice", Email: "alice@example.com"})

	key, err := crypto.GenerateP256Key()
	require.NoError(t, err)
	st, err := stamper.NewAPIKeyStamper(&stamper.APIKey{PrivateKey: key})
	require.NoError(t, err)
	server.RegisterAPIKey(st.PublicKey(), "user-1")

	clk := &instantClock{Mock: clock.NewMock()}
	client, err := api.NewClient(api.Config{
		BaseURL:        server.URL,
		OrganizationID: testOrg,
		Stamper:        st,
		HTTPClient:     server.Client(),
		Logger:         zaptest.NewLogger(t),
		Clock:          clk,
	})
	require.NoError(t, err)
	return server, client, clk
}

func TestSignRawPayloadPendingThenCompleted(t *testing.T) {
	server, client, clk := setup(t)
	server.ScriptStatuses(activity.StatusPending, activity.StatusPending, activity.StatusCompleted)
	require.NoError(t, server.SetResult(signRawPayloadV2, "signRawPayloadResult", api.SignRawPayloadResult{R: "0a", S: "0b", V: "01"}))

	start := clk.Now()
	result, err := client.SignRawPayload(context.Background(), api.SignRawPayloadParams{
		SignWith:     "0xabc",
		Payload:      "hello",
		Encoding:     "PAYLOAD_ENCODING_TEXT_UTF8",
		HashFunction: "HASH_FUNCTION_SHA256",
	})
	require.NoError(t, err)
	assert.Equal(t, &api.SignRawPayloadResult{R: "0a", S: "0b", V: "01"}, result)

	assert.Equal(t, 1, server.Calls("/public/v1/submit/sign_raw_payload"))
	assert.Equal(t, 2, server.Calls("/public/v1/query/get_activity"))
	assert.GreaterOrEqual(t, clk.Now().Sub(start), 2*time.Second)
}

func TestCommandTimeoutAgainstServer(t *testing.T) {
	server, client, _ := setup(t)
	server.ScriptStatuses(activity.StatusConsensusNeeded)

	_, err := client.CreateWallet(context.Background(), api.CreateWalletParams{WalletName: "main"})
	require.ErrorIs(t, err, activity.ErrActivityTimeout)
	assert.Equal(t, activity.DefaultNumRetries, server.Calls("/public/v1/query/get_activity"))
}

func TestCommandRejected(t *testing.T) {
	server, client, _ := setup(t)
	server.ScriptStatuses(activity.StatusPending, activity.StatusRejected)

	_, err := client.CreateWallet(context.Background(), api.CreateWalletParams{WalletName: "main"})
	require.ErrorIs(t, err, activity.ErrActivityTerminal)

	var terminal *activity.TerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, "ACTIVITY_TYPE_CREATE_WALLET", terminal.Activity.Type)
	assert.NotEmpty(t, terminal.Activity.Fingerprint)
}

func TestApproveActivityDoesNotPoll(t *testing.T) {
	server, client, _ := setup(t)
	server.ScriptStatuses(activity.StatusConsensusNeeded)

	_, err := client.ApproveActivity(context.Background(), "fingerprint-1")
	require.NoError(t, err)
	assert.Equal(t, 1, server.Calls("/public/v1/submit/approve_activity"))
	assert.Equal(t, 0, server.Calls("/public/v1/query/get_activity"))

	_, err = client.RejectActivity(context.Background(), "fingerprint-1")
	require.NoError(t, err)
	assert.Equal(t, 1, server.Calls("/public/v1/submit/reject_activity"))
}

func TestQueriesAgainstServer(t *testing.T) {
	server, client, _ := setup(t)
	server.AddWallet(turnkeytest.Wallet{
		ID:   "wallet-1",
		Name: "Default",
		Accounts: []api.WalletAccount{{
			WalletAccountID: "acct-1",
			WalletID:        "wallet-1",
			Curve:           "CURVE_SECP256K1",
			AddressFormat:   "ADDRESS_FORMAT_ETHEREUM",
			Address:         "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
		}},
	})

	ctx := context.Background()
	whoami, err := client.GetWhoami(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "user-1", whoami.UserID)
	assert.Equal(t, testOrg, whoami.OrganizationID)

	wallets, err := client.GetWallets(ctx, "")
	require.NoError(t, err)
	require.Len(t, wallets.Wallets, 1)

	accounts, err := client.GetWalletAccounts(ctx, "", "wallet-1")
	require.NoError(t, err)
	require.Len(t, accounts.Accounts, 1)
	assert.Equal(t, "CURVE_SECP256K1", accounts.Accounts[0].Curve)

	user, err := client.GetUser(ctx, "", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.User.UserEmail)

	_, err = client.GetUser(ctx, "", "missing")
	var reqErr *api.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
	assert.Equal(t, "user not found", reqErr.Message)
}

func TestUnknownKeyRejected(t *testing.T) {
	server := turnkeytest.NewServer(t, testOrg)
	key, err := crypto.GenerateP256Key()
	require.NoError(t, err)
	st, err := stamper.NewAPIKeyStamper(&stamper.APIKey{PrivateKey: key})
	require.NoError(t, err)

	client, err := api.NewClient(api.Config{BaseURL: server.URL, OrganizationID: testOrg, Stamper: st})
	require.NoError(t, err)

	_, err = client.GetWhoami(context.Background(), "")
	var reqErr *api.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
}

func TestWithOrganizationID(t *testing.T) {
	server, client, _ := setup(t)

	sub := client.WithOrganizationID("sub-org")
	assert.Equal(t, "sub-org", sub.OrganizationID())
	assert.Equal(t, testOrg, client.OrganizationID())

	_, err := sub.CreateWallet(context.Background(), api.CreateWalletParams{WalletName: "w"})
	require.NoError(t, err)
	assert.Equal(t, 1, server.Calls("/public/v1/submit/create_wallet"))
}
