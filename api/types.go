// Package api provides a client for the Turnkey public API.
//
// The client handles:
//   - stamping every request body through an injected stamper.Stamper
//   - transport errors as *RequestError with the parsed status body
//   - queries, activity commands (submitted and polled), and decisions
//   - a method table mapping operation names to paths and kinds
//
// # Usage
//
// Create a client with an API key stamper:
//
//	st, err := stamper.NewAPIKeyStamperFromHex(publicKey, privateKey)
//	if err != nil {
//		log.Fatal(err)
//	}
//	client, err := api.NewClient(api.Config{
//		BaseURL:        "https://api.turnkey.com",
//		OrganizationID: orgID,
//		Stamper:        st,
//	})
//
// Query the authenticated identity:
//
//	whoami, err := client.GetWhoami(ctx, orgID)
//
// Submit a command and wait for its result, with a slower consensus budget:
//
//	client, err := api.NewClient(api.Config{
//		...
//		ActivityPoller: activity.Config{IntervalMs: 5000, NumRetries: 10},
//	})
//	result, err := client.SignRawPayload(ctx, api.SignRawPayloadParams{...})
package api

// Timestamp is the service's seconds/nanos timestamp object.
type Timestamp struct {
	Seconds string `json:"seconds"`
	Nanos   string `json:"nanos"`
}

// OrganizationRequest is the body of organization-scoped queries.
type OrganizationRequest struct {
	OrganizationID string `json:"organizationId"`
}

// WhoamiResponse identifies the user behind a stamp.
type WhoamiResponse struct {
	OrganizationID   string `json:"organizationId"`
	OrganizationName string `json:"organizationName"`
	UserID           string `json:"userId"`
	Username         string `json:"username"`
}

// Wallet is a hierarchical deterministic wallet.
type Wallet struct {
	WalletID   string     `json:"walletId"`
	WalletName string     `json:"walletName"`
	CreatedAt  *Timestamp `json:"createdAt,omitempty"`
	UpdatedAt  *Timestamp `json:"updatedAt,omitempty"`
	Exported   bool       `json:"exported"`
	Imported   bool       `json:"imported"`
}

// GetWalletsResponse lists wallets of an organization.
type GetWalletsResponse struct {
	Wallets []Wallet `json:"wallets"`
}

// GetWalletAccountsRequest is the body of list_wallet_accounts.
type GetWalletAccountsRequest struct {
	OrganizationID string `json:"organizationId"`
	WalletID       string `json:"walletId"`
}

// WalletAccount is one derived address of a wallet.
type WalletAccount struct {
	WalletAccountID string     `json:"walletAccountId"`
	OrganizationID  string     `json:"organizationId"`
	WalletID        string     `json:"walletId"`
	Curve           string     `json:"curve"`
	PathFormat      string     `json:"pathFormat"`
	Path            string     `json:"path"`
	AddressFormat   string     `json:"addressFormat"`
	Address         string     `json:"address"`
	CreatedAt       *Timestamp `json:"createdAt,omitempty"`
	UpdatedAt       *Timestamp `json:"updatedAt,omitempty"`
}

// GetWalletAccountsResponse lists accounts of one wallet.
type GetWalletAccountsResponse struct {
	Accounts []WalletAccount `json:"accounts"`
}

// GetUserRequest is the body of get_user.
type GetUserRequest struct {
	OrganizationID string `json:"organizationId"`
	UserID         string `json:"userId"`
}

// User is a user record of an organization.
type User struct {
	UserID          string `json:"userId"`
	UserName        string `json:"userName"`
	UserEmail       string `json:"userEmail,omitempty"`
	UserPhoneNumber string `json:"userPhoneNumber,omitempty"`
}

// GetUserResponse wraps a user record.
type GetUserResponse struct {
	User User `json:"user"`
}

// AttestationQueryRequest represents the request to get attestation document
type AttestationQueryRequest struct {
	OrganizationID string `json:"organizationId"`
	EnclaveType    string `json:"enclaveType"`
	PublicKey      string `json:"publicKey"`
}

// AttestationQueryResponse represents the response from the attestation query
type AttestationQueryResponse struct {
	AttestationDocument string `json:"attestationDocument"`
}

// SignRawPayloadParams are the parameters of signRawPayload.
type SignRawPayloadParams struct {
	SignWith     string `json:"signWith"`
	Payload      string `json:"payload"`
	Encoding     string `json:"encoding"`
	HashFunction string `json:"hashFunction"`
}

// SignRawPayloadResult is the signature produced by signRawPayload.
type SignRawPayloadResult struct {
	R string `json:"r"`
	S string `json:"s"`
	V string `json:"v"`
}

// WalletAccountParams describes one account to derive.
type WalletAccountParams struct {
	Curve         string `json:"curve"`
	PathFormat    string `json:"pathFormat"`
	Path          string `json:"path"`
	AddressFormat string `json:"addressFormat"`
}

// CreateWalletParams are the parameters of createWallet.
type CreateWalletParams struct {
	WalletName     string                `json:"walletName"`
	Accounts       []WalletAccountParams `json:"accounts"`
	MnemonicLength int                   `json:"mnemonicLength,omitempty"`
}

// CreateWalletResult is the wallet created by createWallet.
type CreateWalletResult struct {
	WalletID  string   `json:"walletId"`
	Addresses []string `json:"addresses"`
}

// DecisionParams identifies the activity to approve or reject.
type DecisionParams struct {
	Fingerprint string `json:"fingerprint"`
}
