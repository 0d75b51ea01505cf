// Package turnkeytest provides an in-process fake of the Turnkey public API
// for tests.
//
// The fake verifies API key stamps, serves whoami/wallet/user queries from
// in-memory fixtures, and runs submitted activities through a scripted
// status sequence so polling behaviour can be exercised end to end.
package turnkeytest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/anchorageoss/turnkey-sdk-go/activity"
	"github.com/anchorageoss/turnkey-sdk-go/api"
	"github.com/anchorageoss/turnkey-sdk-go/crypto"
	"github.com/anchorageoss/turnkey-sdk-go/stamper"
)

// Status codes used in error bodies, following the gRPC code space.
const (
	codeInvalidArgument = 3
	codeNotFound        = 5
	codeUnauthenticated = 16
)

// User is a fixture user.
type User struct {
	ID    string
	Name  string
	Email string
	Phone string
}

// Wallet is a fixture wallet with its accounts.
type Wallet struct {
	ID       string
	Name     string
	Accounts []api.WalletAccount
}

type forcedFailure struct {
	status int
	body   string
}

type resultFixture struct {
	field string
	value json.RawMessage
}

// Server is a fake Turnkey API backed by httptest.
type Server struct {
	*httptest.Server
	OrganizationID string

	mu         sync.Mutex
	users      map[string]User
	apiKeys    map[string]string
	wallets    []Wallet
	activities map[string]*activity.Activity
	statuses   map[string][]activity.Status
	script     []activity.Status
	results    map[string]resultFixture
	failures   map[string]forcedFailure
	calls      map[string]int

	requests atomic.Int64
}

// NewServer starts a fake API for organizationID and closes it when the
// test finishes.
func NewServer(t testing.TB, organizationID string) *Server {
	t.Helper()

	s := &Server{
		OrganizationID: organizationID,
		users:          map[string]User{},
		apiKeys:        map[string]string{},
		activities:     map[string]*activity.Activity{},
		statuses:       map[string][]activity.Status{},
		results:        map[string]resultFixture{},
		failures:       map[string]forcedFailure{},
		calls:          map[string]int{},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)

	r.Post("/public/v1/query/whoami", s.handleWhoami)
	r.Post("/public/v1/query/list_wallets", s.handleListWallets)
	r.Post("/public/v1/query/list_wallet_accounts", s.handleListWalletAccounts)
	r.Post("/public/v1/query/get_user", s.handleGetUser)
	r.Post("/public/v1/query/get_activity", s.handleGetActivity)
	r.Post("/public/v1/query/get_attestation", s.handleGetAttestation)
	r.Post("/public/v1/submit/{operation}", s.handleSubmit)
	return r
}

// AddUser registers a fixture user.
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddWallet registers a fixture wallet.
func (s *Server) AddWallet(w Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets = append(s.wallets, w)
}

// RegisterAPIKey authorizes a compressed public key for userID. An empty
// userID makes whoami answer with an empty identity.
func (s *Server) RegisterAPIKey(publicKey, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[publicKey] = userID
}

// IssueCredentialBundle creates a session key for userID, authorizes it, and
// returns it encrypted to targetPublicKey.
func (s *Server) IssueCredentialBundle(userID, targetPublicKey string) (string, error) {
	key, err := crypto.GenerateP256Key()
	if err != nil {
		return "", err
	}
	s.RegisterAPIKey(crypto.CompressedPublicKeyHex(&key.PublicKey), userID)
	return crypto.EncryptCredentialBundle(key.D.FillBytes(make([]byte, 32)), targetPublicKey)
}

// ScriptStatuses sets the statuses of the next submitted activity: the first
// is returned by the submission, the rest by successive get_activity calls.
// The last status repeats.
func (s *Server) ScriptStatuses(statuses ...activity.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append([]activity.Status(nil), statuses...)
}

// SetResult sets the result returned when an activity of activityType
// completes.
func (s *Server) SetResult(activityType, resultField string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[activityType] = resultFixture{field: resultField, value: raw}
	return nil
}

// FailPath makes every request to path fail with status and body.
func (s *Server) FailPath(path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = forcedFailure{status: status, body: body}
}

// Calls returns the number of requests received for path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// Requests returns the total number of requests received.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Inc()

		s.mu.Lock()
		s.calls[r.URL.Path]++
		failure, failing := s.failures[r.URL.Path]
		s.mu.Unlock()

		if failing {
			w.WriteHeader(failure.status)
			_, _ = io.WriteString(w, failure.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate verifies the stamp over the body and decodes it into v.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, v any) (userID string, ok bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "unreadable body")
		return "", false
	}

	publicKey, err := stamper.VerifyAPIKeyStamp(r.Header.Get(stamper.HeaderName), body)
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, err.Error())
		return "", false
	}

	s.mu.Lock()
	userID, known := s.apiKeys[publicKey]
	s.mu.Unlock()
	if !known {
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "public key not found")
		return "", false
	}

	if err := json.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
		return "", false
	}
	return userID, true
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	var req api.OrganizationRequest
	userID, ok := s.authenticate(w, r, &req)
	if !ok {
		return
	}

	if userID == "" {
		writeJSON(w, http.StatusOK, api.WhoamiResponse{})
		return
	}

	s.mu.Lock()
	user := s.users[userID]
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, api.WhoamiResponse{
		OrganizationID:   s.OrganizationID,
		OrganizationName: "fake organization",
		UserID:           user.ID,
		Username:         user.Name,
	})
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	var req api.OrganizationRequest
	if _, ok := s.authenticate(w, r, &req); !ok {
		return
	}

	s.mu.Lock()
	resp := api.GetWalletsResponse{Wallets: []api.Wallet{}}
	for _, wallet := range s.wallets {
		resp.Wallets = append(resp.Wallets, api.Wallet{WalletID: wallet.ID, WalletName: wallet.Name})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListWalletAccounts(w http.ResponseWriter, r *http.Request) {
	var req api.GetWalletAccountsRequest
	if _, ok := s.authenticate(w, r, &req); !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wallet := range s.wallets {
		if wallet.ID == req.WalletID {
			accounts := append([]api.WalletAccount{}, wallet.Accounts...)
			writeJSON(w, http.StatusOK, api.GetWalletAccountsResponse{Accounts: accounts})
			return
		}
	}
	writeError(w, http.StatusNotFound, codeNotFound, "wallet not found")
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	var req api.GetUserRequest
	if _, ok := s.authenticate(w, r, &req); !ok {
		return
	}

	s.mu.Lock()
	user, found := s.users[req.UserID]
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, codeNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, api.GetUserResponse{User: api.User{
		UserID:          user.ID,
		UserName:        user.Name,
		UserEmail:       user.Email,
		UserPhoneNumber: user.Phone,
	}})
}

func (s *Server) handleGetAttestation(w http.ResponseWriter, r *http.Request) {
	var req api.AttestationQueryRequest
	if _, ok := s.authenticate(w, r, &req); !ok {
		return
	}
	writeJSON(w, http.StatusOK, api.AttestationQueryResponse{
		AttestationDocument: fmt.Sprintf("attestation:%s:%s", req.EnclaveType, req.PublicKey),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req activity.Request
	if _, ok := s.authenticate(w, r, &req); !ok {
		return
	}
	if req.Type == "" || req.OrganizationID == "" || req.TimestampMs == "" {
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "incomplete activity envelope")
		return
	}

	s.mu.Lock()
	statuses := s.script
	s.script = nil
	if len(statuses) == 0 {
		statuses = []activity.Status{activity.StatusCompleted}
	}

	act := &activity.Activity{
		ID:             uuid.NewString(),
		OrganizationID: req.OrganizationID,
		Type:           req.Type,
		Fingerprint:    uuid.NewString(),
		Intent:         req.Parameters,
	}
	s.activities[act.ID] = act
	s.statuses[act.ID] = statuses
	snapshot := s.advance(act.ID)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, activity.Response{Activity: snapshot})
}

func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	var req activity.GetActivityRequest
	if _, ok := s.authenticate(w, r, &req); !ok {
		return
	}

	s.mu.Lock()
	_, found := s.activities[req.ActivityID]
	var snapshot *activity.Activity
	if found {
		snapshot = s.advance(req.ActivityID)
	}
	s.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, codeNotFound, "activity not found")
		return
	}
	writeJSON(w, http.StatusOK, activity.Response{Activity: snapshot})
}

// advance moves an activity to its next scripted status and returns a fresh
// snapshot. Callers hold s.mu.
func (s *Server) advance(id string) *activity.Activity {
	queue := s.statuses[id]
	status := queue[0]
	if len(queue) > 1 {
		s.statuses[id] = queue[1:]
	}

	act := *s.activities[id]
	act.Status = status
	switch status {
	case activity.StatusCompleted:
		fixture, ok := s.results[act.Type]
		if !ok {
			fixture = resultFixture{field: resultFieldForType(act.Type), value: json.RawMessage(`{}`)}
		}
		act.Result = map[string]json.RawMessage{fixture.field: fixture.value}
	case activity.StatusFailed:
		act.Failure = &activity.Failure{Code: codeInvalidArgument, Message: "activity failed"}
	}
	return &act
}

var versionSuffix = regexp.MustCompile(`_V\d+$`)

// resultFieldForType maps ACTIVITY_TYPE_SIGN_RAW_PAYLOAD_V2 to
// signRawPayloadResult.
func resultFieldForType(activityType string) string {
	name := versionSuffix.ReplaceAllString(strings.TrimPrefix(activityType, "ACTIVITY_TYPE_"), "")
	var b strings.Builder
	for i, word := range strings.Split(strings.ToLower(name), "_") {
		if i > 0 && word != "" {
			word = strings.ToUpper(word[:1]) + word[1:]
		}
		b.WriteString(word)
	}
	return b.String() + "Result"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, map[string]any{"code": code, "message": message, "details": []any{}})
}
