package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliance-ledger/internal/compliance"
	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/funds"
	"compliance-ledger/internal/sale"
	"compliance-ledger/internal/storage/memory"
	"compliance-ledger/internal/token"
)

var (
	ownerKey     = domain.DeriveKey("owner")
	validatorKey = domain.DeriveKey("validator")
	aliceKey     = domain.DeriveKey("alice")
	bobKey       = domain.DeriveKey("bob")

	owner     = domain.DeriveAddress("owner")
	validator = domain.DeriveAddress("validator")
	alice     = domain.DeriveAddress("alice")
	bob       = domain.DeriveAddress("bob")
	wallet    = domain.DeriveAddress("wallet")
)

type testEnv struct {
	server    *httptest.Server
	token     *token.Ledger
	sale      *sale.Sale
	whitelist *compliance.Whitelist
	vault     *funds.Vault
}

// newTestEnv deploys a token (fee 10, alice holds 1000) owned by an open sale at rate 10.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	whitelist := compliance.NewWhitelist(domain.DeriveAddress("whitelist"), owner, compliance.NewMemoryMembership(), nil)
	require.NoError(t, whitelist.ApproveInvestorsInBulk(ctx, owner, []domain.Address{alice, bob}))
	vault := funds.NewVault(store, nil)

	tok, err := token.New(token.Options{Address: domain.DeriveAddress("token"), Store: store, Gate: whitelist})
	require.NoError(t, err)
	require.NoError(t, tok.Deploy(ctx, token.Genesis{Owner: owner, Validator: validator, TransferFee: 10}))
	require.NoError(t, tok.Mint(ctx, owner, alice, 1000))

	saleAddr := domain.DeriveAddress("sale")
	require.NoError(t, tok.TransferOwnership(ctx, owner, saleAddr))
	s, err := sale.New(sale.Options{Address: saleAddr, Store: store, Gate: whitelist, Token: tok, Escrow: vault})
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, s.Deploy(ctx, sale.Genesis{
		Owner:     owner,
		Validator: validator,
		Wallet:    wallet,
		Rate:      10,
		StartTime: now.Add(-time.Hour),
		EndTime:   now.Add(time.Hour),
	}))

	router := NewRouter(Options{
		Token:            tok,
		Sale:             s,
		Whitelist:        whitelist,
		Vault:            vault,
		Store:            store,
		DepositAuthority: owner,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{server: server, token: tok, sale: s, whitelist: whitelist, vault: vault}
}

// do sends a request, signed by key when key is not nil, and decodes a JSON response into out.
func (e *testEnv) do(t *testing.T, method, path string, key ed25519.PrivateKey, body any, out any) int {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, e.server.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	if key != nil {
		require.NoError(t, SignRequest(req, key))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	var resp map[string]string
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil, nil, &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{"to": bob, "value": "1"}

	var errResp errorResponse
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/token/transfers", nil, body, &errResp))
	assert.Equal(t, "unauthenticated", errResp.Code)

	// Signed by bob but claiming to be alice.
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/token/transfers", bytes.NewReader(payload))
	require.NoError(t, err)
	require.NoError(t, SignRequest(req, bobKey))
	req.Header.Set(HeaderCaller, alice.String())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Body altered after signing.
	req, err = http.NewRequest(http.MethodPost, env.server.URL+"/token/transfers", bytes.NewReader(payload))
	require.NoError(t, err)
	require.NoError(t, SignRequest(req, aliceKey))
	tampered, err := json.Marshal(map[string]any{"to": bob, "value": "999"})
	require.NoError(t, err)
	req.Body = io.NopCloser(bytes.NewReader(tampered))
	req.ContentLength = int64(len(tampered))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// sendSigned sends body signed by key with the given timestamp and nonce.
func (e *testEnv) sendSigned(t *testing.T, method, path string, key ed25519.PrivateKey, body []byte, issued time.Time, nonce string) int {
	t.Helper()

	timestamp := strconv.FormatInt(issued.Unix(), 10)
	req, err := http.NewRequest(method, e.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(HeaderCaller, domain.AddressFromPublicKey(key.Public().(ed25519.PublicKey)).String())
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, base58.Encode(ed25519.Sign(key, SigningPayload(method, path, timestamp, nonce, body))))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestSignedRequestIsAcceptedOnce(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodPost, "/funds/deposits", ownerKey, map[string]any{"to": alice, "amount": "50"}, nil))

	body, err := json.Marshal(map[string]any{"to": bob, "amount": "10"})
	require.NoError(t, err)
	issued := time.Now()

	assert.Equal(t, http.StatusNoContent,
		env.sendSigned(t, http.MethodPost, "/funds/transfers", aliceKey, body, issued, "n-1"))
	for i := 0; i < 4; i++ {
		assert.Equal(t, http.StatusUnauthorized,
			env.sendSigned(t, http.MethodPost, "/funds/transfers", aliceKey, body, issued, "n-1"))
	}

	bal, err := env.vault.Balance(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), bal)

	// A fresh nonce is a new request.
	assert.Equal(t, http.StatusNoContent,
		env.sendSigned(t, http.MethodPost, "/funds/transfers", aliceKey, body, issued, "n-2"))
	// Nonces are scoped to the caller.
	back, err := json.Marshal(map[string]any{"to": alice, "amount": "5"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent,
		env.sendSigned(t, http.MethodPost, "/funds/transfers", bobKey, back, issued, "n-1"))
}

func TestSignedRequestTimestamp(t *testing.T) {
	env := newTestEnv(t)
	body, err := json.Marshal(map[string]any{"to": bob, "value": "1"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized,
		env.sendSigned(t, http.MethodPost, "/token/transfers", aliceKey, body, time.Now().Add(-time.Hour), "stale"))
	assert.Equal(t, http.StatusUnauthorized,
		env.sendSigned(t, http.MethodPost, "/token/transfers", aliceKey, body, time.Now().Add(time.Hour), "early"))
	assert.Equal(t, http.StatusAccepted,
		env.sendSigned(t, http.MethodPost, "/token/transfers", aliceKey, body, time.Now().Add(-time.Minute), "recent"))
	assert.Equal(t, http.StatusUnauthorized,
		env.sendSigned(t, http.MethodPost, "/token/transfers", aliceKey, body, time.Now(), ""))
}

func TestTransferWorkflow(t *testing.T) {
	env := newTestEnv(t)

	var proposed nonceResponse
	require.Equal(t, http.StatusAccepted,
		env.do(t, http.MethodPost, "/token/transfers", aliceKey, map[string]any{"to": bob, "value": "100"}, &proposed))
	assert.Equal(t, uint64(0), proposed.Nonce)

	var pending pendingTransferResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/token/transfers/0", nil, nil, &pending))
	assert.Equal(t, alice, pending.From)
	assert.Equal(t, uint64(10), pending.Fee)

	var errResp errorResponse
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/token/transfers/0/approve", aliceKey, nil, &errResp))
	assert.Equal(t, "unauthorized", errResp.Code)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/token/transfers/0/approve", validatorKey, nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/token/transfers/0/approve", validatorKey, nil, &errResp))
	assert.Equal(t, "no_such_pending_entry", errResp.Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/token/transfers/0", nil, nil, nil))

	var bal balanceResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/token/balances/"+alice.String(), nil, nil, &bal))
	assert.Equal(t, uint64(890), bal.Balance)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/token/balances/"+bob.String(), nil, nil, &bal))
	assert.Equal(t, uint64(100), bal.Balance)

	var state tokenStateResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/token/", nil, nil, &state))
	assert.Equal(t, uint64(1), state.CurrentNonce)
	assert.Equal(t, uint64(1000), state.TotalSupply)
}

func TestRejectTransfer(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, http.StatusAccepted,
		env.do(t, http.MethodPost, "/token/transfers", aliceKey, map[string]any{"to": bob, "value": "5"}, nil))
	assert.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodPost, "/token/transfers/0/reject", validatorKey, map[string]any{"reason": "3"}, nil))

	var list []pendingTransferResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/token/transfers", nil, nil, &list))
	assert.Empty(t, list)
}

func TestTransferErrors(t *testing.T) {
	env := newTestEnv(t)
	mallory := domain.DeriveAddress("mallory")

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{name: "not whitelisted", body: map[string]any{"to": mallory, "value": "1"}, status: http.StatusForbidden, code: "not_whitelisted"},
		{name: "insufficient", body: map[string]any{"to": bob, "value": "995"}, status: http.StatusConflict, code: "insufficient_balance"},
		{name: "missing recipient", body: map[string]any{"value": "1"}, status: http.StatusBadRequest, code: "invalid_recipient"},
		{name: "bad address", body: map[string]any{"to": "0xdead", "value": "1"}, status: http.StatusBadRequest, code: "bad_request"},
		{name: "unknown field", body: map[string]any{"to": bob, "value": "1", "memo": "x"}, status: http.StatusBadRequest, code: "bad_request"},
		{name: "unquoted amount", body: map[string]any{"to": bob, "value": 1}, status: http.StatusBadRequest, code: "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp errorResponse
			assert.Equal(t, tt.status, env.do(t, http.MethodPost, "/token/transfers", aliceKey, tt.body, &errResp))
			assert.Equal(t, tt.code, errResp.Code)
		})
	}

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/token/transfers/abc", nil, nil, nil))
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/token/balances/abc", nil, nil, nil))
}

func TestTokenAdministration(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/token/fee", validatorKey, map[string]any{"fee": "3"}, nil))
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/token/fee-recipient", validatorKey, map[string]any{"address": bob}, nil))

	// The sale owns the token, so the original owner can no longer mint.
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/token/mint", ownerKey, map[string]any{"to": bob, "amount": "1"}, nil))

	var errResp errorResponse
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/token/compliance-gate", ownerKey, map[string]any{"address": bob}, &errResp))

	var state tokenStateResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/token/", nil, nil, &state))
	assert.Equal(t, uint64(3), state.TransferFee)
}

func TestSaleWorkflow(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusForbidden,
		env.do(t, http.MethodPost, "/funds/deposits", aliceKey, map[string]any{"to": alice, "amount": "50"}, nil))
	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodPost, "/funds/deposits", ownerKey, map[string]any{"to": alice, "amount": "50"}, nil))

	var first, second nonceResponse
	require.Equal(t, http.StatusAccepted,
		env.do(t, http.MethodPost, "/sale/purchases", aliceKey, map[string]any{"beneficiary": alice, "contribution": "4"}, &first))
	require.Equal(t, http.StatusAccepted,
		env.do(t, http.MethodPost, "/sale/purchases", aliceKey, map[string]any{"beneficiary": alice, "contribution": "2"}, &second))

	var pending pendingMintResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/sale/purchases/0", nil, nil, &pending))
	assert.Equal(t, uint64(40), pending.TokenAmount)

	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodPost, "/sale/purchases/0/reject", validatorKey, map[string]any{"reason": "5"}, nil))
	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodPost, "/sale/purchases/1/approve", validatorKey, nil, nil))

	var refund amountResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/sale/refunds/"+alice.String(), nil, nil, &refund))
	assert.Equal(t, uint64(4), refund.Amount)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/sale/claim", aliceKey, nil, &refund))
	assert.Equal(t, uint64(4), refund.Amount)

	var errResp errorResponse
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/sale/claim", aliceKey, nil, &errResp))
	assert.Equal(t, "nothing_to_claim", errResp.Code)

	var bal balanceResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/funds/"+alice.String(), nil, nil, &bal))
	assert.Equal(t, uint64(48), bal.Balance)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/funds/"+wallet.String(), nil, nil, &bal))
	assert.Equal(t, uint64(2), bal.Balance)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/token/balances/"+alice.String(), nil, nil, &bal))
	assert.Equal(t, uint64(1020), bal.Balance)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/sale/finalize", ownerKey, nil, &errResp))
	assert.Equal(t, "sale_not_ended", errResp.Code)

	var state saleStateResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/sale/", nil, nil, &state))
	assert.Equal(t, uint64(2), state.CurrentMintNonce)
	assert.False(t, state.Finalized)
}

func TestWhitelistEndpoints(t *testing.T) {
	env := newTestEnv(t)
	carol := domain.DeriveAddress("carol")

	assert.Equal(t, http.StatusForbidden,
		env.do(t, http.MethodPost, "/whitelist/investors", aliceKey, map[string]any{"addresses": []domain.Address{carol}}, nil))
	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodPost, "/whitelist/investors", ownerKey, map[string]any{"addresses": []domain.Address{carol}}, nil))

	var status investorStatusResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/whitelist/investors/"+carol.String(), nil, nil, &status))
	assert.True(t, status.Approved)

	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodDelete, "/whitelist/investors", ownerKey, map[string]any{"addresses": []domain.Address{carol, bob}}, nil))

	var list addressList
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/whitelist/investors", nil, nil, &list))
	assert.Equal(t, []domain.Address{alice}, list.Addresses)

	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/whitelist/investors", ownerKey, map[string]any{"addresses": []domain.Address{}}, nil))
}

func TestEventsPaging(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, http.StatusAccepted,
		env.do(t, http.MethodPost, "/token/transfers", aliceKey, map[string]any{"to": bob, "value": "1"}, nil))

	var all []map[string]any
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/events", nil, nil, &all))
	require.NotEmpty(t, all)
	last := all[len(all)-1]
	assert.Equal(t, "RecordedPendingTransaction", last["kind"])
	assert.Equal(t, "1", last["value"])

	var page []map[string]any
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/events?after=1&limit=2", nil, nil, &page))
	require.Len(t, page, 2)
	assert.Equal(t, float64(2), page[0]["seq"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/events?limit=0", nil, nil, nil))
}
