package approvalapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesmerverse/maci-keyvault/internal/broker"
	"github.com/mesmerverse/maci-keyvault/internal/keystore"
	"github.com/mesmerverse/maci-keyvault/internal/metrics"
	"github.com/mesmerverse/maci-keyvault/internal/vaulterr"
)

type fakeKeys struct {
	records []keystore.Record
	err     error
}

func (f fakeKeys) ListKeyPairs(ctx context.Context) ([]keystore.Record, error) {
	return f.records, f.err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func setupServer(t *testing.T, keys Keys, ready func() bool) (*httptest.Server, *broker.Broker) {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b := broker.New(broker.Options{Indicator: m})

	s := NewServer(Config{
		Token:     testToken,
		Version:   "test",
		Approvals: b,
		Keys:      keys,
		Gatherer:  reg,
		Ready:     ready,
	})
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return ts, b
}

const testToken = "operator-secret"

// call sends an authenticated request to the /v1 API
func call(t *testing.T, method, url string) *http.Response {
	t.Helper()
	return callWithToken(t, method, url, testToken)
}

func callWithToken(t *testing.T, method, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestListAndApprove(t *testing.T) {
	ts, b := setupServer(t, fakeKeys{}, nil)

	ticket, err := b.Enqueue(broker.ActionSignMessage, map[string]any{"publicKey": "pk", "message": "vote:yes"})
	require.NoError(t, err)

	resp := call(t, http.MethodGet, ts.URL+"/v1/requests")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	require.True(t, env.Success)

	var list []broker.Request
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, ticket.ID, list[0].ID)
	assert.Equal(t, broker.ActionSignMessage, list[0].Action)

	resp = call(t, http.MethodPost, ts.URL+"/v1/requests/"+ticket.ID+"/approve")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeEnvelope(t, resp).Success)

	d, err := ticket.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Approved())
	assert.Equal(t, 0, b.Pending())

	// Second resolution of the same id is a 404.
	resp = call(t, http.MethodPost, ts.URL+"/v1/requests/"+ticket.ID+"/reject")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Request not found", decodeEnvelope(t, resp).Error)
}

func TestReject(t *testing.T) {
	ts, b := setupServer(t, fakeKeys{}, nil)
	ticket, _ := b.Enqueue(broker.ActionGenerateKeypair, nil)

	resp := call(t, http.MethodPost, ts.URL+"/v1/requests/"+ticket.ID+"/reject")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	d, err := ticket.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, broker.StateRejected, d.State)
}

func TestListKeys(t *testing.T) {
	ts, _ := setupServer(t, fakeKeys{records: []keystore.Record{{PublicKey: "pk", PrivateKey: "blob", Status: keystore.StatusActive}}}, nil)

	resp := call(t, http.MethodGet, ts.URL+"/v1/keys")
	env := decodeEnvelope(t, resp)
	require.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"publicKey":"pk"`)

	ts, _ = setupServer(t, fakeKeys{err: vaulterr.Storage("keystore.list", errors.New("disk"))}, nil)
	resp = call(t, http.MethodGet, ts.URL+"/v1/keys")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "storage operation failed", decodeEnvelope(t, resp).Error)
}

func TestResolveRequiresToken(t *testing.T) {
	ts, b := setupServer(t, fakeKeys{}, nil)
	ticket, err := b.Enqueue(broker.ActionSignMessage, map[string]any{"publicKey": "pk", "message": "vote:yes"})
	require.NoError(t, err)

	for _, token := range []string{"", "wrong-token"} {
		resp := callWithToken(t, http.MethodPost, ts.URL+"/v1/requests/"+ticket.ID+"/approve", token)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "token %q", token)
		assert.Equal(t, "Unauthorized", decodeEnvelope(t, resp).Error)

		resp = callWithToken(t, http.MethodGet, ts.URL+"/v1/requests", token)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}

	// Nothing was resolved.
	assert.Equal(t, 1, b.Pending())
}

func TestEmptyTokenRefusesEverything(t *testing.T) {
	b := broker.New(broker.Options{})
	ts := httptest.NewServer(NewServer(Config{Approvals: b, Keys: fakeKeys{}}).Routes())
	t.Cleanup(ts.Close)

	resp := callWithToken(t, http.MethodGet, ts.URL+"/v1/requests", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = callWithToken(t, http.MethodGet, ts.URL+"/v1/requests", " ")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestListenAddressDefaultsToLoopback(t *testing.T) {
	s := NewServer(Config{Port: 9090})
	assert.Equal(t, "127.0.0.1:9090", s.server.Addr)

	s = NewServer(Config{ListenAddr: "0.0.0.0", Port: 9090})
	assert.Equal(t, "0.0.0.0:9090", s.server.Addr)
}

func TestHealthAndReady(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	ts, b := setupServer(t, fakeKeys{}, up.Load)
	_, _ = b.Enqueue(broker.ActionGenerateKeypair, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.True(t, status.Healthy)
	assert.Equal(t, 1, status.Pending)
	assert.Equal(t, "test", status.Version)

	up.Store(false)
	resp, err = http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "not ready", string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	ts, b := setupServer(t, fakeKeys{}, nil)
	_, _ = b.Enqueue(broker.ActionGenerateKeypair, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "keyvault_pending_requests 1"), string(body))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(vaulterr.Validation("op", "bad")))
	assert.Equal(t, http.StatusConflict, statusFor(vaulterr.New(vaulterr.KindState, "op", "discarded")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("plain")))
}
