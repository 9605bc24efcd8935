package fabric

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/fabbank/lib/block/types"
)

// mockRequest
type mockRequest struct {
	Version string           `json:"jsonrpc"`
	Method  string           `json:"method"`
	Params  chaincodeSpec    `json:"params"`
	ID      *json.RawMessage `json:"id"`
}

// mockResponse
type mockResponse struct {
	Version string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id"`
	Result  interface{}      `json:"result,omitempty"`
	Error   interface{}      `json:"error,omitempty"`
}

// mockPeer serves the registrar, chaincode and transactions endpoints of a peer. Transactions are reported as
// committed after pending lookups returning 404.
type mockPeer struct {
	pending int32
	lookups int32
	calls   int32
}

func (m *mockPeer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/registrar":
		var req enrollReq
		_ = json.NewDecoder(r.Body).Decode(&req)

		if req.EnrollID != "WebAppAdmin" || req.EnrollSecret != "DJY27pEnl16d" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(restResult{Error: "Login error: identity or token does not match."})

			return
		}

		_ = json.NewEncoder(w).Encode(restResult{OK: "Login successful for user 'WebAppAdmin'."})
	case r.URL.Path == "/chaincode":
		atomic.AddInt32(&m.calls, 1)

		var req mockRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		res := mockResponse{Version: "2.0", ID: req.ID}

		switch {
		case req.Params.SecureContext != "WebAppAdmin":
			res.Error = map[string]interface{}{"code": -32001, "message": "Deployment failure",
				"data": "not enrolled"}
		case req.Method == "deploy":
			res.Result = rpcResult{Status: statusOK, Message: req.Params.ChaincodeID.Name}
		case req.Method == "query" && len(req.Params.CtorMsg.Args) == 1 && req.Params.CtorMsg.Args[0] == "jim-account":
			res.Result = rpcResult{Status: statusOK, Message: "100000"}
		case req.Method == "query":
			res.Error = map[string]interface{}{"code": -32003, "message": "Query failure",
				"data": "Error when querying chaincode: Nil amount"}
		case req.Method == "invoke" && req.Params.CtorMsg.Function == "transfer_funds":
			res.Error = map[string]interface{}{"code": -32003, "message": "Invocation failure",
				"data": "Error when invoking chaincode: network error"}
		case req.Method == "invoke":
			res.Result = rpcResult{Status: statusOK, Message: "tx-" + req.Params.CtorMsg.Args[0]}
		}

		_ = json.NewEncoder(w).Encode(res)
	case strings.HasPrefix(r.URL.Path, "/transactions/"):
		if atomic.AddInt32(&m.lookups, 1) <= atomic.LoadInt32(&m.pending) {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(restResult{Error: "Transaction not found"})

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"txid": strings.TrimPrefix(r.URL.Path, "/transactions/")})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newFabric(t *testing.T, m *mockPeer) *Fabric {
	t.Helper()

	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)

	f, err := Init(srv.URL, strings.TrimPrefix(srv.URL, "http://"), 10*time.Millisecond, time.Second, time.Second)
	require.NoError(t, err)
	t.Cleanup(f.Close)

	return f
}

func TestInit(t *testing.T) {
	_, err := Init("", "0.0.0.0:7054", 0, 0, 0)
	assert.ErrorIs(t, err, ErrNoEndpoint)

	f, err := Init("0.0.0.0:7051/", "https://members:7054", 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "http://0.0.0.0:7051", f.peer)
	assert.Equal(t, "https://members:7054", f.member)
	assert.Equal(t, defaultPoll, f.poll)
	assert.Equal(t, defaultTimeout, f.hc.Timeout)
}

func TestEnroll(t *testing.T) {
	f := newFabric(t, &mockPeer{})

	id, err := f.Enroll(context.Background(), "WebAppAdmin", "DJY27pEnl16d")
	require.NoError(t, err)
	assert.Equal(t, "WebAppAdmin", id.Name)

	_, err = f.Enroll(context.Background(), "WebAppAdmin", "wrong")
	assert.ErrorIs(t, err, types.ErrEnroll)
}

func TestDeployQuery(t *testing.T) {
	f := newFabric(t, &mockPeer{})
	ctx := context.Background()
	id := types.Identity{Name: "WebAppAdmin"}

	ref, err := f.Deploy(ctx, id, types.DeployRequest{Name: "mycc", Function: "init",
		Args: []string{"jim-account", "100000", "jon-account", "100000"}}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mycc", string(ref))

	val, err := f.Query(ctx, id, types.Request{Contract: "mycc", Function: "query",
		Args: []string{"jim-account"}}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100000", string(val))

	_, err = f.Query(ctx, id, types.Request{Contract: "mycc", Function: "query",
		Args: []string{"nobody"}}).Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nil amount")

	_, err = f.Deploy(ctx, types.Identity{Name: "intruder"}, types.DeployRequest{Name: "mycc"}).Wait(ctx)
	assert.Error(t, err)
}

func TestInvoke(t *testing.T) {
	m := &mockPeer{pending: 2}
	f := newFabric(t, m)
	ctx := context.Background()
	id := types.Identity{Name: "WebAppAdmin"}

	tx := f.Invoke(ctx, id, types.Request{Contract: "mycc", Function: "open_account",
		Args: []string{"newacct", "500"}})

	assert.Equal(t, "tx-newacct", string(<-tx.Submitted()))

	res, err := tx.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tx-newacct", string(res))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&m.lookups), int32(3))

	_, err = f.Invoke(ctx, id, types.Request{Contract: "mycc", Function: "transfer_funds",
		Args: []string{"jim-account", "jon-account", "50"}}).Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network error")
}

func TestInvokeNeverCommitted(t *testing.T) {
	f := newFabric(t, &mockPeer{pending: 1 << 30})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := f.Invoke(ctx, types.Identity{Name: "WebAppAdmin"}, types.Request{Contract: "mycc",
		Function: "open_account", Args: []string{"slow", "1"}}).Wait(ctx)
	require.ErrorIs(t, err, types.ErrTimeout)
	assert.Contains(t, err.Error(), "tx-slow")
}

func TestHungPeer(t *testing.T) {
	release := make(chan struct{})

	// reads the request and never replies
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)

		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	f, err := Init(srv.URL, srv.URL, 10*time.Millisecond, 50*time.Millisecond, 50*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(f.Close)

	id := types.Identity{Name: "WebAppAdmin"}
	before := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := f.Query(ctx, id, types.Request{Contract: "mycc", Function: "query", Args: []string{"jim-account"}}).Wait(ctx)
		cancel()
		require.ErrorIs(t, err, types.ErrTimeout)
	}

	// abandoned requests end with the client timeout
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before+5 }, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err = f.Deploy(ctx, id, types.DeployRequest{Name: "mycc", Function: "init"}).Wait(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrTimeout)
	assert.Contains(t, err.Error(), "deploy failure")
}
