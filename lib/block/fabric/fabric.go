// Package fabric implements the blockchain interface for Hyperledger Fabric networks exposing the peer REST API:
// the registrar endpoint for enrollment, the JSON-RPC 2.0 chaincode endpoint for deploy, invoke and query, and the
// transactions endpoint to learn when an invoke has been committed.
package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/op/go-logging"
	"github.com/powerman/rpc-codec/jsonrpc2"

	"github.com/tarancss/fabbank/lib/block/types"
)

var logger = logging.MustGetLogger("fabric")

// Fabric implements a connection to a Fabric peer and membership service.
type Fabric struct {
	peer   string // base url of the peer
	member string // base url of the membership service
	hc     *http.Client
	rpc    *jsonrpc2.Client // query and invoke
	drpc   *jsonrpc2.Client // deploy
	poll   time.Duration
}

const (
	golang               = 1 // chaincode type
	defaultPoll          = 500 * time.Millisecond
	defaultTimeout       = 30 * time.Second
	defaultDeployTimeout = 120 * time.Second
	statusOK    = "OK"
)

// ErrNoEndpoint is returned when the peer or membership service address is missing.
var ErrNoEndpoint = errors.New("peer and membership service addresses are required")

// chaincodeID names a chaincode by name (development mode) or path.
type chaincodeID struct {
	Name string `json:"name,omitempty"`
	Path string `json:"path,omitempty"`
}

type ctorMsg struct {
	Function string   `json:"function"`
	Args     []string `json:"args"`
}

// chaincodeSpec is the params object of the JSON-RPC chaincode methods.
type chaincodeSpec struct {
	Type          int         `json:"type"`
	ChaincodeID   chaincodeID `json:"chaincodeID"`
	CtorMsg       ctorMsg     `json:"ctorMsg"`
	SecureContext string      `json:"secureContext,omitempty"`
}

// rpcResult is the result object of the JSON-RPC chaincode methods.
type rpcResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type enrollReq struct {
	EnrollID     string `json:"enrollId"`
	EnrollSecret string `json:"enrollSecret"`
}

// restResult is the body replied by the REST endpoints.
type restResult struct {
	OK    string `json:"OK,omitempty"`
	Error string `json:"Error,omitempty"`
}

// Init returns a client for the peer and membership service at the given host:port addresses. poll is the interval
// used to check whether an invoked transaction has been committed. Every request to the peer is bounded by timeout,
// deploys by deployTimeout, so an unanswered call never outlives them.
func Init(peer, memberSrvc string, poll, timeout, deployTimeout time.Duration) (*Fabric, error) {
	if peer == "" || memberSrvc == "" {
		return nil, ErrNoEndpoint
	}

	if poll <= 0 {
		poll = defaultPoll
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if deployTimeout <= 0 {
		deployTimeout = defaultDeployTimeout
	}

	p := baseURL(peer)

	return &Fabric{
		peer:   p,
		member: baseURL(memberSrvc),
		hc:     &http.Client{Timeout: timeout},
		rpc:    jsonrpc2.NewCustomHTTPClient(p+"/chaincode", &http.Client{Timeout: timeout}),
		drpc:   jsonrpc2.NewCustomHTTPClient(p+"/chaincode", &http.Client{Timeout: deployTimeout}),
		poll:   poll,
	}, nil
}

func baseURL(addr string) string {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	return strings.TrimRight(addr, "/")
}

// Close ends the connection.
func (f *Fabric) Close() {
	for _, c := range []*jsonrpc2.Client{f.rpc, f.drpc} {
		if err := c.Close(); err != nil {
			logger.Warningf("Error closing chaincode client: %v", err)
		}
	}

	f.hc.CloseIdleConnections()
}

// Enroll exchanges the one-time secret of a registered user for an identity.
func (f *Fabric) Enroll(ctx context.Context, name, secret string) (types.Identity, error) {
	var id types.Identity

	body, err := json.Marshal(enrollReq{EnrollID: name, EnrollSecret: secret})
	if err != nil {
		return id, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.member+"/registrar", bytes.NewReader(body))
	if err != nil {
		return id, err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := f.hc.Do(req)
	if err != nil {
		return id, fmt.Errorf("cannot reach membership service %s: %w", f.member, err)
	}
	defer resp.Body.Close()

	var res restResult
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return id, fmt.Errorf("bad registrar response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || res.Error != "" {
		return id, fmt.Errorf("%w: %s", types.ErrEnroll, res.Error)
	}

	logger.Infof("[%s] %s", name, res.OK)

	return types.Identity{Name: name, Enrolled: time.Now()}, nil
}

// Deploy installs the chaincode. The Tx completes with the chaincode reference to be used in later calls.
func (f *Fabric) Deploy(ctx context.Context, id types.Identity, req types.DeployRequest) *types.Tx {
	tx := types.NewTx()
	spec := chaincodeSpec{
		Type:          golang,
		ChaincodeID:   chaincodeID{Name: req.Name, Path: req.Path},
		CtorMsg:       ctorMsg{Function: req.Function, Args: req.Args},
		SecureContext: id.Name,
	}

	go func() {
		ref, err := f.call(ctx, f.drpc, "deploy", spec)
		if err != nil {
			tx.Fail(err)

			return
		}

		tx.Complete([]byte(ref))
	}()

	return tx
}

// Query reads chaincode state. The Tx completes with the value replied by the chaincode.
func (f *Fabric) Query(ctx context.Context, id types.Identity, req types.Request) *types.Tx {
	tx := types.NewTx()

	go func() {
		val, err := f.call(ctx, f.rpc, "query", spec(id, req))
		if err != nil {
			tx.Fail(err)

			return
		}

		tx.Complete([]byte(val))
	}()

	return tx
}

// Invoke sends a transaction to the chaincode. The Tx is submitted with the transaction id once the peer accepts
// it, and completes with the same id when the transaction is found committed. Polling stops when ctx is done.
func (f *Fabric) Invoke(ctx context.Context, id types.Identity, req types.Request) *types.Tx {
	tx := types.NewTx()

	go func() {
		txid, err := f.call(ctx, f.rpc, "invoke", spec(id, req))
		if err != nil {
			tx.Fail(err)

			return
		}

		tx.Submit([]byte(txid))
		logger.Debugf("[%s] %s submitted as %s", req.Contract, req.Function, txid)

		t := time.NewTicker(f.poll)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				tx.Fail(ctx.Err())

				return
			case <-tx.Done():
				return
			case <-t.C:
				ok, err := f.committed(ctx, txid)
				if err != nil {
					tx.Fail(err)

					return
				}

				if ok {
					tx.Complete([]byte(txid))

					return
				}
			}
		}
	}()

	return tx
}

func spec(id types.Identity, req types.Request) chaincodeSpec {
	return chaincodeSpec{
		Type:          golang,
		ChaincodeID:   chaincodeID{Name: req.Contract},
		CtorMsg:       ctorMsg{Function: req.Function, Args: req.Args},
		SecureContext: id.Name,
	}
}

// call runs a JSON-RPC chaincode method and returns the message of an OK result. The client timeout ends the request
// left behind when ctx is done first.
func (f *Fabric) call(ctx context.Context, c *jsonrpc2.Client, method string, params chaincodeSpec) (string, error) {
	type reply struct {
		res rpcResult
		err error
	}

	ch := make(chan reply, 1)

	go func() {
		var r reply

		r.err = c.Call(method, params, &r.res)
		ch <- r
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", rpcError(method, r.err)
		}

		if r.res.Status != statusOK {
			return "", fmt.Errorf("%w: %s %s: %s", types.ErrTxRejected, method, r.res.Status, r.res.Message)
		}

		return r.res.Message, nil
	}
}

// rpcError keeps the error data sent by the peer, which is where the chaincode error is described.
func rpcError(method string, err error) error {
	var e *jsonrpc2.Error
	if errors.As(err, &e) && e.Data != nil {
		return fmt.Errorf("%s failure: %s: %v", method, e.Message, e.Data)
	}

	return fmt.Errorf("%s failure: %w", method, err)
}

// committed reports whether the peer knows the transaction.
func (f *Fabric) committed(ctx context.Context, txid string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.peer+"/transactions/"+url.PathEscape(txid), nil)
	if err != nil {
		return false, err
	}

	resp, err := f.hc.Do(req)
	if err != nil {
		return false, fmt.Errorf("cannot reach peer %s: %w", f.peer, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}

	var res restResult
	_ = json.NewDecoder(resp.Body).Decode(&res)

	return false, fmt.Errorf("%w: %s status %d: %s", types.ErrNoTrx, txid, resp.StatusCode, res.Error)
}
