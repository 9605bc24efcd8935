package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tarancss/fabbank/lib/block/types"
)

// Chaincode functions called by the API.
const (
	FcnQuery         = "query"
	FcnOpenAccount   = "open_account"
	FcnTransferFunds = "transfer_funds"
)

// Errors returned to client requests.
var (
	ErrNotDeployed = errors.New("chaincode is not deployed")
	ErrBadBody     = errors.New("cannot decode request body")
	ErrBadBalance  = errors.New("balance is not an integer")
	ErrNoStore     = errors.New("no database configured")
)

// Response defines the data structure returned to the client for the JSON routes.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// call describes how a route is translated into a chaincode call. Form values named in params are passed as the
// chaincode arguments and reply formats the result of a successful call.
type call struct {
	route  string
	fcn    string
	params []string
	invoke bool
	reply  func(result []byte) (string, error)
}

// checkBalanceHandler queries the balance of an account.
func (b *Bank) checkBalanceHandler(rw http.ResponseWriter, r *http.Request) {
	b.serve(rw, r, call{
		route:  "checkbalance",
		fcn:    FcnQuery,
		params: []string{"accountname"},
		reply: func(res []byte) (string, error) {
			bal, err := strconv.ParseInt(strings.TrimSpace(string(res)), 10, 64)
			if err != nil {
				return "", fmt.Errorf("%w: %q", ErrBadBalance, res)
			}

			return fmt.Sprintf("Account balance is: $%d", bal), nil
		},
	})
}

// openAccountHandler opens an account with an initial balance.
func (b *Bank) openAccountHandler(rw http.ResponseWriter, r *http.Request) {
	b.serve(rw, r, call{
		route:  "openaccount",
		fcn:    FcnOpenAccount,
		params: []string{"accountname", "initialbalance"},
		invoke: true,
		reply: func(res []byte) (string, error) {
			return "New account opened: " + string(res), nil
		},
	})
}

// transferFundsHandler moves an amount from the source to the destination account.
func (b *Bank) transferFundsHandler(rw http.ResponseWriter, r *http.Request) {
	b.serve(rw, r, call{
		route:  "transferfunds",
		fcn:    FcnTransferFunds,
		params: []string{"source", "destination", "amount"},
		invoke: true,
		reply: func(res []byte) (string, error) {
			return "Funds transferred: " + string(res), nil
		},
	})
}

// serve runs the chaincode call for the request and replies exactly once with the result or the error.
func (b *Bank) serve(rw http.ResponseWriter, r *http.Request, c call) {
	var (
		err  error
		body string
		req  types.Request
	)

	defer func() {
		status, outcome := http.StatusOK, "ok"

		if err != nil {
			switch {
			case errors.Is(err, ErrBadBody):
				status, outcome = http.StatusBadRequest, "bad_request"
			case errors.Is(err, ErrNotDeployed):
				status, outcome = http.StatusServiceUnavailable, "not_deployed"
			case errors.Is(err, types.ErrTimeout):
				status, outcome = http.StatusGatewayTimeout, "timeout"
			default:
				status, outcome = http.StatusBadGateway, "error"
			}

			body = describe(c, req, err)
		}
		// log request
		logger.Infof("httpreq from %v %s args:%v status:%d err:%v", r.RemoteAddr, r.RequestURI, req.Args, status, err)
		b.m.IncRequests(c.route, outcome)
		// reply
		render(rw, status, body, err != nil)
	}()

	args, err := formValues(r, c.params...)
	if err != nil {
		return
	}

	id, ref, err := b.session()
	if err != nil {
		return
	}

	req = types.Request{Contract: ref, Function: c.fcn, Args: args}

	res, err := b.do(r.Context(), id, req, c.invoke)
	if err != nil {
		return
	}

	body, err = c.reply(res)
}

// describe returns the error text replied to the client, naming the failed request.
func describe(c call, req types.Request, err error) string {
	if req.Function == "" {
		return err.Error()
	}

	op := "query"
	if c.invoke {
		op = "invoke"
	}

	tmp, _ := json.Marshal(req)

	return fmt.Sprintf("Failed to %s chaincode: request=%s, error=%v", op, tmp, err)
}

// do issues the chaincode call and waits for its outcome. Calls are bounded by the transaction timeout and by the
// number of calls allowed in progress.
func (b *Bank) do(ctx context.Context, id types.Identity, req types.Request, invoke bool) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: waiting for a free slot: %v", types.ErrTimeout, err)
	}
	defer b.sem.Release(1)

	b.addInflight(1)
	defer b.addInflight(-1)

	start := time.Now()

	var tx *types.Tx
	if invoke {
		tx = b.bc.Invoke(ctx, id, req)
	} else {
		tx = b.bc.Query(ctx, id, req)
	}

	// submitted transactions are only logged
	go func() {
		select {
		case ack := <-tx.Submitted():
			logger.Infof("[%s] submitted %s%v: %s", req.Contract, req.Function, req.Args, ack)
		case <-tx.Done():
		}
	}()

	res, err := tx.Wait(ctx)
	b.m.ObserveCall(req.Function, time.Since(start))
	b.publish(req, tx.Outcome())

	return res, err
}

// publish sends the outcome of a call to the message broker, if any. Events are routed by chaincode name.
func (b *Bank) publish(req types.Request, o types.Outcome) {
	if b.mb == nil {
		return
	}

	e := types.Event{
		ID:       uuid.NewString(),
		Contract: req.Contract,
		Function: req.Function,
		Args:     req.Args,
		Status:   o.Status.String(),
		Result:   string(o.Result),
		TS:       time.Now().Unix(),
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}

	if err := b.mb.SendEvent(b.conf.Chaincode, e); err != nil {
		logger.Errorf("[%s] Error publishing event %s: %v", req.Contract, e.ID, err)

		return
	}

	b.m.IncEvents("published", e.Status)
}

// formValues returns the values of keys from a JSON object body or from the url-encoded form. Missing values are
// returned empty, values are not validated.
func formValues(r *http.Request, keys ...string) ([]string, error) {
	vals := make([]string, len(keys))

	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json" {
		m := map[string]interface{}{}

		dec := json.NewDecoder(r.Body)
		dec.UseNumber()

		if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrBadBody, err)
		}

		for i, k := range keys {
			if v, ok := m[k]; ok && v != nil {
				vals[i] = fmt.Sprint(v)
			}
		}

		return vals, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBody, err)
	}

	for i, k := range keys {
		vals[i] = r.Form.Get(k)
	}

	return vals, nil
}

// homeHandler just replies a welcome message to the client.
func (b *Bank) homeHandler(rw http.ResponseWriter, r *http.Request) {
	logger.Infof("httpreq from %v %s", r.RemoteAddr, r.RequestURI)
	writeJSON(rw, http.StatusOK, Response{Body: "Hello, this is your blockchain bank!"})
}

// deployment is replied by deploymentHandler.
type deployment struct {
	Chaincode string `json:"chaincode"`
	Reference string `json:"reference"`
	Admin     string `json:"admin"`
}

// deploymentHandler replies the deployed chaincode reference and the identity used to call it.
func (b *Bank) deploymentHandler(rw http.ResponseWriter, r *http.Request) {
	id, ref, err := b.session()
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, Response{Error: err.Error()})

		return
	}

	tmp, _ := json.Marshal(deployment{Chaincode: b.conf.Chaincode, Reference: ref, Admin: id.Name})

	logger.Infof("httpreq from %v %s", r.RemoteAddr, r.RequestURI)
	writeJSON(rw, http.StatusOK, Response{Body: string(tmp)})
}

// txsHandler replies the journaled transactions, only those of the chaincode functions given in the fcn query
// parameters if any.
func (b *Bank) txsHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	var evs []types.Event

	defer func() {
		// reply to requester accordingly
		status := http.StatusOK

		if err != nil {
			res.Error = err.Error()
			status = http.StatusBadRequest
		} else {
			tmp, _ := json.Marshal(evs)
			res.Body = string(tmp)
		}
		// log request
		logger.Infof("httpreq from %v %s txs:%d err:%v", r.RemoteAddr, r.RequestURI, len(evs), err)
		writeJSON(rw, status, res)
	}()

	if b.db == nil {
		err = ErrNoStore

		return
	}

	if err = r.ParseForm(); err != nil {
		return
	}

	evs, err = b.db.GetTxs(r.Form["fcn"])
}

func writeJSON(rw http.ResponseWriter, status int, res Response) {
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(res)
}
