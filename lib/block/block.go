// Package block defines the interface required for the blockchain or network connection.
package block

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tarancss/fabbank/lib/block/fabric"
	"github.com/tarancss/fabbank/lib/block/types"
	"github.com/tarancss/fabbank/lib/config"
)

// Chain is an interface that contains the calls a web application needs against a permissioned network: enroll an
// identity once, then deploy, query and invoke chaincodes with it. Deploy, Query and Invoke return immediately; the
// progress of the call is notified through the returned Tx.
type Chain interface {
	Enroll(ctx context.Context, name, secret string) (types.Identity, error)
	Deploy(ctx context.Context, id types.Identity, req types.DeployRequest) *types.Tx
	Query(ctx context.Context, id types.Identity, req types.Request) *types.Tx
	Invoke(ctx context.Context, id types.Identity, req types.Request) *types.Tx
	Close()
}

// ErrUnknownChain is returned for chain types without an implementation.
var ErrUnknownChain = errors.New("blockchain interface not defined")

// Init returns the client for the network read from the config. Requests to the network are bounded by the
// transaction and deploy timeouts.
func Init(conf config.ServiceConfig) (Chain, error) {
	bc := conf.Chain

	switch bc.Type {
	case "fabric", "":
		f, err := fabric.Init(bc.Peer, bc.MemberSrvc, time.Duration(bc.Poll)*time.Millisecond,
			time.Duration(conf.TxTimeout)*time.Second, time.Duration(conf.DeployTimeout)*time.Second)
		if err != nil {
			return nil, err
		}

		return f, nil
	}

	return nil, fmt.Errorf("%w for %s", ErrUnknownChain, bc.Type)
}
