// Package store defines the interface for database implementations to the bank and journal microservices.
package store

import (
	"errors"

	"github.com/tarancss/fabbank/lib/block/types"
)

// DB defines required methods for banks and journals
type DB interface {
	// methods for bank service
	SaveDeployment(Deployment) error
	LoadDeployment(name string) (Deployment, error)
	GetTxs(fcn []string) ([]types.Event, error)
	// methods for journal service
	AddTx(types.Event) error
}

// Errors returned
var (
	ErrDataNotFound = errors.New("data was not found in store")
)
