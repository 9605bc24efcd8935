// Package msg defines the interface for different message brokers.
package msg

import (
	"sync"

	"github.com/tarancss/fabbank/lib/block/types"
)

// MsgBroker carries the transaction events published by the bank service to the journal service.
type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// methods for bank service
	SendEvent(contract string, e types.Event) error

	// methods for journal service
	GetEvents(contract string, mut *sync.Mutex) (<-chan types.Event, <-chan error, error)
}
