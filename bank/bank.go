// Package bank implements the bank microservice.
//
// At startup the service enrolls the admin identity with the network and deploys the bank chaincode with the
// pre-funded seed accounts (see Bootstrap). Only then the RESTful API is served: every request is translated into
// one chaincode query or invoke, and its outcome is replied as an HTML fragment.
package bank

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/op/go-logging"
	"golang.org/x/sync/semaphore"

	"github.com/tarancss/fabbank/lib/block"
	"github.com/tarancss/fabbank/lib/block/types"
	"github.com/tarancss/fabbank/lib/config"
	"github.com/tarancss/fabbank/lib/metrics"
	"github.com/tarancss/fabbank/lib/msg"
	"github.com/tarancss/fabbank/lib/store"
	"github.com/tarancss/fabbank/lib/store/db"
)

var logger = logging.MustGetLogger("bank")

// State of the bootstrap sequence.
type State int

// Bootstrap states, the service only moves forward on success.
const (
	Unenrolled State = iota
	Enrolled
	Deployed
)

func (s State) String() string {
	switch s {
	case Unenrolled:
		return "unenrolled"
	case Enrolled:
		return "enrolled"
	case Deployed:
		return "deployed"
	}

	return "unknown"
}

// Bank contains the data necessary to deliver the service
type Bank struct {
	conf    config.ServiceConfig
	db      store.DB      // optional, keeps deployments and serves journaled transactions
	mb      msg.MsgBroker // optional, receives transaction events
	bc      block.Chain   // blockchain client
	m       metrics.Metrics
	sem     *semaphore.Weighted // bounds chaincode calls in progress
	timeout time.Duration       // per chaincode call

	boot     sync.Mutex // serializes Bootstrap
	mu       sync.RWMutex
	state    State
	id       types.Identity
	ref      string // chaincode reference returned by deploy
	inflight int

	s    *http.Server  // http server
	ss   *http.Server  // https server
	quit chan struct{} // closed when Stop starts, no server is started after that
	sc   chan struct{} // http server channel used for graceful shutdowns
	stop sync.Once
}

// New returns a pointer to a new, unenrolled, Bank service. dbConn, mb and m may be nil.
func New(conf config.ServiceConfig, dbConn store.DB, mb msg.MsgBroker, bc block.Chain, m metrics.Metrics) *Bank {
	if conf.MaxInflight <= 0 {
		conf.MaxInflight = config.MaxInflightDefault
	}

	if conf.TxTimeout <= 0 {
		conf.TxTimeout = config.TxTimeoutDefault
	}

	if conf.DeployTimeout <= 0 {
		conf.DeployTimeout = config.DeployTimeoutDefault
	}

	if m == nil {
		m = metrics.NewNopMetrics()
	}

	return &Bank{
		conf:    conf,
		db:      dbConn,
		mb:      mb,
		bc:      bc,
		m:       m,
		sem:     semaphore.NewWeighted(int64(conf.MaxInflight)),
		timeout: time.Duration(conf.TxTimeout) * time.Second,
		quit:    make(chan struct{}),
		sc:      make(chan struct{}),
	}
}

// State returns the bootstrap state.
func (b *Bank) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.state
}

// Reference returns the deployed chaincode reference, empty until deployed.
func (b *Bank) Reference() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.ref
}

// session returns the identity and chaincode reference to use in chaincode calls.
func (b *Bank) session() (types.Identity, string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.state != Deployed {
		return types.Identity{}, "", ErrNotDeployed
	}

	return b.id, b.ref, nil
}

func (b *Bank) addInflight(n int) {
	b.mu.Lock()
	b.inflight += n
	v := b.inflight
	b.mu.Unlock()

	b.m.SetInflight(v)
}

// Stop shuts down the http servers implementing the RESTful API and closes gracefully the connections to message
// broker, blockchain and database. It is safe to call Stop more than once.
func (b *Bank) Stop() {
	b.stop.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		b.mu.Lock()
		close(b.quit)
		s, ss := b.s, b.ss
		b.mu.Unlock()

		// shutdown http servers, waiting for requests in progress
		if s != nil {
			if err := s.Shutdown(ctx); err != nil {
				logger.Errorf("Error in http server shutdown:%v", err)
			}
		}

		if ss != nil {
			if err := ss.Shutdown(ctx); err != nil {
				logger.Errorf("Error in https server shutdown:%v", err)
			}
		}

		close(b.sc) // close server channels to indicate shutdowns have finished
		// close message broker
		if b.mb != nil {
			if err := b.mb.Close(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("Error closing message broker:%v", err)
			}
		}
		// close blockchain client
		b.bc.Close()
		// close database
		if b.db != nil {
			err := db.Close(b.conf.DBType, b.db)
			logger.Infof("Disconnecting %v database, err:%v", b.conf.DBType, err)
		}
	})
}
