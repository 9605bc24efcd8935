// Package journal implements the journal microservice. The journal consumes the transaction events published by the
// bank service for a chaincode and keeps them in the database, where the bank serves them from its /txs route.
package journal

import (
	"errors"
	"fmt"
	"sync"

	"github.com/op/go-logging"

	"github.com/tarancss/fabbank/lib/metrics"
	"github.com/tarancss/fabbank/lib/msg"
	"github.com/tarancss/fabbank/lib/store"
)

var logger = logging.MustGetLogger("journal")

// ErrNoStore is returned when the journal has no database to record events.
var ErrNoStore = errors.New("journal: no database configured")

// Journal implements a journal service.
type Journal struct {
	contract string
	db       store.DB
	mb       msg.MsgBroker
	m        metrics.Metrics

	stop chan struct{}
	once sync.Once
}

// New instantiates a new journal service for the events of the given chaincode. m may be nil.
func New(contract string, db store.DB, mb msg.MsgBroker, m metrics.Metrics) *Journal {
	if m == nil {
		m = metrics.NewNopMetrics()
	}

	return &Journal{
		contract: contract,
		db:       db,
		mb:       mb,
		m:        m,
		stop:     make(chan struct{}),
	}
}

// Record starts a go routine consuming the chaincode events from the message broker and adding them to the
// database. Events are only acknowledged to the broker once handled, so pending events in the broker queues are
// recorded when the journal starts. The returned channel receives a message when recording ends, either because the
// broker was closed or Stop was called.
func (j *Journal) Record() (<-chan string, error) {
	if j.db == nil {
		return nil, ErrNoStore
	}

	mut := new(sync.Mutex)
	mut.Lock()

	evCh, errCh, err := j.mb.GetEvents(j.contract, mut)
	if err != nil {
		return nil, fmt.Errorf("journal: cannot get events: %w", err)
	}

	ret := make(chan string, 1)

	go func() {
		logger.Infof("[%s] Start listening to events channel", j.contract)

		for {
			select {
			case <-j.stop:
				ret <- "[" + j.contract + "] stopped"

				return
			case e, ok := <-evCh:
				if !ok {
					ret <- "[" + j.contract + "] events channel closed"

					return
				}

				logger.Debugf("[%s] Received event %+v", j.contract, e)

				if err := j.db.AddTx(e); err != nil {
					logger.Errorf("[%s] Error adding event %s to DB: %v", j.contract, e.ID, err)
				} else {
					j.m.IncEvents("journaled", e.Status)
				}

				mut.Unlock()
			case err, ok := <-errCh:
				if !ok {
					errCh = nil

					continue
				}

				logger.Warningf("[%s] Received error %v", j.contract, err)
			}
		}
	}()

	return ret, nil
}

// Stop ends recording. Events not yet acknowledged stay in the broker.
func (j *Journal) Stop() {
	j.once.Do(func() { close(j.stop) })
}
