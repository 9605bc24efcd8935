package types

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Outcome is the final result of a transaction: Result when completed, Err when failed.
type Outcome struct {
	Status Status
	Result []byte
	Err    error
}

// Tx notifies the progress of a chaincode call. Invokes are first submitted (accepted for ordering) and later
// completed; queries and deploys complete directly. Complete and Fail are terminal and only the first one counts.
type Tx struct {
	submitted chan []byte
	done      chan struct{}
	once      sync.Once
	sonce     sync.Once

	mu      sync.Mutex
	ack     []byte
	acked   bool
	outcome Outcome
}

// NewTx returns a pending transaction notifier.
func NewTx() *Tx {
	return &Tx{
		submitted: make(chan []byte, 1),
		done:      make(chan struct{}),
	}
}

// Submit records that the network accepted the transaction, ack usually being the transaction id. It is ignored
// after the first call or once the transaction is finished.
func (t *Tx) Submit(ack []byte) {
	t.sonce.Do(func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		if t.outcome.Status == TxComplete || t.outcome.Status == TxFailed {
			return
		}

		t.ack, t.acked = ack, true
		t.outcome.Status = TxSubmitted
		t.submitted <- ack
	})
}

// Complete finishes the transaction with the given result.
func (t *Tx) Complete(result []byte) {
	t.finish(Outcome{Status: TxComplete, Result: result})
}

// Fail finishes the transaction with the given error.
func (t *Tx) Fail(err error) {
	t.finish(Outcome{Status: TxFailed, Err: err})
}

func (t *Tx) finish(o Outcome) {
	t.once.Do(func() {
		t.mu.Lock()
		t.outcome = o
		t.mu.Unlock()
		close(t.done)
	})
}

// Submitted returns a channel that receives the acknowledgement when the transaction is submitted.
func (t *Tx) Submitted() <-chan []byte {
	return t.submitted
}

// Done returns a channel that is closed when the transaction completes or fails.
func (t *Tx) Done() <-chan struct{} {
	return t.done
}

// Ack returns the submission acknowledgement, if any.
func (t *Tx) Ack() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.ack, t.acked
}

// Outcome returns the current state of the transaction.
func (t *Tx) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.outcome
}

// Wait blocks until the transaction finishes or ctx is done, in which case the transaction is failed with the
// context error. Context errors are returned wrapped in ErrTimeout, naming the transaction id when it had been
// submitted.
func (t *Tx) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		t.Fail(ctx.Err())
	}

	o := t.Outcome()
	if o.Err != nil && (errors.Is(o.Err, context.DeadlineExceeded) || errors.Is(o.Err, context.Canceled)) {
		if ack, ok := t.Ack(); ok {
			return nil, fmt.Errorf("%w: transaction %s was submitted but not confirmed: %v", ErrTimeout, ack, o.Err)
		}

		return nil, fmt.Errorf("%w: %v", ErrTimeout, o.Err)
	}

	return o.Result, o.Err
}
