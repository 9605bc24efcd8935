// Package types common blockchain types.
package types

import (
	"errors"
	"time"
)

// Identity is the reusable signing context obtained when enrolling a registered user with the membership service.
type Identity struct {
	Name     string    `json:"name"`
	Enrolled time.Time `json:"enrolled"`
}

// Request is a query or invoke call to a deployed chaincode. It is built for every call and never persisted.
type Request struct {
	Contract string   `json:"chaincodeID"` // reference returned by deploy
	Function string   `json:"fcn"`
	Args     []string `json:"args"`
}

// DeployRequest installs a chaincode. Name is used in development mode, Path otherwise.
type DeployRequest struct {
	Name     string   `json:"chaincodeName"`
	Path     string   `json:"chaincodePath,omitempty"`
	Function string   `json:"fcn"`
	Args     []string `json:"args"`
}

// Status of a transaction.
type Status uint8

// Transaction status constants
const (
	TxPending Status = iota
	TxSubmitted
	TxComplete
	TxFailed
)

func (s Status) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxSubmitted:
		return "submitted"
	case TxComplete:
		return "complete"
	case TxFailed:
		return "failed"
	}

	return "unknown"
}

// Event is the record of a finished chaincode call. It is published to the message broker and kept by the journal.
type Event struct {
	ID       string   `json:"id" bson:"_id"`
	Contract string   `json:"contract" bson:"contract"`
	Function string   `json:"fcn" bson:"fcn"`
	Args     []string `json:"args" bson:"args"`
	Status   string   `json:"status" bson:"status"`
	Result   string   `json:"result,omitempty" bson:"result,omitempty"`
	Error    string   `json:"error,omitempty" bson:"error,omitempty"`
	TS       int64    `json:"ts" bson:"ts"`
}

// Error codes.
var (
	ErrTimeout     = errors.New("transaction timed out")
	ErrNotEnrolled = errors.New("identity is not enrolled")
	ErrEnroll      = errors.New("enrollment rejected")
	ErrTxRejected  = errors.New("transaction rejected")
	ErrNoTrx       = errors.New("transaction not found")
)
