// Package db implements the opening and graceful closing of database connections.
package db

import (
	"errors"
	"fmt"

	"github.com/tarancss/fabbank/lib/store"
	"github.com/tarancss/fabbank/lib/store/mongo"
	"github.com/tarancss/fabbank/lib/store/postgres"
)

const (
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
)

// ErrUnknownDB is returned for database types without an implementation.
var ErrUnknownDB = errors.New("unknown database type")

// New returns a new database connection according to the options (database type).
func New(options, connection string) (store.DB, error) {
	switch options {
	case MONGODB:
		m, err := mongo.New(connection)
		if err != nil {
			return nil, err
		}

		return m, nil
	case POSTGRES:
		p, err := postgres.New(connection)
		if err != nil {
			return nil, err
		}

		return p, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownDB, options)
}

// Close gracefully closes the database connection. Connections not opened by New are left untouched.
func Close(options string, dh store.DB) error {
	switch d := dh.(type) {
	case *mongo.Mongo:
		return d.CloseMongo()
	case *postgres.Postgres:
		return d.ClosePostgres()
	}

	return nil
}
